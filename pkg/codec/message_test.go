package codec_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/internal/testutil"
	"github.com/LSTS/neptus-sub053/pkg/codec"
)

func TestNewMessage_Validation(t *testing.T) {
	tests := []struct {
		name   string
		abbrev string
		fields codec.Fields
	}{
		{"unknown field", "CpuUsage", codec.Fields{"load": codec.Uint(1)}},
		{"uint8 overflow", "CpuUsage", codec.Fields{"value": codec.Uint(256)}},
		{"negative into unsigned", "CpuUsage", codec.Fields{"value": codec.Int(-1)}},
		{"int16 overflow", "Rpm", codec.Fields{"value": codec.Int(40000)}},
		{"text into number", "Rpm", codec.Fields{"value": codec.Text("12")}},
		{"number into text", "EntityParameter", codec.Fields{"name": codec.Int(1)}},
		{"float into integer", "CpuUsage", codec.Fields{"value": codec.Float(1.5)}},
		{"null in message list", "SetEntityParameters", codec.Fields{"params": codec.List(nil)}},
		{"inline outside its group", "PlanManeuver", codec.Fields{"data": codec.Inline(codec.MustNewMessage(mustDef(t, "Heartbeat"), nil))}},
		{"list of the wrong type", "SetEntityParameters", codec.Fields{"params": codec.List(codec.MustNewMessage(mustDef(t, "Heartbeat"), nil))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.NewMessage(mustDef(t, tt.abbrev), tt.fields)
			assert.ErrorIs(t, err, codec.ErrFieldMismatch)
		})
	}
}

func TestNewMessage_Defaults(t *testing.T) {
	m, err := codec.NewMessage(mustDef(t, "Announce"), codec.Fields{"sys_name": codec.Text("x")})
	require.NoError(t, err)

	assert.Equal(t, uint16(151), m.ID())
	assert.Equal(t, uint16(151), m.Header().MgID)
	assert.Equal(t, "x", m.Text("sys_name"))
	assert.Equal(t, uint64(0), m.Uint("owner"))
	assert.Equal(t, 0.0, m.Float("lat"))
	assert.Equal(t, 7, m.NumFields())

	_, ok := m.Get("missing")
	assert.False(t, ok)
}

func TestMessage_WithIsCopyOnWrite(t *testing.T) {
	orig := testutil.Msg(t, "Temperature", 1, 1, codec.Fields{"value": codec.Float(10)})

	changed, err := orig.With("value", codec.Float(20))
	require.NoError(t, err)
	assert.Equal(t, 10.0, orig.Float("value"))
	assert.Equal(t, 20.0, changed.Float("value"))
	assert.Equal(t, orig.Header(), changed.Header())

	_, err = orig.With("nope", codec.Float(1))
	assert.ErrorIs(t, err, codec.ErrFieldMismatch)
}

func TestNewMessage_AcceptsConstrainedMessages(t *testing.T) {
	g := codec.MustNewMessage(mustDef(t, "Goto"), nil)
	hb := codec.MustNewMessage(mustDef(t, "Heartbeat"), nil)

	m, err := codec.NewMessage(mustDef(t, "PlanManeuver"), codec.Fields{
		"data":          codec.Inline(g),
		"start_actions": codec.List(hb, g),
	})
	require.NoError(t, err)
	assert.Equal(t, "Goto", m.Inline("data").Abbrev())
	assert.Len(t, m.List("start_actions"), 2)

	_, err = m.With("data", codec.Inline(hb))
	assert.ErrorIs(t, err, codec.ErrFieldMismatch)
}

func TestNewMessage_CopiesCallerBuffers(t *testing.T) {
	buf := []byte{1, 2, 3}
	m := testutil.Msg(t, "DevDataBinary", 1, 1, codec.Fields{"value": codec.Raw(buf)})
	buf[0] = 0xFF
	assert.Equal(t, []byte{1, 2, 3}, m.Raw("value"))

	other := []byte{4, 5}
	w, err := m.With("value", codec.Raw(other))
	require.NoError(t, err)
	other[1] = 0xFF
	assert.Equal(t, []byte{4, 5}, w.Raw("value"))

	param := mustDef(t, "EntityParameter")
	list := []*codec.Message{
		codec.MustNewMessage(param, codec.Fields{"name": codec.Text("a")}),
		codec.MustNewMessage(param, codec.Fields{"name": codec.Text("b")}),
	}
	sp := testutil.Msg(t, "SetEntityParameters", 1, 1, codec.Fields{"params": codec.List(list...)})
	list[0] = list[1]
	assert.Equal(t, "a", sp.List("params")[0].Text("name"))
}

func TestMessage_WithHeaderKeepsType(t *testing.T) {
	m := testutil.Msg(t, "Temperature", 1, 1, nil)
	h := m.WithHeader(codec.Header{MgID: 999, Timestamp: 5, Src: 3}).Header()
	assert.Equal(t, uint16(263), h.MgID)
	assert.Equal(t, 5.0, h.Timestamp)
	assert.Equal(t, uint16(3), h.Src)
}

func TestMessage_Equal(t *testing.T) {
	a := testutil.Msg(t, "Temperature", 1, 1, codec.Fields{"value": codec.Float(math.NaN())})
	b := testutil.Msg(t, "Temperature", 1, 1, codec.Fields{"value": codec.Float(math.NaN())})
	assert.True(t, a.Equal(b), "NaN payloads compare by bit pattern")

	c := testutil.Msg(t, "Temperature", 2, 1, codec.Fields{"value": codec.Float(math.NaN())})
	assert.False(t, a.Equal(c), "timestamps differ")

	d := testutil.Msg(t, "CpuUsage", 1, 1, nil)
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

func TestMessage_EnumsAndBitfields(t *testing.T) {
	es := testutil.Msg(t, "EntityState", 1, 1, codec.Fields{"state": codec.Uint(2), "flags": codec.Uint(1)})
	name, ok := es.EnumName("state")
	require.True(t, ok)
	assert.Equal(t, "FAULT", name)
	assert.Equal(t, []string{"HUMAN_INTERVENTION"}, es.Flags("flags"))

	cl := testutil.Msg(t, "ControlLoops", 1, 1, codec.Fields{"mask": codec.Uint(0x5)})
	assert.ElementsMatch(t, []string{"PATH", "ALTITUDE"}, cl.Flags("mask"))

	_, ok = es.EnumName("description")
	assert.False(t, ok)
}

func TestMessage_MarshalJSON(t *testing.T) {
	m := testutil.Msg(t, "LogBookEntry", 12.5, 0x0801, codec.Fields{
		"type": codec.Uint(1),
		"text": codec.Text("low battery"),
	})

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "LogBookEntry", got["abbrev"])
	assert.Equal(t, 103.0, got["mgid"])
	assert.Equal(t, 12.5, got["timestamp"])
	assert.Equal(t, float64(0x0801), got["src"])
	assert.Equal(t, "low battery", got["text"])
	assert.Equal(t, 1.0, got["type"])
}

func TestMessage_String(t *testing.T) {
	m := testutil.Msg(t, "EntityParameter", 1, 1, codec.Fields{"name": codec.Text("a"), "value": codec.Text("b")})
	assert.Equal(t, `EntityParameter{name="a", value="b"}`, m.String())
}
