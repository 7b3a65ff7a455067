package codec_test

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/internal/testutil"
	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// rawFrame assembles a frame by hand so tests can produce layouts the
// encoder never would.
func rawFrame(order binary.ByteOrder, mgid uint16, ts float64, payload []byte) []byte {
	buf := make([]byte, codec.HeaderSize+len(payload)+codec.FooterSize)
	order.PutUint16(buf[0:], schema.DefaultSyncNumber)
	order.PutUint16(buf[2:], mgid)
	order.PutUint16(buf[4:], uint16(len(payload)))
	order.PutUint64(buf[6:], math.Float64bits(ts))
	order.PutUint16(buf[14:], 0x0801)
	buf[16] = 4
	order.PutUint16(buf[17:], 0xFFFF)
	buf[19] = 0xFF
	copy(buf[codec.HeaderSize:], payload)
	end := codec.HeaderSize + len(payload)
	order.PutUint16(buf[end:], codec.CRC16(buf[:end]))
	return buf
}

// populated fills every field of def with a non-zero value of its kind.
func populated(t *testing.T, def *schema.MessageDef) *codec.Message {
	reg := testutil.Registry(t)
	hb, _ := reg.Lookup("Heartbeat")
	param, _ := reg.Lookup("EntityParameter")

	fields := codec.Fields{}
	for _, f := range def.Fields {
		switch {
		case f.Kind.IsSigned():
			fields[f.Abbrev] = codec.Int(-5)
		case f.Kind.IsUnsigned():
			fields[f.Abbrev] = codec.Uint(7)
		case f.Kind.IsFloat():
			fields[f.Abbrev] = codec.Float(1.25)
		case f.Kind == schema.KindPlainText:
			fields[f.Abbrev] = codec.Text("abc=1;def=2")
		case f.Kind == schema.KindRawData:
			fields[f.Abbrev] = codec.Raw([]byte{0xDE, 0xAD, 0xBE, 0xEF})
		case f.Kind == schema.KindMessage:
			inner := hb
			if len(f.Allowed) > 0 {
				inner, _ = reg.Lookup(f.Allowed[0])
			}
			fields[f.Abbrev] = codec.Inline(codec.MustNewMessage(inner, nil))
		case f.Kind == schema.KindMessageList:
			fields[f.Abbrev] = codec.List(
				codec.MustNewMessage(param, codec.Fields{"name": codec.Text("a"), "value": codec.Text("1")}),
				codec.MustNewMessage(param, codec.Fields{"name": codec.Text("b"), "value": codec.Text("2")}),
			)
		}
	}
	m, err := codec.NewMessage(def, fields)
	require.NoError(t, err)
	return m.WithHeader(codec.Header{Timestamp: 1718000000.125, Src: 0x0801, SrcEnt: 4, Dst: 0x4001, DstEnt: 0xFF})
}

func TestCodec_RoundTripEverySchemaMessage(t *testing.T) {
	reg := testutil.Registry(t)
	c := codec.NewCodec(reg)

	for _, def := range reg.Messages() {
		t.Run(def.Abbrev, func(t *testing.T) {
			m := populated(t, def)

			frame, err := c.Encode(m)
			require.NoError(t, err)

			back, err := c.Decode(frame)
			require.NoError(t, err)
			assert.True(t, m.Equal(back), "want %s\ngot  %s", m, back)
			assert.Equal(t, len(frame)-codec.HeaderSize-codec.FooterSize, int(back.Header().Size))
		})
	}
}

func TestCodec_RoundTripValues(t *testing.T) {
	reg := testutil.Registry(t)

	t.Run("fp32 rounding", func(t *testing.T) {
		m := testutil.Msg(t, "Temperature", 1.0, 1, codec.Fields{"value": codec.Float(0.1)})
		back, err := codec.Decode(testutil.Frame(t, m), reg)
		require.NoError(t, err)
		assert.Equal(t, float64(float32(0.1)), back.Float("value"))
		assert.True(t, m.Equal(back))
	})

	t.Run("integer extremes", func(t *testing.T) {
		m := testutil.Msg(t, "ClockSample", 1.0, 1, codec.Fields{
			"seq":     codec.Int(math.MinInt64),
			"drift":   codec.Int(math.MaxInt32),
			"quality": codec.Int(math.MinInt8),
			"window":  codec.Uint(math.MaxUint32),
		})
		back, err := codec.Decode(testutil.Frame(t, m), reg)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MinInt64), back.Int("seq"))
		assert.Equal(t, int64(math.MaxInt32), back.Int("drift"))
		assert.Equal(t, int64(math.MinInt8), back.Int("quality"))
		assert.Equal(t, uint64(math.MaxUint32), back.Uint("window"))
	})

	t.Run("null inline message", func(t *testing.T) {
		m := testutil.Msg(t, "PlanManeuver", 1.0, 1, codec.Fields{"maneuver_id": codec.Text("goto1")})
		back, err := codec.Decode(testutil.Frame(t, m), reg)
		require.NoError(t, err)
		assert.Nil(t, back.Inline("data"))
		assert.Empty(t, back.List("start_actions"))
		assert.True(t, m.Equal(back))
	})

	t.Run("nested inline message keeps its fields", func(t *testing.T) {
		gotoDef, _ := reg.Lookup("Goto")
		g := codec.MustNewMessage(gotoDef, codec.Fields{"lat": codec.Float(0.71), "z": codec.Float(2), "z_units": codec.Uint(1)})
		m := testutil.Msg(t, "PlanManeuver", 1.0, 1, codec.Fields{"maneuver_id": codec.Text("g"), "data": codec.Inline(g)})
		back, err := codec.Decode(testutil.Frame(t, m), reg)
		require.NoError(t, err)
		inner := back.Inline("data")
		require.NotNil(t, inner)
		assert.Equal(t, "Goto", inner.Abbrev())
		assert.Equal(t, 0.71, inner.Float("lat"))
		name, ok := inner.EnumName("z_units")
		assert.True(t, ok)
		assert.Equal(t, "DEPTH", name)
	})

	t.Run("empty text and data", func(t *testing.T) {
		m := testutil.Msg(t, "DevDataBinary", 1.0, 1, nil)
		back, err := codec.Decode(testutil.Frame(t, m), reg)
		require.NoError(t, err)
		assert.Empty(t, back.Raw("value"))
	})
}

func TestCodec_DecodeIgnoresBytesAfterFrame(t *testing.T) {
	m := testutil.Msg(t, "CpuUsage", 5.0, 1, codec.Fields{"value": codec.Uint(42)})
	frame := append(testutil.Frame(t, m), 0x01, 0x02, 0x03)

	back, err := codec.Decode(frame, testutil.Registry(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), back.Uint("value"))
}

func TestCodec_DecodeTruncated(t *testing.T) {
	m := populated(t, mustDef(t, "Announce"))
	frame := testutil.Frame(t, m)

	for n := 0; n < len(frame); n++ {
		_, err := codec.Decode(frame[:n], testutil.Registry(t))
		require.ErrorIs(t, err, codec.ErrTruncated, "prefix of %d bytes", n)
	}
}

func TestCodec_DecodeDetectsEveryBitFlip(t *testing.T) {
	m := populated(t, mustDef(t, "EstimatedState"))
	frame := testutil.Frame(t, m)

	for i := 2; i < len(frame); i++ {
		if i == 4 || i == 5 {
			// size field: flipping it changes where the frame ends
			continue
		}
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[i] ^= 1 << bit
			_, err := codec.Decode(corrupt, testutil.Registry(t))
			require.ErrorIs(t, err, codec.ErrBadChecksum, "byte %d bit %d", i, bit)
		}
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	reg := testutil.Registry(t)

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{
			name:  "bad sync",
			frame: append([]byte{0x12, 0x34}, rawFrame(binary.LittleEndian, 7, 1.0, []byte{1})[2:]...),
			want:  codec.ErrBadSync,
		},
		{
			name:  "unknown type",
			frame: rawFrame(binary.LittleEndian, 9999, 1.0, []byte{1, 2, 3}),
			want:  codec.ErrUnknownType,
		},
		{
			name:  "payload shorter than layout",
			frame: rawFrame(binary.LittleEndian, 7, 1.0, nil),
			want:  codec.ErrFieldMismatch,
		},
		{
			name:  "text length overruns payload",
			frame: rawFrame(binary.LittleEndian, 802, 1.0, []byte{0x10, 0x00, 'a'}),
			want:  codec.ErrFieldMismatch,
		},
		{
			name:  "list count overruns payload",
			frame: rawFrame(binary.LittleEndian, 806, 1.0, []byte{0x00, 0x00, 0xE8, 0x03, 0x22, 0x03}),
			want:  codec.ErrFieldMismatch,
		},
		{
			name:  "unknown inline type",
			frame: rawFrame(binary.LittleEndian, 552, 1.0, []byte{0x00, 0x00, 0x0F, 0x27, 0x00, 0x00, 0x00, 0x00}),
			want:  codec.ErrUnknownType,
		},
		{
			name:  "null entry in list",
			frame: rawFrame(binary.LittleEndian, 806, 1.0, []byte{0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF}),
			want:  codec.ErrFieldMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.frame, reg)
			require.ErrorIs(t, err, tt.want)

			var ce *codec.CodecError
			require.ErrorAs(t, err, &ce)
			assert.NotEmpty(t, ce.Error())
		})
	}
}

func TestCodec_DecodeExtraTrailingField(t *testing.T) {
	// A newer schema appended a field to CpuUsage; older readers skip it.
	frame := rawFrame(binary.LittleEndian, 7, 12.5, []byte{55, 0xAA, 0xBB, 0xCC, 0xDD})

	m, err := codec.Decode(frame, testutil.Registry(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(55), m.Uint("value"))
	assert.Equal(t, 12.5, m.Timestamp())
	assert.Equal(t, uint16(5), m.Header().Size)
}

func TestCodec_DecodeBigEndianFrame(t *testing.T) {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(0xFB2E)) // -1234
	frame := rawFrame(binary.BigEndian, 250, 1718000000.5, payload)

	m, err := codec.Decode(frame, testutil.Registry(t))
	require.NoError(t, err)
	assert.Equal(t, "Rpm", m.Abbrev())
	assert.Equal(t, int64(-1234), m.Int("value"))

	h := m.Header()
	assert.Equal(t, 1718000000.5, h.Timestamp)
	assert.Equal(t, uint16(0x0801), h.Src)
	assert.Equal(t, uint8(4), h.SrcEnt)
	assert.Equal(t, uint16(0xFFFF), h.Dst)

	// Re-encoding always produces a little-endian frame.
	le := testutil.Frame(t, m)
	assert.Equal(t, []byte{0x54, 0xFE}, le[:2])
}

func TestCodec_PeekHeader(t *testing.T) {
	m := testutil.Msg(t, "Temperature", 42.0, 0x0801, codec.Fields{"value": codec.Float(3)})
	frame := testutil.Frame(t, m)

	h, order, total, err := codec.PeekHeader(frame, schema.DefaultSyncNumber)
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian, order)
	assert.Equal(t, len(frame), total)
	assert.Equal(t, uint16(263), h.MgID)
	assert.Equal(t, uint16(4), h.Size)
	assert.Equal(t, 42.0, h.Timestamp)

	_, _, _, err = codec.PeekHeader(frame[:10], schema.DefaultSyncNumber)
	assert.ErrorIs(t, err, codec.ErrTruncated)
}

func TestCodec_EncodeErrors(t *testing.T) {
	reg := testutil.Registry(t)

	t.Run("type missing from registry", func(t *testing.T) {
		other := schema.NewMessageDef(4000, "Private", schema.FieldDef{Abbrev: "x", Kind: schema.KindUInt8})
		m := codec.MustNewMessage(other, codec.Fields{"x": codec.Uint(1)})
		_, err := codec.Encode(m, reg)
		assert.ErrorIs(t, err, codec.ErrUnknownType)
	})

	t.Run("layout differs from registry", func(t *testing.T) {
		other := schema.NewMessageDef(7, "CpuUsage", schema.FieldDef{Abbrev: "value", Kind: schema.KindFp64})
		m := codec.MustNewMessage(other, nil)
		_, err := codec.Encode(m, reg)
		assert.ErrorIs(t, err, codec.ErrFieldMismatch)
	})

	t.Run("text longer than 65535 bytes", func(t *testing.T) {
		m := testutil.Msg(t, "EntityParameter", 1, 1, codec.Fields{"value": codec.Text(strings.Repeat("x", 70000))})
		_, err := codec.Encode(m, reg)
		assert.ErrorIs(t, err, codec.ErrTooLarge)
	})

	t.Run("payload longer than 65535 bytes", func(t *testing.T) {
		m := testutil.Msg(t, "EntityParameter", 1, 1, codec.Fields{
			"name":  codec.Text(strings.Repeat("n", 40000)),
			"value": codec.Text(strings.Repeat("v", 40000)),
		})
		_, err := codec.Encode(m, reg)
		assert.ErrorIs(t, err, codec.ErrTooLarge)
	})

	t.Run("inline nesting too deep", func(t *testing.T) {
		pm := mustDef(t, "PlanManeuver")
		m := codec.MustNewMessage(pm, nil)
		for i := 0; i < 40; i++ {
			m = codec.MustNewMessage(pm, codec.Fields{"start_actions": codec.List(m)})
		}
		_, err := codec.Encode(m, reg)
		assert.ErrorIs(t, err, codec.ErrFieldMismatch)
	})
}

func TestCodec_EncodeFrameLayout(t *testing.T) {
	m := testutil.Msg(t, "CpuUsage", 0, 0x0801, codec.Fields{"value": codec.Uint(9)})
	frame := testutil.Frame(t, m)

	require.Len(t, frame, codec.HeaderSize+1+codec.FooterSize)
	assert.Equal(t, uint16(0xFE54), binary.LittleEndian.Uint16(frame[0:]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(frame[2:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(frame[4:]))
	assert.Equal(t, uint16(0x0801), binary.LittleEndian.Uint16(frame[14:]))
	assert.Equal(t, byte(9), frame[20])
	assert.Equal(t, codec.CRC16(frame[:21]), binary.LittleEndian.Uint16(frame[21:]))
}

func mustDef(t *testing.T, abbrev string) *schema.MessageDef {
	t.Helper()
	def, ok := testutil.Registry(t).Lookup(abbrev)
	require.True(t, ok)
	return def
}
