// Package testutil holds the schema and log fixtures shared by package tests.
package testutil

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

//go:embed imc.xml
var schemaXML []byte

var (
	registryOnce sync.Once
	registry     *schema.Registry
	registryErr  error
)

// SchemaXML returns the fixture IMC.xml document.
func SchemaXML() []byte {
	return bytes.Clone(schemaXML)
}

// Registry returns the registry parsed from the fixture schema. Registries
// are immutable so one instance is shared across tests.
func Registry(t testing.TB) *schema.Registry {
	t.Helper()
	registryOnce.Do(func() {
		registry, registryErr = schema.Load(bytes.NewReader(schemaXML))
	})
	require.NoError(t, registryErr)
	return registry
}

// Msg builds a message by type name with the given header time and source.
func Msg(t testing.TB, abbrev string, ts float64, src uint16, fields codec.Fields) *codec.Message {
	t.Helper()
	def, ok := Registry(t).Lookup(abbrev)
	require.True(t, ok, "no message %s in fixture schema", abbrev)
	m, err := codec.NewMessage(def, fields)
	require.NoError(t, err)
	return m.WithHeader(codec.Header{Timestamp: ts, Src: src, Dst: 0xFFFF, DstEnt: 0xFF})
}

// Frame encodes m with the fixture registry.
func Frame(t testing.TB, m *codec.Message) []byte {
	t.Helper()
	b, err := codec.Encode(m, Registry(t))
	require.NoError(t, err)
	return b
}

// Frames concatenates the encoded frames of msgs, which is exactly the
// layout of a Data.lsf file.
func Frames(t testing.TB, msgs ...*codec.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(Frame(t, m))
	}
	return buf.Bytes()
}

// WriteLogDir creates a log directory holding Data.lsf built from msgs and a
// copy of the fixture IMC.xml. It returns the directory path.
func WriteLogDir(t testing.TB, msgs ...*codec.Message) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Data.lsf"), Frames(t, msgs...), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IMC.xml"), schemaXML, 0644))
	return dir
}

// Sample returns a short mixed log: two systems, entity announcements and a
// spread of message types in timestamp order.
func Sample(t testing.TB) []*codec.Message {
	t.Helper()
	return []*codec.Message{
		Msg(t, "Announce", 100.0, 0x0801, codec.Fields{
			"sys_name": codec.Text("lauv-xplore-1"),
			"sys_type": codec.Uint(2),
			"lat":      codec.Float(0.7188),
			"lon":      codec.Float(-0.1525),
		}),
		Msg(t, "EntityInfo", 100.5, 0x0801, codec.Fields{
			"id":        codec.Uint(12),
			"label":     codec.Text("Navigation"),
			"component": codec.Text("Navigation.AUV"),
		}),
		Msg(t, "EstimatedState", 101.0, 0x0801, codec.Fields{"depth": codec.Float(1.5), "psi": codec.Float(0.25)}),
		Msg(t, "Temperature", 101.5, 0x0801, codec.Fields{"value": codec.Float(14.25)}),
		Msg(t, "Announce", 102.0, 0x4001, codec.Fields{
			"sys_name": codec.Text("ccu-neptus-1"),
			"sys_type": codec.Uint(0),
		}),
		Msg(t, "EstimatedState", 102.0, 0x0801, codec.Fields{"depth": codec.Float(2.0)}),
		Msg(t, "Heartbeat", 103.0, 0x4001, nil),
		Msg(t, "EstimatedState", 103.0, 0x0801, codec.Fields{"depth": codec.Float(2.5)}),
		Msg(t, "Temperature", 104.0, 0x0801, codec.Fields{"value": codec.Float(14.5)}),
		Msg(t, "EstimatedState", 104.5, 0x0801, codec.Fields{"depth": codec.Float(3.0)}),
	}
}
