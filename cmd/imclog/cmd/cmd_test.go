package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/internal/testutil"
	"github.com/LSTS/neptus-sub053/pkg/config"
	"github.com/LSTS/neptus-sub053/pkg/di"
	"github.com/LSTS/neptus-sub053/pkg/index"
	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/transport"
)

// setup installs a container for the duration of the test.
func setup(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	if mutate != nil {
		mutate(cfg)
	}
	c := di.NewContainer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	container = c
	t.Cleanup(func() {
		c.Close()
		container = nil
	})
	return cfg
}

func schemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IMC.xml")
	require.NoError(t, os.WriteFile(path, testutil.SchemaXML(), 0600))
	return path
}

func sampleIndex(t *testing.T) *index.LogIndex {
	t.Helper()
	ix, err := openIndex(testutil.WriteLogDir(t, testutil.Sample(t)...))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestRunIndex(t *testing.T) {
	setup(t, nil)
	ix := sampleIndex(t)

	var buf bytes.Buffer
	require.NoError(t, runIndex(&buf, ix, true))
	var s logSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	assert.Equal(t, 10, s.Messages)
	assert.Equal(t, "5.4.30", s.Schema)

	counts := map[string]int{}
	for _, ts := range s.Types {
		counts[ts.Type] = ts.Count
	}
	assert.Equal(t, map[string]int{
		"Announce": 2, "EntityInfo": 1, "EstimatedState": 4, "Temperature": 2, "Heartbeat": 1,
	}, counts)

	buf.Reset()
	require.NoError(t, runIndex(&buf, ix, false))
	out := buf.String()
	assert.Contains(t, out, "Messages:  10")
	assert.Contains(t, out, "EstimatedState")
	assert.Contains(t, out, "1970-01-01T00:01:40.000Z")
}

func TestRunDump(t *testing.T) {
	setup(t, nil)
	ix := sampleIndex(t)

	typ, ok := ix.Registry().TypeIDFor("EstimatedState")
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, runDump(context.Background(), &buf, ix, index.Filter{Types: []uint16{typ}}, 2))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var depths []float64
	for _, line := range lines {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		assert.Equal(t, "EstimatedState", m["abbrev"])
		depths = append(depths, m["depth"].(float64))
	}
	assert.Equal(t, []float64{1.5, 2.0, 2.5, 3.0}, depths)

	buf.Reset()
	require.NoError(t, runDump(context.Background(), &buf, ix, index.Filter{Since: 103, Limit: 2}, 1))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, runDump(ctx, io.Discard, ix, index.Filter{}, 2))
}

func TestRunQueries(t *testing.T) {
	setup(t, nil)
	ix := sampleIndex(t)

	result := func(t *testing.T, buf *bytes.Buffer) queryResult {
		var r queryResult
		require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
		return r
	}

	var buf bytes.Buffer
	require.NoError(t, runEnd(&buf, ix, "Temperature", false))
	assert.Equal(t, 3, result(t, &buf).Index)

	buf.Reset()
	require.NoError(t, runEnd(&buf, ix, "263", true))
	assert.Equal(t, 8, result(t, &buf).Index)

	buf.Reset()
	require.NoError(t, runAt(&buf, ix, "EstimatedState", "101.5", index.AnyEntity, 0))
	assert.Equal(t, 5, result(t, &buf).Index)

	buf.Reset()
	require.NoError(t, runBefore(&buf, ix, "EstimatedState", "103.9", index.AnyEntity))
	assert.Equal(t, 7, result(t, &buf).Index)

	buf.Reset()
	require.NoError(t, runAdvance(&buf, ix, "102", 0))
	assert.True(t, strings.HasPrefix(buf.String(), "4 "), buf.String())
	assert.Contains(t, buf.String(), "Announce")

	buf.Reset()
	require.NoError(t, runAdvance(&buf, ix, "1e12", 0))
	assert.Equal(t, "10 (end of log)\n", buf.String())

	assert.Error(t, runEnd(io.Discard, ix, "NoSuchType", false))
	assert.Error(t, runEnd(io.Discard, ix, "EntityList", false))
	assert.Error(t, runAt(io.Discard, ix, "Heartbeat", "103.5", index.AnyEntity, 0))
	assert.Error(t, runAt(io.Discard, ix, "Heartbeat", "soon", index.AnyEntity, 0))
	assert.Error(t, runBefore(io.Discard, ix, "Heartbeat", "102", index.AnyEntity))
}

func TestRunNames(t *testing.T) {
	setup(t, func(c *config.Config) { c.Systems = map[uint16]string{0x0016: "manta-21"} })
	sampleIndex(t)

	var buf bytes.Buffer
	require.NoError(t, runNames(&buf, container.Resolver(), true))
	var systems []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &systems))
	require.Len(t, systems, 3)
	assert.Equal(t, "manta-21", systems[0]["name"])
	assert.Equal(t, "lauv-xplore-1", systems[1]["name"])
	assert.Equal(t, "ccu-neptus-1", systems[2]["name"])

	buf.Reset()
	require.NoError(t, runNames(&buf, container.Resolver(), false))
	assert.Contains(t, buf.String(), "0x0801")
}

func TestRunSchema(t *testing.T) {
	setup(t, nil)

	_, err := loadSchema("")
	assert.Error(t, err, "no schema configured")

	reg, err := loadSchema(testutil.WriteLogDir(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, runSchema(&buf, reg, nil))
	assert.Contains(t, buf.String(), "IMC 5.4.30")
	assert.Contains(t, buf.String(), "Temperature")

	buf.Reset()
	require.NoError(t, runSchema(&buf, reg, []string{"Temperature"}))
	assert.Contains(t, buf.String(), "fp32_t")
	assert.Error(t, runSchema(io.Discard, reg, []string{"Nope"}))

	setup(t, func(c *config.Config) { c.Schema = schemaFile(t) })
	reg, err = loadSchema("")
	require.NoError(t, err)
	assert.Equal(t, "5.4.30", reg.Version())
}

func TestRunRecord_UDP(t *testing.T) {
	cfg := setup(t, func(c *config.Config) { c.Schema = schemaFile(t) })
	reg, err := container.Registry()
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "capture")
	listen := cfg.Listen
	listen.Addr = "127.0.0.1:0"

	ready := make(chan net.Addr, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		stats recordStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := runRecord(ctx, recordOptions{
			Out:        out,
			SchemaPath: cfg.Schema,
			Registry:   reg,
			Listen:     listen,
			Ready:      func(a net.Addr) { ready <- a },
		})
		done <- result{stats, err}
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not start")
	}

	sender, err := transport.NewSender(transport.SenderConfig{Addr: addr.String(), Registry: reg})
	require.NoError(t, err)
	defer sender.Close()

	msgs := testutil.Sample(t)[:3]
	var want int64
	for _, m := range msgs {
		require.NoError(t, sender.Send(m))
		want += int64(len(testutil.Frame(t, m)))
	}

	data := filepath.Join(out, lsf.DataFile)
	require.Eventually(t, func() bool {
		st, err := os.Stat(data)
		return err == nil && st.Size() == want
	}, 5*time.Second, 50*time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.stats.Frames)
	assert.Equal(t, want, res.stats.Bytes)
	require.Len(t, res.stats.Peers, 1)
	assert.Equal(t, uint64(3), res.stats.Peers[0].Stats.Frames)

	ix, err := index.Build(out, index.Config{})
	require.NoError(t, err, "the output directory is a complete log")
	defer ix.Close()
	assert.Equal(t, 3, ix.Len())

	var buf bytes.Buffer
	printRecordStats(&buf, out, res.stats)
	assert.Contains(t, buf.String(), "Recorded 3 frames")
}

func TestRunRecord_TCP(t *testing.T) {
	cfg := setup(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	data := testutil.Frames(t, testutil.Sample(t)...)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write(data)
	}()

	out := t.TempDir()
	stats, err := runRecord(context.Background(), recordOptions{
		Out:      out,
		Registry: testutil.Registry(t),
		Listen:   cfg.Listen,
		TCP:      ln.Addr().String(),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Frames)

	got, err := os.ReadFile(filepath.Join(out, lsf.DataFile))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRunRecord_Duration(t *testing.T) {
	cfg := setup(t, nil)
	listen := cfg.Listen
	listen.Addr = "127.0.0.1:0"

	start := time.Now()
	stats, err := runRecord(context.Background(), recordOptions{
		Out:      t.TempDir(),
		Registry: testutil.Registry(t),
		Listen:   listen,
		Duration: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Frames)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func writeCapture(t *testing.T, payloads ...[]byte) string {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
		udp := &layers.UDP{SrcPort: 6002, DstPort: 6001}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf,
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			eth, ip, udp, gopacket.Payload(payload)))
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000+int64(i), 0), CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
		require.NoError(t, w.WritePacket(ci, buf.Bytes()))
	}

	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0600))
	return path
}

func TestRunImportPcap(t *testing.T) {
	msgs := testutil.Sample(t)
	capture := writeCapture(t,
		testutil.Frames(t, msgs[0], msgs[1]),
		[]byte("noise"),
		testutil.Frame(t, msgs[2]),
	)

	out := filepath.Join(t.TempDir(), "trial")
	stats, err := runImportPcap(importOptions{
		Capture:    capture,
		Out:        out,
		SchemaPath: schemaFile(t),
		Registry:   testutil.Registry(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 3, stats.UDPPackets)

	ix, err := index.Build(out, index.Config{})
	require.NoError(t, err)
	defer ix.Close()
	require.Equal(t, 3, ix.Len())
	m, err := ix.GetMessage(2)
	require.NoError(t, err)
	assert.True(t, msgs[2].Equal(m))

	var buf bytes.Buffer
	printImportStats(&buf, out, stats)
	assert.Contains(t, buf.String(), "10.0.0.1:6002->10.0.0.2:6001")

	_, err = runImportPcap(importOptions{Capture: filepath.Join(t.TempDir(), "none.pcap"), Out: out, Registry: testutil.Registry(t)})
	assert.Error(t, err)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imclog", "config.yaml")

	var buf bytes.Buffer
	require.NoError(t, runInit(&buf, path, "/srv/imclog", false))
	assert.Contains(t, buf.String(), "API key: ")
	first, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/imclog", first.DataDir)

	buf.Reset()
	require.NoError(t, runInit(&buf, path, "", false))
	assert.Contains(t, buf.String(), "already exists")

	require.NoError(t, runInit(io.Discard, path, "", true))
	second, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Security.APIKey, second.Security.APIKey)
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Port = 9001
	cfg.Logging.Level = "warn"
	require.NoError(t, config.SaveConfig(cfg, path))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })
	t.Setenv("IMCLOG_LOGGING_LEVEL", "debug")
	t.Setenv("IMCLOG_SECURITY_API_KEY", "from-env")
	initConfig()

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9001, loaded.Port)
	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.Equal(t, "from-env", loaded.Security.APIKey)

	t.Setenv("IMCLOG_LOGGING_FORMAT", "xml")
	_, err = loadConfig()
	assert.ErrorContains(t, err, "invalid configuration")

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	assert.ErrorContains(t, err, "does not exist")
}

func TestParseHelpers(t *testing.T) {
	setup(t, nil)
	reg := testutil.Registry(t)

	typ, err := parseType(reg, "Heartbeat")
	require.NoError(t, err)
	assert.Equal(t, uint16(150), typ)
	typ, err = parseType(reg, "0x96")
	require.NoError(t, err)
	assert.Equal(t, uint16(150), typ)
	_, err = parseType(reg, "Heartbeats")
	assert.Error(t, err)

	container.Resolver().Set(0x4001, "ccu-neptus-1")
	src, err := parseSystem(container.Resolver(), "ccu-neptus-1")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4001), src)
	_, err = parseSystem(container.Resolver(), "nobody")
	assert.Error(t, err)

	assert.Equal(t, "-", formatTime(0))
	assert.Equal(t, "2023-11-14T22:13:20.500Z", formatTime(1700000000.5))
}
