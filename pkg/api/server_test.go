package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/internal/testutil"
	"github.com/LSTS/neptus-sub053/pkg/storage"
)

type testServer struct {
	server  *Server
	handler http.Handler
	logs    *LogService
	key     string
}

func newTestServer(t *testing.T, config LogServiceConfig, apiKey string) *testServer {
	t.Helper()
	logs := NewLogService(config)
	t.Cleanup(func() { logs.Shutdown() })

	s := NewServer(logs, ServerConfig{APIKey: apiKey}, NewMetrics(prometheus.NewRegistry()))
	return &testServer{server: s, handler: NewRouter(s), logs: logs, key: apiKey}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if ts.key != "" {
		req.Header.Set("X-API-Key", ts.key)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (ts *testServer) get(t *testing.T, path string, v interface{}) int {
	t.Helper()
	code, env := ts.do(t, "GET", path, nil)
	if code == http.StatusOK && v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return code
}

func (ts *testServer) open(t *testing.T, path string) LogInfo {
	t.Helper()
	code, env := ts.do(t, "POST", "/api/v1/logs", OpenLogRequest{Path: path})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var info LogInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	return info
}

type message struct {
	Index   int                    `json:"index"`
	Message map[string]interface{} `json:"message"`
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "")
	var health map[string]interface{}
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/health", &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 1.0, promtest.ToFloat64(ts.server.metrics.healthChecksTotal.WithLabelValues(statusSuccess)))
}

func TestServer_RequiresAPIKey(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "secret")

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Metrics stay open for scraping.
	req = httptest.NewRequest("GET", "/metrics", nil)
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, ts.get(t, "/api/v1/health", nil))
}

func TestServer_LogLifecycle(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "k")
	dir := testutil.WriteLogDir(t, testutil.Sample(t)...)

	info := ts.open(t, dir)
	assert.Equal(t, 10, info.Messages)
	assert.Equal(t, 100.0, info.StartTime)
	assert.Equal(t, 104.5, info.EndTime)
	assert.Equal(t, "5.4.30", info.Schema)
	assert.Len(t, info.ID, 27)

	var list []LogInfo
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/logs", &list))
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	var got LogInfo
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/logs/"+info.ID, &got))
	assert.Equal(t, dir, got.Path)

	code, _ := ts.do(t, "DELETE", "/api/v1/logs/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/v1/logs/"+info.ID, nil))
	code, _ = ts.do(t, "DELETE", "/api/v1/logs/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_OpenErrors(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "")

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"no path", OpenLogRequest{}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"missing log", OpenLogRequest{Path: filepath.Join(t.TempDir(), "nope")}, http.StatusNotFound},
		{"empty dir", OpenLogRequest{Path: t.TempDir()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, "POST", "/api/v1/logs", tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestServer_Queries(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "")
	id := ts.open(t, testutil.WriteLogDir(t, testutil.Sample(t)...)).ID
	base := "/api/v1/logs/" + id

	var m message
	require.Equal(t, http.StatusOK, ts.get(t, base+"/messages/3", &m))
	assert.Equal(t, 3, m.Index)
	assert.Equal(t, "Temperature", m.Message["abbrev"])
	assert.Equal(t, 14.25, m.Message["value"])

	require.Equal(t, http.StatusOK, ts.get(t, base+"/first?type=Temperature", &m))
	assert.Equal(t, 3, m.Index)
	require.Equal(t, http.StatusOK, ts.get(t, base+"/last?type=350", &m))
	assert.Equal(t, 9, m.Index)
	assert.Equal(t, 3.0, m.Message["depth"])

	var adv map[string]int
	require.Equal(t, http.StatusOK, ts.get(t, base+"/advance?t=102", &adv))
	assert.Equal(t, 4, adv["index"])
	require.Equal(t, http.StatusOK, ts.get(t, base+"/advance?start=6&t=200", &adv))
	assert.Equal(t, 10, adv["index"])

	require.Equal(t, http.StatusOK, ts.get(t, base+"/at-or-after?type=EstimatedState&t=101.5", &m))
	assert.Equal(t, 5, m.Index)
	require.Equal(t, http.StatusOK, ts.get(t, base+"/at-or-after?type=EstimatedState&entity=-1&start=6&t=0", &m))
	assert.Equal(t, 7, m.Index)

	var entries []EntryResponse
	require.Equal(t, http.StatusOK, ts.get(t, base+"/entries?type=Announce", &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Announce", entries[0].Type)
	assert.Equal(t, "lauv-xplore-1", entries[0].SrcName)
	assert.Equal(t, "ccu-neptus-1", entries[1].SrcName)

	require.Equal(t, http.StatusOK, ts.get(t, base+"/entries?src=ccu-neptus-1&since=102.5", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Heartbeat", entries[0].Type)

	require.Equal(t, http.StatusOK, ts.get(t, base+"/entries?limit=2", &entries))
	assert.Len(t, entries, 2)
}

func TestServer_QueryErrors(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "")
	id := ts.open(t, testutil.WriteLogDir(t, testutil.Sample(t)...)).ID
	base := "/api/v1/logs/" + id

	tests := []struct {
		path string
		want int
	}{
		{base + "/messages/10", http.StatusNotFound},
		{base + "/messages/-1", http.StatusNotFound},
		{base + "/messages/x", http.StatusBadRequest},
		{base + "/first", http.StatusBadRequest},
		{base + "/first?type=NoSuchType", http.StatusBadRequest},
		{base + "/first?type=EntityList", http.StatusNotFound},
		{base + "/advance", http.StatusBadRequest},
		{base + "/advance?t=1&start=x", http.StatusBadRequest},
		{base + "/at-or-after?type=Heartbeat&t=103.5", http.StatusNotFound},
		{base + "/at-or-after?type=Heartbeat&t=1&entity=300", http.StatusBadRequest},
		{base + "/entries?src=nobody", http.StatusBadRequest},
		{base + "/entries?limit=-1", http.StatusBadRequest},
		{"/api/v1/logs/not-a-ksuid/first?type=Heartbeat", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ts.get(t, tt.path, nil))
		})
	}
}

func TestServer_Systems(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{}, "")
	ts.open(t, testutil.WriteLogDir(t, testutil.Sample(t)...))

	var sys map[string]interface{}
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/systems/0x0801", &sys))
	assert.Equal(t, "lauv-xplore-1", sys["name"])
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/systems/16385", &sys))
	assert.Equal(t, "ccu-neptus-1", sys["name"])

	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/systems?name=ccu-neptus-1", &sys))
	assert.Equal(t, float64(0x4001), sys["id"])

	var all []map[string]interface{}
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/systems", &all))
	assert.Len(t, all, 2)

	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/v1/systems/7", nil))
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/v1/systems?name=nobody", nil))
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/v1/systems/70000", nil))
}

func TestServer_Schema(t *testing.T) {
	ts := newTestServer(t, LogServiceConfig{Registry: testutil.Registry(t)}, "")

	var def SchemaResponse
	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/schema/Temperature", &def))
	assert.Equal(t, uint16(263), def.ID)
	assert.Equal(t, "Sensors", def.Category)
	require.Len(t, def.Fields, 1)
	assert.Equal(t, "value", def.Fields[0].Abbrev)
	assert.Equal(t, "fp32_t", def.Fields[0].Type)

	require.Equal(t, http.StatusOK, ts.get(t, "/api/v1/schema/350", &def))
	assert.Equal(t, "EstimatedState", def.Abbrev)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/v1/schema/Nope", nil))

	// Without a server registry a log's schema can be named.
	bare := newTestServer(t, LogServiceConfig{}, "")
	assert.Equal(t, http.StatusNotFound, bare.get(t, "/api/v1/schema/Temperature", nil))
	id := bare.open(t, testutil.WriteLogDir(t, testutil.Sample(t)...)).ID
	require.Equal(t, http.StatusOK, bare.get(t, "/api/v1/schema/Temperature?log="+id, &def))
	assert.Equal(t, "5.4.30", def.Version)
}

func TestLogService_Restore(t *testing.T) {
	store, err := storage.NewDefaultStorage(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer store.Close()

	dir := testutil.WriteLogDir(t, testutil.Sample(t)...)
	gone := testutil.WriteLogDir(t, testutil.Sample(t)[:2]...)

	first := NewLogService(LogServiceConfig{Storage: store, Snapshots: true})
	kept, err := first.Open(dir)
	require.NoError(t, err)
	_, err = first.Open(gone)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown())
	assert.Equal(t, 0, first.Len())

	require.NoError(t, os.RemoveAll(gone))

	second := NewLogService(LogServiceConfig{Storage: store, Snapshots: true})
	defer second.Shutdown()
	n, err := second.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list := second.List()
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.Equal(t, 10, list[0].Messages)

	// The unreadable handle was forgotten.
	third := NewLogService(LogServiceConfig{Storage: store})
	n, err = third.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, third.Shutdown())

	// Closing forgets the handle.
	require.NoError(t, second.Close(kept.ID))
	fourth := NewLogService(LogServiceConfig{Storage: store})
	n, err = fourth.Restore()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLogService_Refresh(t *testing.T) {
	msgs := testutil.Sample(t)
	dir := testutil.WriteLogDir(t, msgs[:4]...)

	logs := NewLogService(LogServiceConfig{})
	defer logs.Shutdown()
	info, err := logs.Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Messages)

	f, err := os.OpenFile(filepath.Join(dir, "Data.lsf"), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(testutil.Frames(t, msgs[4:]...))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n, err := logs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	info, err = logs.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, info.Messages)
	assert.Equal(t, 104.5, info.EndTime)
}
