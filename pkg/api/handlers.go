package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/index"
	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// Server holds the API server state
type Server struct {
	logs    *LogService
	config  ServerConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a new API server
func NewServer(logs *LogService, config ServerConfig, metrics *Metrics) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		logs:    logs,
		config:  config,
		metrics: metrics,
		logger:  config.Logger.With("component", "api"),
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var codecErr *codec.CodecError
	switch {
	case errors.Is(err, ErrLogNotFound),
		errors.Is(err, index.ErrOutOfRange),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, lsf.ErrNoLog):
		return http.StatusNotFound
	case errors.Is(err, index.ErrNoSchema),
		errors.As(err, &codecErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	sendError(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]interface{}{"status": "healthy", "logs": s.logs.Len()})
}

func (s *Server) handleOpenLog(w http.ResponseWriter, r *http.Request) {
	var req OpenLogRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		sendError(w, "path is required", http.StatusBadRequest)
		return
	}

	info, err := s.logs.Open(req.Path)
	s.metrics.RecordLogOperation("open", err == nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.SetLogsOpen(s.logs.Len())
	sendJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, s.logs.List())
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	info, err := s.logs.Info(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sendSuccess(w, info)
}

func (s *Server) handleCloseLog(w http.ResponseWriter, r *http.Request) {
	err := s.logs.Close(chi.URLParam(r, "id"))
	s.metrics.RecordLogOperation("close", err == nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.SetLogsOpen(s.logs.Len())
	sendSuccess(w, map[string]string{"status": "closed"})
}

// logIndex resolves the {id} route parameter, writing the error response
// itself when the log is unknown.
func (s *Server) logIndex(w http.ResponseWriter, r *http.Request) (*index.LogIndex, bool) {
	ix, err := s.logs.Index(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return ix, true
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, ix *index.LogIndex, i int) {
	m, err := ix.GetMessage(i)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sendSuccess(w, MessageResponse{Index: i, Message: m})
}

func (s *Server) entryResponse(ix *index.LogIndex, e index.Entry) EntryResponse {
	typ := strconv.Itoa(int(e.Type))
	if def, ok := ix.Registry().TypeDefFor(e.Type); ok {
		typ = def.Abbrev
	}
	return EntryResponse{
		Index:     e.Index,
		Timestamp: e.Timestamp,
		Type:      typ,
		MgID:      e.Type,
		Src:       e.Src,
		SrcName:   s.logs.Resolver().Format(e.Src),
		SrcEnt:    e.SrcEnt,
		Dst:       e.Dst,
		DstEnt:    e.DstEnt,
		Size:      e.Size,
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.logIndex(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		sendError(w, "message index must be an integer", http.StatusBadRequest)
		return
	}
	s.sendMessage(w, r, ix, n)
}

func (s *Server) handleFirst(w http.ResponseWriter, r *http.Request) {
	s.handleEnd(w, r, (*index.LogIndex).FirstOf)
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	s.handleEnd(w, r, (*index.LogIndex).LastOf)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request, find func(*index.LogIndex, uint16) (index.Entry, bool)) {
	ix, ok := s.logIndex(w, r)
	if !ok {
		return
	}
	typ, err := typeParam(ix.Registry(), r.URL.Query().Get("type"))
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, found := find(ix, typ)
	if !found {
		sendError(w, fmt.Sprintf("no message of type %s", r.URL.Query().Get("type")), http.StatusNotFound)
		return
	}
	s.sendMessage(w, r, ix, e.Index)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.logIndex(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		sendError(w, "start must be an integer", http.StatusBadRequest)
		return
	}
	t, err := strconv.ParseFloat(q.Get("t"), 64)
	if err != nil {
		sendError(w, "t must be a number of seconds", http.StatusBadRequest)
		return
	}
	sendSuccess(w, map[string]int{"index": ix.AdvanceToTime(start, t), "len": ix.Len()})
}

func (s *Server) handleAtOrAfter(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.logIndex(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	typ, err := typeParam(ix.Registry(), q.Get("type"))
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entity, err := intParam(q.Get("entity"), index.AnyEntity)
	if err != nil || entity < index.AnyEntity || entity > 255 {
		sendError(w, "entity must be an integer in [-1, 255]", http.StatusBadRequest)
		return
	}
	start, err := intParam(q.Get("start"), 0)
	if err != nil {
		sendError(w, "start must be an integer", http.StatusBadRequest)
		return
	}
	t, err := strconv.ParseFloat(q.Get("t"), 64)
	if err != nil {
		sendError(w, "t must be a number of seconds", http.StatusBadRequest)
		return
	}

	i, found := ix.MessageAtOrAfter(typ, entity, start, t)
	if !found {
		sendError(w, "no matching message", http.StatusNotFound)
		return
	}
	s.sendMessage(w, r, ix, i)
}

// handleEntries lists index entries without decoding them.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.logIndex(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var f index.Filter
	for _, v := range q["type"] {
		typ, err := typeParam(ix.Registry(), v)
		if err != nil {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Types = append(f.Types, typ)
	}
	for _, v := range q["src"] {
		src, ok := s.systemParam(v)
		if !ok {
			sendError(w, fmt.Sprintf("unknown system %q", v), http.StatusBadRequest)
			return
		}
		f.Sources = append(f.Sources, src)
	}
	var err error
	if f.Since, err = floatParam(q.Get("since")); err != nil {
		sendError(w, "since must be a number of seconds", http.StatusBadRequest)
		return
	}
	if f.Until, err = floatParam(q.Get("until")); err != nil {
		sendError(w, "until must be a number of seconds", http.StatusBadRequest)
		return
	}
	if f.Limit, err = intParam(q.Get("limit"), 1000); err != nil || f.Limit < 0 {
		sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}

	out := []EntryResponse{}
	ix.Scan(f, func(e index.Entry) bool {
		out = append(out, s.entryResponse(ix, e))
		return true
	})
	sendSuccess(w, out)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 0, 16)
	if err != nil {
		sendError(w, "system id must be an integer in [0, 65535]", http.StatusBadRequest)
		return
	}
	name, ok := s.logs.Resolver().NameFor(uint16(id))
	if !ok {
		sendError(w, fmt.Sprintf("system 0x%04X has no known name", id), http.StatusNotFound)
		return
	}
	sendSuccess(w, map[string]interface{}{"id": id, "name": name})
}

func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		sendSuccess(w, s.logs.Resolver().Systems())
		return
	}
	id, ok := s.logs.Resolver().IDFor(name)
	if !ok {
		sendError(w, fmt.Sprintf("no system named %q", name), http.StatusNotFound)
		return
	}
	sendSuccess(w, map[string]interface{}{"id": id, "name": name})
}

// handleSchema describes a message type. The server's registry is used
// unless a log handle is given with ?log=.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reg := s.logs.Registry()
	if id := r.URL.Query().Get("log"); id != "" {
		ix, err := s.logs.Index(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		reg = ix.Registry()
	}
	if reg == nil {
		sendError(w, "no schema loaded; pass ?log= to use a log's schema", http.StatusNotFound)
		return
	}

	abbrev := chi.URLParam(r, "abbrev")
	typ, err := typeParam(reg, abbrev)
	if err != nil {
		sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	def, ok := reg.TypeDefFor(typ)
	if !ok {
		sendError(w, fmt.Sprintf("unknown message type %q", abbrev), http.StatusNotFound)
		return
	}
	sendSuccess(w, schemaResponse(reg, def))
}

// typeParam accepts a message abbreviation or a numeric id.
func typeParam(reg *schema.Registry, v string) (uint16, error) {
	if v == "" {
		return 0, errors.New("type is required")
	}
	if id, ok := reg.TypeIDFor(v); ok {
		return id, nil
	}
	id, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown message type %q", v)
	}
	return uint16(id), nil
}

// systemParam accepts a system name or a numeric id.
func (s *Server) systemParam(v string) (uint16, bool) {
	if id, ok := s.logs.Resolver().IDFor(v); ok {
		return id, true
	}
	id, err := strconv.ParseUint(v, 0, 16)
	return uint16(id), err == nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
