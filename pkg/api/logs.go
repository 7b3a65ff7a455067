package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/LSTS/neptus-sub053/pkg/index"
	"github.com/LSTS/neptus-sub053/pkg/resolver"
	"github.com/LSTS/neptus-sub053/pkg/schema"
	"github.com/LSTS/neptus-sub053/pkg/storage"
)

// ErrLogNotFound is returned for handles that name no open log.
var ErrLogNotFound = errors.New("log not found")

// LogServiceConfig holds settings for a LogService.
type LogServiceConfig struct {
	// Storage, when set, persists log handles across restarts.
	Storage *storage.DefaultStorage
	// Snapshots reuses index snapshots kept in Storage.
	Snapshots bool
	// Registry decodes every log; when nil each log's own IMC.xml is used.
	Registry *schema.Registry
	Resolver *resolver.Resolver
	Logger   *slog.Logger
}

// logRecord is what Storage keeps per handle.
type logRecord struct {
	Path   string    `json:"path"`
	Opened time.Time `json:"opened"`
}

type openLog struct {
	id     ksuid.KSUID
	record logRecord
	ix     *index.LogIndex
}

func (l *openLog) info() LogInfo {
	return LogInfo{
		ID:        l.id.String(),
		Path:      l.record.Path,
		Opened:    l.record.Opened,
		Messages:  l.ix.Len(),
		StartTime: l.ix.StartTime(),
		EndTime:   l.ix.EndTime(),
		Schema:    l.ix.Registry().Version(),
		Scan:      l.ix.Stats(),
	}
}

// LogService keeps the logs opened through the API, keyed by KSUID.
type LogService struct {
	mu   sync.RWMutex
	logs map[ksuid.KSUID]*openLog

	store     *storage.DefaultStorage
	snapshots bool
	reg       *schema.Registry
	resolver  *resolver.Resolver
	logger    *slog.Logger
}

func NewLogService(config LogServiceConfig) *LogService {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Resolver == nil {
		config.Resolver = resolver.New(resolver.Config{Logger: config.Logger})
	}
	return &LogService{
		logs:      make(map[ksuid.KSUID]*openLog),
		store:     config.Storage,
		snapshots: config.Snapshots,
		reg:       config.Registry,
		resolver:  config.Resolver,
		logger:    config.Logger.With("component", "logs"),
	}
}

// Resolver returns the name table shared by every open log.
func (s *LogService) Resolver() *resolver.Resolver {
	return s.resolver
}

// Registry returns the configured registry, which may be nil.
func (s *LogService) Registry() *schema.Registry {
	return s.reg
}

func (s *LogService) build(path string) (*index.LogIndex, error) {
	config := index.Config{Registry: s.reg, Resolver: s.resolver, Logger: s.logger}
	if s.snapshots {
		config.Cache = s.store
	}
	return index.Build(path, config)
}

// Open indexes the log at path and returns its handle.
func (s *LogService) Open(path string) (LogInfo, error) {
	ix, err := s.build(path)
	if err != nil {
		return LogInfo{}, err
	}

	rec := logRecord{Path: path, Opened: time.Now().UTC()}
	id := ksuid.New()
	if s.store != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			ix.Close()
			return LogInfo{}, err
		}
		if id, err = s.store.Create(storage.NamespaceLogs, data); err != nil {
			ix.Close()
			return LogInfo{}, fmt.Errorf("failed to persist log handle: %w", err)
		}
	}

	l := &openLog{id: id, record: rec, ix: ix}
	s.mu.Lock()
	s.logs[id] = l
	s.mu.Unlock()

	s.logger.Info("log opened", "id", id, "path", path, "messages", ix.Len())
	return l.info(), nil
}

// Restore reopens every handle persisted in Storage. Handles whose log can
// no longer be indexed are dropped.
func (s *LogService) Restore() (int, error) {
	if s.store == nil {
		return 0, nil
	}

	var stale []ksuid.KSUID
	restored := 0
	err := s.store.Each(storage.NamespaceLogs, func(key, value []byte) error {
		id, err := ksuid.FromBytes(key)
		if err != nil {
			s.logger.Warn("skipping malformed log handle", "key", fmt.Sprintf("%x", key))
			return nil
		}
		var rec logRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			stale = append(stale, id)
			return nil
		}
		ix, err := s.build(rec.Path)
		if err != nil {
			s.logger.Warn("dropping log that can no longer be opened", "id", id, "path", rec.Path, "error", err)
			stale = append(stale, id)
			return nil
		}
		s.mu.Lock()
		s.logs[id] = &openLog{id: id, record: rec, ix: ix}
		s.mu.Unlock()
		restored++
		return nil
	})
	if err != nil {
		return restored, err
	}

	for _, id := range stale {
		if err := s.store.Delete(storage.NamespaceLogs, id); err != nil {
			return restored, err
		}
	}
	return restored, nil
}

func (s *LogService) lookup(id string) (*openLog, error) {
	kid, err := ksuid.Parse(id)
	if err != nil {
		return nil, ErrLogNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[kid]
	if !ok {
		return nil, ErrLogNotFound
	}
	return l, nil
}

// Index returns the index behind a handle.
func (s *LogService) Index(id string) (*index.LogIndex, error) {
	l, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return l.ix, nil
}

// Info describes one open log.
func (s *LogService) Info(id string) (LogInfo, error) {
	l, err := s.lookup(id)
	if err != nil {
		return LogInfo{}, err
	}
	return l.info(), nil
}

// List describes every open log, oldest first.
func (s *LogService) List() []LogInfo {
	s.mu.RLock()
	logs := make([]*openLog, 0, len(s.logs))
	for _, l := range s.logs {
		logs = append(logs, l)
	}
	s.mu.RUnlock()

	sort.Slice(logs, func(i, j int) bool { return ksuid.Compare(logs[i].id, logs[j].id) < 0 })
	out := make([]LogInfo, len(logs))
	for i, l := range logs {
		out[i] = l.info()
	}
	return out
}

// Len returns the number of open logs.
func (s *LogService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Close closes a log and forgets its handle.
func (s *LogService) Close(id string) error {
	l, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.logs, l.id)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(storage.NamespaceLogs, l.id); err != nil {
			s.logger.Warn("failed to forget log handle", "id", l.id, "error", err)
		}
	}
	return l.ix.Close()
}

// Shutdown closes every open log but keeps the persisted handles so a later
// Restore reopens them.
func (s *LogService) Shutdown() error {
	s.mu.Lock()
	logs := s.logs
	s.logs = make(map[ksuid.KSUID]*openLog)
	s.mu.Unlock()

	var errs []error
	for _, l := range logs {
		if err := l.ix.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh indexes frames appended to every open log since it was opened or
// last refreshed, and returns how many were added.
func (s *LogService) Refresh() (int, error) {
	s.mu.RLock()
	logs := make([]*openLog, 0, len(s.logs))
	for _, l := range s.logs {
		logs = append(logs, l)
	}
	s.mu.RUnlock()

	var (
		added int
		errs  []error
	)
	for _, l := range logs {
		n, err := l.ix.Append()
		if err != nil {
			errs = append(errs, fmt.Errorf("log %s: %w", l.id, err))
			continue
		}
		added += n
	}
	return added, errors.Join(errs...)
}
