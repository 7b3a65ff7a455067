// Package index provides random and time-ordered access into a recorded
// LSF log without decoding it.
//
// Build scans the log once and keeps, per frame, only what is needed to
// locate and classify it: offset, length, timestamp, type and addressing.
// Messages are decoded lazily by GetMessage. Memory use is proportional to the
// number of messages, not their size.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/metrics"
	"github.com/LSTS/neptus-sub053/pkg/resolver"
	"github.com/LSTS/neptus-sub053/pkg/schema"
	"github.com/LSTS/neptus-sub053/pkg/storage"
)

// AnyEntity matches every source entity in entity-filtered queries.
const AnyEntity = -1

// Entry locates and classifies one frame of the log.
type Entry struct {
	Index     int     `json:"index"`
	Offset    int64   `json:"offset"`
	Size      int     `json:"size"` // frame length, header through footer
	Timestamp float64 `json:"timestamp"`
	Type      uint16  `json:"type"`
	Src       uint16  `json:"src"`
	SrcEnt    uint8   `json:"src_ent"`
	Dst       uint16  `json:"dst"`
	DstEnt    uint8   `json:"dst_ent"`
}

// Config holds index settings.
type Config struct {
	// Registry decodes the log. When nil, the IMC.xml next to the data file
	// is loaded.
	Registry *schema.Registry
	// Resolver, when set, learns names from announcements while indexing.
	Resolver *resolver.Resolver
	// Cache, when set, stores and reuses column snapshots keyed by a
	// fingerprint of the file. Without it every Build rescans.
	Cache  *storage.DefaultStorage
	Logger *slog.Logger
}

// LogIndex is a columnar index over one log. It is built single-threaded and
// then safe for concurrent readers; Append takes an exclusive lock.
type LogIndex struct {
	mu sync.RWMutex

	files   lsf.LogFiles
	path    string // uncompressed data file used for reads
	cleanup func() error
	file    *os.File
	closed  bool

	reg      *schema.Registry
	resolver *resolver.Resolver
	cache    *storage.DefaultStorage
	logger   *slog.Logger

	cols columns

	// scanned is where the next Append resumes: the end of the last frame
	// consumed, before any partial trailing frame.
	scanned int64
	stats   lsf.ScanStats

	cacheMu  sync.Mutex
	cacheGen uint64
	ends     map[cacheKey]int // FirstOf and LastOf results, -1 for none
}

// columns holds one slice per entry attribute. Columns only ever grow in
// place or get replaced wholesale, so a copy of the slice headers taken under
// the read lock stays valid after the lock is released.
type columns struct {
	gen     uint64
	offsets []int64
	sizes   []uint32
	times   []float64
	types   []uint16
	srcs    []uint16
	srcEnts []uint8
	dsts    []uint16
	dstEnts []uint8
}

func (c *columns) len() int {
	return len(c.times)
}

func (c *columns) entry(i int) Entry {
	return Entry{
		Index:     i,
		Offset:    c.offsets[i],
		Size:      int(c.sizes[i]),
		Timestamp: c.times[i],
		Type:      c.types[i],
		Src:       c.srcs[i],
		SrcEnt:    c.srcEnts[i],
		Dst:       c.dsts[i],
		DstEnt:    c.dstEnts[i],
	}
}

// view returns the current columns.
func (ix *LogIndex) view() columns {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cols
}

// Build indexes the log at path, which may be a Data.lsf file, a gzipped
// Data.lsf.gz, or a log directory holding either. Corrupt frames inside the
// file are skipped and a partial trailing frame ends the scan; only an
// unreadable file fails the build.
func Build(path string, config Config) (*LogIndex, error) {
	start := time.Now()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	files, err := lsf.FindLog(path)
	if err != nil {
		return nil, &IndexError{Path: path, Op: "open", Err: err}
	}

	reg := config.Registry
	if reg == nil {
		if files.Schema == "" {
			return nil, &IndexError{Path: path, Op: "schema", Err: ErrNoSchema}
		}
		if reg, err = schema.LoadFile(files.Schema); err != nil {
			return nil, &IndexError{Path: files.Schema, Op: "schema", Err: err}
		}
	}

	plain, cleanup, err := lsf.Materialize(files.Data)
	if err != nil {
		return nil, &IndexError{Path: files.Data, Op: "decompress", Err: err}
	}
	file, err := os.Open(plain)
	if err != nil {
		cleanup()
		return nil, &IndexError{Path: files.Data, Op: "open", Err: err}
	}

	ix := &LogIndex{
		files:    files,
		path:     plain,
		cleanup:  cleanup,
		file:     file,
		reg:      reg,
		resolver: config.Resolver,
		cache:    config.Cache,
		logger:   config.Logger.With("component", "index", "log", files.Data),
	}
	ix.resetCaches()

	mode := "scan"
	if ix.cache != nil && ix.loadSnapshot() {
		mode = "snapshot"
		ix.observeAnnouncements(0)
	} else {
		if err := ix.scanFrom(0); err != nil {
			file.Close()
			cleanup()
			return nil, err
		}
		if ix.cache != nil {
			ix.saveSnapshot()
		}
	}

	metrics.IndexBuilds.WithLabelValues(mode).Inc()
	metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	metrics.IndexedMessages.Add(float64(len(ix.cols.times)))

	ix.logger.Info("log indexed",
		"mode", mode,
		"messages", len(ix.cols.times),
		"resyncs", ix.stats.Resyncs,
		"trailing_bytes", ix.stats.TrailingBytes,
		"duration", time.Since(start))
	return ix, nil
}

// scanFrom reads frames from offset to the end of the file and appends them
// to the columns. The caller holds the write lock or owns ix exclusively.
func (ix *LogIndex) scanFrom(offset int64) error {
	r, err := lsf.NewLogReader(lsf.ReaderConfig{FilePath: ix.path, StartOffset: offset, Registry: ix.reg})
	if err != nil {
		return &IndexError{Path: ix.files.Data, Op: "open", Err: err}
	}
	defer r.Close()

	names := ix.announcementTypes()
	before := len(ix.cols.times)

	stats, err := r.Scan(func(f *lsf.Frame) error {
		h := f.Header
		ix.cols.offsets = append(ix.cols.offsets, f.Offset)
		ix.cols.sizes = append(ix.cols.sizes, uint32(f.Len()))
		ix.cols.times = append(ix.cols.times, h.Timestamp)
		ix.cols.types = append(ix.cols.types, h.MgID)
		ix.cols.srcs = append(ix.cols.srcs, h.Src)
		ix.cols.srcEnts = append(ix.cols.srcEnts, h.SrcEnt)
		ix.cols.dsts = append(ix.cols.dsts, h.Dst)
		ix.cols.dstEnts = append(ix.cols.dstEnts, h.DstEnt)

		if ix.resolver != nil && names[h.MgID] {
			if m, err := codec.Decode(f.Data, ix.reg); err == nil {
				ix.resolver.Observe(m)
			}
		}
		return nil
	})
	if err != nil {
		return &IndexError{Path: ix.files.Data, Op: "read", Err: err}
	}

	ix.scanned = r.Offset() - stats.TrailingBytes
	ix.stats.Frames += stats.Frames
	ix.stats.Resyncs += stats.Resyncs
	ix.stats.BytesSkipped += stats.BytesSkipped
	ix.stats.TrailingBytes = stats.TrailingBytes

	if stats.Resyncs > 0 {
		ix.logger.Warn("skipped corrupt data while indexing", "resyncs", stats.Resyncs, "bytes", stats.BytesSkipped)
	}
	ix.sortFrom(before)
	return nil
}

// announcementTypes returns the type ids the resolver learns from.
func (ix *LogIndex) announcementTypes() map[uint16]bool {
	out := make(map[uint16]bool, 3)
	for _, abbrev := range []string{"Announce", "EntityInfo", "EntityList"} {
		if id, ok := ix.reg.TypeIDFor(abbrev); ok {
			out[id] = true
		}
	}
	return out
}

// observeAnnouncements feeds the resolver from already indexed entries,
// which is needed when the columns came from a snapshot.
func (ix *LogIndex) observeAnnouncements(from int) {
	if ix.resolver == nil {
		return
	}
	names := ix.announcementTypes()
	for i := from; i < len(ix.cols.types); i++ {
		if !names[ix.cols.types[i]] {
			continue
		}
		if m, err := ix.decodeAt(i); err == nil {
			ix.resolver.Observe(m)
		}
	}
}

// sortFrom keeps the columns ordered by timestamp. Entries from before are
// already sorted; logs are nearly always in order, so the common case is a
// single pass.
func (ix *LogIndex) sortFrom(before int) {
	start := before
	if start > 0 {
		start--
	}
	sorted := true
	for i := start + 1; i < len(ix.cols.times); i++ {
		if ix.cols.times[i] < ix.cols.times[i-1] {
			sorted = false
			break
		}
	}
	if sorted {
		return
	}

	perm := make([]int, len(ix.cols.times))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return ix.cols.times[perm[a]] < ix.cols.times[perm[b]] })

	ix.cols.offsets = permute(ix.cols.offsets, perm)
	ix.cols.sizes = permute(ix.cols.sizes, perm)
	ix.cols.times = permute(ix.cols.times, perm)
	ix.cols.types = permute(ix.cols.types, perm)
	ix.cols.srcs = permute(ix.cols.srcs, perm)
	ix.cols.srcEnts = permute(ix.cols.srcEnts, perm)
	ix.cols.dsts = permute(ix.cols.dsts, perm)
	ix.cols.dstEnts = permute(ix.cols.dstEnts, perm)
	ix.logger.Debug("log frames out of time order, index sorted")
}

func permute[T any](col []T, perm []int) []T {
	out := make([]T, len(col))
	for i, p := range perm {
		out[i] = col[p]
	}
	return out
}

func (ix *LogIndex) resetCaches() {
	ix.cacheMu.Lock()
	ix.cacheGen = ix.cols.gen
	ix.ends = make(map[cacheKey]int)
	ix.cacheMu.Unlock()
}

// Append indexes frames written to the file since the last scan. It returns
// the number of new entries. Compressed logs can not grow and always return 0.
func (ix *LogIndex) Append() (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return 0, ErrClosed
	}
	if ix.files.Compressed() {
		return 0, nil
	}

	before := len(ix.cols.times)
	if err := ix.scanFrom(ix.scanned); err != nil {
		return 0, err
	}
	added := len(ix.cols.times) - before
	if added > 0 {
		ix.cols.gen++
		ix.resetCaches()
		metrics.IndexedMessages.Add(float64(added))
		ix.logger.Debug("appended to index", "messages", added)
	}
	return added, nil
}

// Close releases the file handle and any decompressed copy.
func (ix *LogIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	metrics.IndexedMessages.Sub(float64(len(ix.cols.times)))

	err := ix.file.Close()
	if cerr := ix.cleanup(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	return nil
}

// Registry returns the registry the log is decoded with.
func (ix *LogIndex) Registry() *schema.Registry {
	return ix.reg
}

// Files returns the log's file locations.
func (ix *LogIndex) Files() lsf.LogFiles {
	return ix.files
}

// Stats reports what the scans skipped.
func (ix *LogIndex) Stats() lsf.ScanStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.stats
}
