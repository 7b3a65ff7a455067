package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/storage"
)

const (
	snapshotMagic   = "IMCX"
	snapshotVersion = uint16(1)
)

// snapshotHeader precedes the columns in a stored snapshot.
type snapshotHeader struct {
	Magic         [4]byte
	Version       uint16
	_             uint16
	Scanned       int64
	Frames        int64
	Resyncs       int64
	BytesSkipped  int64
	TrailingBytes int64
	Count         uint32
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// fingerprint identifies the exact file contents an index was built from.
// Any change to the file's location, size, modification time or the schema
// it is decoded with produces a different key.
func (ix *LogIndex) fingerprint() ([]byte, error) {
	abs, err := filepath.Abs(ix.files.Data)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(ix.files.Data)
	if err != nil {
		return nil, err
	}

	d := xxhash.New()
	d.WriteString(abs)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(info.Size()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(info.ModTime().UnixNano()))
	d.Write(buf[:])
	d.WriteString(ix.reg.Hash())

	return binary.BigEndian.AppendUint64(nil, d.Sum64()), nil
}

// loadSnapshot replaces the columns with a stored snapshot of the same file.
// It reports false, leaving the index untouched, when there is none or it
// can not be used.
func (ix *LogIndex) loadSnapshot() bool {
	key, err := ix.fingerprint()
	if err != nil {
		ix.logger.Warn("cannot fingerprint log", "error", err)
		return false
	}
	data, err := ix.cache.Get(storage.NamespaceSnapshots, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			ix.logger.Warn("failed to read index snapshot", "error", err)
		}
		return false
	}

	cols, hdr, err := decodeSnapshot(data)
	if err != nil {
		ix.logger.Warn("discarding unusable index snapshot", "error", err)
		return false
	}
	cols.gen = ix.cols.gen
	ix.cols = cols
	ix.scanned = hdr.Scanned
	ix.stats.Frames = int(hdr.Frames)
	ix.stats.Resyncs = int(hdr.Resyncs)
	ix.stats.BytesSkipped = hdr.BytesSkipped
	ix.stats.TrailingBytes = hdr.TrailingBytes
	return true
}

// saveSnapshot stores the current columns. Failures only cost the next
// Build a rescan, so they are logged and otherwise ignored.
func (ix *LogIndex) saveSnapshot() {
	key, err := ix.fingerprint()
	if err != nil {
		ix.logger.Warn("cannot fingerprint log", "error", err)
		return
	}
	data, err := encodeSnapshot(&ix.cols, ix.scanned, ix.stats)
	if err == nil {
		err = ix.cache.Put(storage.NamespaceSnapshots, key, data)
	}
	if err != nil {
		ix.logger.Warn("failed to store index snapshot", "error", err)
	}
}

func encodeSnapshot(c *columns, scanned int64, stats lsf.ScanStats) ([]byte, error) {
	var buf bytes.Buffer
	hdr := snapshotHeader{
		Version:       snapshotVersion,
		Scanned:       scanned,
		Frames:        int64(stats.Frames),
		Resyncs:       int64(stats.Resyncs),
		BytesSkipped:  stats.BytesSkipped,
		TrailingBytes: stats.TrailingBytes,
		Count:         uint32(c.len()),
	}
	copy(hdr.Magic[:], snapshotMagic)

	for _, v := range []any{hdr, c.offsets, c.sizes, c.times, c.types, c.srcs, c.srcEnts, c.dsts, c.dstEnts} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return zstdEncoder.EncodeAll(buf.Bytes(), nil), nil
}

func decodeSnapshot(data []byte) (columns, snapshotHeader, error) {
	var hdr snapshotHeader
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return columns{}, hdr, err
	}
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return columns{}, hdr, err
	}
	if string(hdr.Magic[:]) != snapshotMagic || hdr.Version != snapshotVersion {
		return columns{}, hdr, fmt.Errorf("unsupported snapshot %q version %d", hdr.Magic[:], hdr.Version)
	}

	// Each entry takes 28 bytes; reject counts the payload can not hold
	// before allocating for them.
	n := int(hdr.Count)
	if n > r.Len()/28 {
		return columns{}, hdr, fmt.Errorf("snapshot claims %d entries in %d bytes", n, r.Len())
	}
	c := columns{
		offsets: make([]int64, n),
		sizes:   make([]uint32, n),
		times:   make([]float64, n),
		types:   make([]uint16, n),
		srcs:    make([]uint16, n),
		srcEnts: make([]uint8, n),
		dsts:    make([]uint16, n),
		dstEnts: make([]uint8, n),
	}
	for _, v := range []any{c.offsets, c.sizes, c.times, c.types, c.srcs, c.srcEnts, c.dsts, c.dstEnts} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return columns{}, hdr, err
		}
	}
	if r.Len() != 0 {
		return columns{}, hdr, fmt.Errorf("%d unexpected bytes after snapshot columns", r.Len())
	}
	return c, hdr, nil
}
