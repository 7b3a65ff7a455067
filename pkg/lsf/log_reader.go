package lsf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// readBufferSize holds the largest possible frame with room to spare, so a
// whole frame can always be peeked.
const readBufferSize = 128 * 1024

// LogReader provides sequential and positional access to frames in a log file
type LogReader struct {
	file   *os.File
	reader *bufio.Reader
	offset int64
	sync   uint16
	config ReaderConfig
}

// NewLogReader opens the log file for reading
func NewLogReader(config ReaderConfig) (*LogReader, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, err
	}

	if config.StartOffset > 0 {
		if _, err := file.Seek(config.StartOffset, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
	}

	r := &LogReader{
		file:   file,
		reader: bufio.NewReaderSize(file, readBufferSize),
		offset: config.StartOffset,
		sync:   schema.DefaultSyncNumber,
		config: config,
	}
	if config.Registry != nil {
		r.sync = config.Registry.SyncNumber()
	}
	return r, nil
}

// ReadNextFrame reads the frame at the current offset. It returns io.EOF at a
// clean end of file, io.ErrUnexpectedEOF for a partial trailing frame and
// ErrCorruption when the bytes at the offset are not a valid frame.
func (r *LogReader) ReadNextFrame() (*Frame, error) {
	f, err := r.peekFrame()
	if err != nil {
		return nil, err
	}
	r.discard(f.Len())
	return f, nil
}

// ReadNext reads and decodes the next frame.
func (r *LogReader) ReadNext() (*codec.Message, error) {
	if r.config.Registry == nil {
		return nil, ErrNoRegistry
	}
	f, err := r.ReadNextFrame()
	if err != nil {
		return nil, err
	}
	return codec.Decode(f.Data, r.config.Registry)
}

// peekFrame validates the frame at the current offset without consuming it.
func (r *LogReader) peekFrame() (*Frame, error) {
	hdr, err := r.reader.Peek(codec.HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) && len(hdr) == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	h, order, total, err := codec.PeekHeader(hdr, r.sync)
	if err != nil {
		return nil, fmt.Errorf("%w at offset %d: %v", ErrCorruption, r.offset, err)
	}

	data, err := r.reader.Peek(total)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	end := total - codec.FooterSize
	if codec.CRC16(data[:end]) != order.Uint16(data[end:]) {
		return nil, fmt.Errorf("%w at offset %d: checksum mismatch", ErrCorruption, r.offset)
	}

	frame := make([]byte, total)
	copy(frame, data)
	return &Frame{Offset: r.offset, Header: h, Data: frame}, nil
}

func (r *LogReader) discard(n int) {
	d, _ := r.reader.Discard(n)
	r.offset += int64(d)
}

// Scan reads frames from the current offset to the end of the file, calling
// fn for each valid one. Garbage between frames is skipped by searching for
// the next sync number. A partial frame at the end of the file ends the scan
// and is reported in TrailingBytes. An error from fn stops the scan and is
// returned as is.
func (r *LogReader) Scan(fn func(*Frame) error) (ScanStats, error) {
	var stats ScanStats

	// A frame that runs past the end of the file may still be garbage with a
	// bogus size in front of good frames, so keep scanning and only report it
	// as trailing if nothing valid follows.
	truncatedAt := int64(-1)
	var before ScanStats
	finish := func() ScanStats {
		if truncatedAt >= 0 {
			stats.BytesSkipped = before.BytesSkipped
			stats.Resyncs = before.Resyncs
			stats.TrailingBytes = r.offset - truncatedAt
		}
		return stats
	}

	for {
		f, err := r.peekFrame()
		switch {
		case err == nil:
			r.discard(f.Len())
			truncatedAt = -1
			stats.Frames++
			if err := fn(f); err != nil {
				return stats, err
			}
			continue

		case errors.Is(err, io.EOF):
			return finish(), nil

		case errors.Is(err, io.ErrUnexpectedEOF):
			if truncatedAt < 0 {
				truncatedAt = r.offset
				before = stats
			}

		case errors.Is(err, ErrCorruption):

		default:
			return stats, err
		}

		stats.Resyncs++
		r.discard(1)
		stats.BytesSkipped++
		n, err := r.skipToSync()
		stats.BytesSkipped += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return finish(), nil
			}
			return stats, err
		}
	}
}

// skipToSync discards bytes up to the next sync number in either byte order.
func (r *LogReader) skipToSync() (int64, error) {
	var skipped int64
	for {
		buf, _ := r.reader.Peek(r.reader.Buffered())
		if len(buf) < 2 {
			var err error
			if buf, err = r.reader.Peek(2); len(buf) < 2 {
				if err == nil {
					err = io.EOF
				}
				if errors.Is(err, io.EOF) {
					// A lone trailing byte can not start a frame.
					skipped += int64(len(buf))
					r.discard(len(buf))
				}
				return skipped, err
			}
		}
		if i := codec.FindSync(buf, r.sync); i >= 0 {
			r.discard(i)
			return skipped + int64(i), nil
		}
		n := len(buf) - 1
		r.discard(n)
		skipped += int64(n)
	}
}

// ReadAt reads the frame at a specific offset. It uses positional reads and
// does not move the sequential cursor, so it is safe to call concurrently.
func (r *LogReader) ReadAt(offset int64) (*Frame, error) {
	return ReadFrameAt(r.file, offset, r.sync)
}

// ReadFrameAt reads and verifies one frame from ra at offset.
func ReadFrameAt(ra io.ReaderAt, offset int64, sync uint16) (*Frame, error) {
	hdr := make([]byte, codec.HeaderSize)
	if _, err := ra.ReadAt(hdr, offset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	h, order, total, err := codec.PeekHeader(hdr, sync)
	if err != nil {
		return nil, fmt.Errorf("%w at offset %d: %v", ErrCorruption, offset, err)
	}

	data := make([]byte, total)
	copy(data, hdr)
	if _, err := ra.ReadAt(data[codec.HeaderSize:], offset+codec.HeaderSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	end := total - codec.FooterSize
	if codec.CRC16(data[:end]) != order.Uint16(data[end:]) {
		return nil, fmt.Errorf("%w at offset %d: checksum mismatch", ErrCorruption, offset)
	}
	return &Frame{Offset: offset, Header: h, Data: data}, nil
}

// Seek sets the read offset
func (r *LogReader) Seek(offset int64) error {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.reader.Reset(r.file)
	r.offset = offset
	return nil
}

// Offset returns the current read offset
func (r *LogReader) Offset() int64 {
	return r.offset
}

// Iterator returns a streaming iterator over the remaining frames
func (r *LogReader) Iterator() FrameIterator {
	return &frameIterator{reader: r}
}

// Close closes the log reader
func (r *LogReader) Close() error {
	return r.file.Close()
}

type frameIterator struct {
	reader *LogReader
	frame  *Frame
	err    error
}

func (it *frameIterator) Next() bool {
	it.frame, it.err = it.reader.ReadNextFrame()
	return it.err == nil
}

func (it *frameIterator) Frame() *Frame {
	return it.frame
}

// Err returns the error that stopped iteration, or nil at a clean end.
func (it *frameIterator) Err() error {
	if errors.Is(it.err, io.EOF) {
		return nil
	}
	return it.err
}

func (it *frameIterator) Close() error {
	// The reader is owned by the caller
	return nil
}
