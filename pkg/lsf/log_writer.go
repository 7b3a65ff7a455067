package lsf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

const defaultWriteBuffer = 64 * 1024

// LogWriter appends frames to a Data.lsf file
type LogWriter struct {
	file       *os.File
	writer     *bufio.Writer
	fsyncTimer *time.Timer
	config     WriterConfig
	sync       uint16
	mutex      sync.Mutex
	offset     int64 // Current write offset
	closed     bool
}

// NewLogWriter opens or creates the log file for appending
func NewLogWriter(config WriterConfig) (*LogWriter, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultWriteBuffer
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	// Seek to end for append behavior
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}

	w := &LogWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, config.BufferSize),
		config: config,
		sync:   schema.DefaultSyncNumber,
		offset: size,
	}
	if config.Registry != nil {
		w.sync = config.Registry.SyncNumber()
	}

	if config.FsyncInterval > 0 {
		w.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			w.mutex.Lock()
			defer w.mutex.Unlock()
			if !w.closed {
				w.flush() // Ignore error in timer callback
			}
		})
	}

	return w, nil
}

// WriteFrame appends an encoded frame and returns the offset it starts at.
// The frame must be complete: its declared size has to match its length.
func (w *LogWriter) WriteFrame(frame []byte) (int64, error) {
	_, _, total, err := codec.PeekHeader(frame, w.sync)
	if err != nil {
		return 0, err
	}
	if total != len(frame) {
		return 0, fmt.Errorf("%w: frame declares %d bytes, got %d", ErrCorruption, total, len(frame))
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.write(frame)
}

// WriteMessage encodes m and appends it.
func (w *LogWriter) WriteMessage(m *codec.Message) (int64, error) {
	if w.config.Registry == nil {
		return 0, ErrNoRegistry
	}
	frame, err := codec.Encode(m, w.config.Registry)
	if err != nil {
		return 0, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.write(frame)
}

func (w *LogWriter) write(frame []byte) (int64, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.writer.Write(frame)
	if err != nil {
		return 0, err
	}

	frameOffset := w.offset
	w.offset += int64(n)

	if w.config.FsyncInterval == 0 {
		if err := w.flush(); err != nil {
			return 0, err
		}
	} else if w.fsyncTimer != nil {
		w.fsyncTimer.Reset(w.config.FsyncInterval)
	}

	return frameOffset, nil
}

// Sync forces a fsync to disk
func (w *LogWriter) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	return w.flush()
}

func (w *LogWriter) flush() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes pending frames and closes the file
func (w *LogWriter) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.fsyncTimer != nil {
		w.fsyncTimer.Stop()
	}

	if err := w.flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Size returns the current size of the log file
func (w *LogWriter) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// Path returns the file path
func (w *LogWriter) Path() string {
	return w.config.FilePath
}
