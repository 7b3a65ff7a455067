package lsf

import (
	"time"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// Frame is one checksum-verified frame and where it was found.
type Frame struct {
	Offset int64        // byte offset of the sync number in the file
	Header codec.Header // header as read from the wire
	Data   []byte       // the complete frame, header through footer
}

// Len returns the frame length on disk.
func (f *Frame) Len() int {
	return len(f.Data)
}

// WriterConfig holds configuration for the log writer
type WriterConfig struct {
	FilePath      string           // Path to the Data.lsf file
	FsyncInterval time.Duration    // How often to fsync (0 = every write)
	BufferSize    int              // Write buffer size
	Registry      *schema.Registry // Needed by WriteMessage only
}

// ReaderConfig holds configuration for the log reader
type ReaderConfig struct {
	FilePath    string           // Path to the Data.lsf file
	StartOffset int64            // Offset to start reading from
	Registry    *schema.Registry // Needed by ReadNext only; sync defaults to 0xFE54
}

// ScanStats reports what a resynchronising scan skipped.
type ScanStats struct {
	Frames        int   `json:"frames"`
	Resyncs       int   `json:"resyncs"`
	BytesSkipped  int64 `json:"bytes_skipped"`
	TrailingBytes int64 `json:"trailing_bytes"`
}

// FrameIterator provides streaming access to frames
type FrameIterator interface {
	Next() bool
	Frame() *Frame
	Err() error
	Close() error
}

// Errors
var (
	ErrCorruption = &LogError{"frame corruption detected"}
	ErrNoRegistry = &LogError{"no schema registry configured"}
	ErrNoLog      = &LogError{"no Data.lsf in directory"}
	ErrNoSchema   = &LogError{"no IMC.xml in directory"}
)

// LogError represents an LSF file error
type LogError struct {
	Message string
}

func (e *LogError) Error() string {
	return "lsf: " + e.Message
}
