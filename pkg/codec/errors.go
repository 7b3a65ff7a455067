package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated     = errors.New("truncated frame")
	ErrBadChecksum   = errors.New("checksum mismatch")
	ErrUnknownType   = errors.New("unknown message type")
	ErrFieldMismatch = errors.New("field mismatch")
	ErrBadSync       = errors.New("bad synchronization number")
	ErrTooLarge      = errors.New("payload too large")
)

// CodecError describes why a single message could not be encoded or decoded.
// It is always recoverable: callers skip the message and carry on.
type CodecError struct {
	Kind   error // one of the Err* sentinels above
	MgID   uint16
	Field  string
	Detail string
}

func (e *CodecError) Error() string {
	msg := "codec: " + e.Kind.Error()
	if e.MgID != 0 {
		msg += fmt.Sprintf(" (mgid %d)", e.MgID)
	}
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CodecError) Unwrap() error {
	return e.Kind
}

func newError(kind error, mgid uint16, field, format string, args ...any) *CodecError {
	return &CodecError{Kind: kind, MgID: mgid, Field: field, Detail: fmt.Sprintf(format, args...)}
}
