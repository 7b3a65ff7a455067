package index

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for entry positions outside [0, Len()).
	ErrOutOfRange = errors.New("entry index out of range")
	// ErrClosed is returned by reads on a closed index.
	ErrClosed = errors.New("index closed")
	// ErrNoSchema is returned when no registry was configured and the log
	// directory holds no IMC.xml.
	ErrNoSchema = errors.New("no schema for log")
)

// IndexError reports a log that could not be opened or read. It is fatal to
// the Build or Append call that returned it and to nothing else.
type IndexError struct {
	Path string
	Op   string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}
