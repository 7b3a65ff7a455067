package schema

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID   = errors.New("duplicate message id")
	ErrDuplicateName = errors.New("duplicate name")
	ErrUnknownKind   = errors.New("unknown field type")
	ErrUnknownEnum   = errors.New("unknown enumeration")
	ErrMalformed     = errors.New("malformed schema")
)

// SchemaError is returned when a schema source cannot be turned into a Registry.
type SchemaError struct {
	Message string // message abbreviation, if known
	Field   string // field abbreviation, if known
	Err     error
}

func (e *SchemaError) Error() string {
	switch {
	case e.Message != "" && e.Field != "":
		return fmt.Sprintf("schema: message %s field %s: %v", e.Message, e.Field, e.Err)
	case e.Message != "":
		return fmt.Sprintf("schema: message %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("schema: %v", e.Err)
	}
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
