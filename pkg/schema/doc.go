// Package schema loads IMC message definitions and resolves type ids to
// field layouts.
//
// A Registry is built once, from an IMC.xml document (Load, LoadFile) or
// from definitions assembled in code (New), and is read-only afterwards.
// It is passed explicitly to the codec, the framer and the log index; there
// is no process-wide instance.
//
// Loading fails with a *SchemaError wrapping ErrDuplicateID,
// ErrDuplicateName, ErrUnknownKind, ErrUnknownEnum or ErrMalformed.
package schema
