// Package fault defines the stable error codes surfaced by the entry store.
// Callers branch on codes via Is or CodeOf, never on message text.
package fault

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidIdentifier Code = "invalid_identifier"
	AlreadyExists     Code = "already_exists"
	NotFound          Code = "not_found"
	SchemaError       Code = "schema_error"
	LockTimeout       Code = "lock_timeout"
	StorageIO         Code = "storage_io"
	ConflictOnRetry   Code = "conflict_on_retry"
)

// Error pairs a machine-readable code with a human-readable message and an
// optional underlying cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

// CodeOf returns the code carried by err, or the empty code for errors that
// did not originate in the store.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Terminal reports whether err is a final verdict on the request rather than
// a transient failure. Terminal errors are safe to record against an
// idempotency token; transient ones must leave the token unrecorded so a
// retry can re-execute.
func Terminal(err error) bool {
	switch CodeOf(err) {
	case InvalidIdentifier, AlreadyExists, NotFound, SchemaError, ConflictOnRetry:
		return true
	}
	return false
}
