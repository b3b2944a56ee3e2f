package memory

import (
	"errors"
	"fmt"
)

var errMissing = errors.New("record not found")

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the record was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the write conflicted with existing data.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false for the memory store.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf("%w: %s", errMissing, fmt.Sprintf(format, args...)), notFound: true}
}

func conflict(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}
