// Package core provides the tag profile client: it extracts candidate tags
// from text, applies them to the user's profile and records provenance, all
// committed atomically per event.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExtractionUnavailable indicates that no candidates could be
	// extracted. The update still runs, applying decay only.
	ErrExtractionUnavailable = errors.New("tag extraction unavailable")

	// ErrStorageUnavailable indicates that the repository could not load or
	// commit. A failed commit leaves profile and logs unchanged.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// TagError wraps errors with operation context.
//
// Example:
//
//	err := &TagError{
//	    Op:  "Process",
//	    Err: ErrStorageUnavailable,
//	}
//	// Error() returns: "tagprofile: Process: storage unavailable"
type TagError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "tagprofile: <Op>: <Err>"
func (e *TagError) Error() string {
	return fmt.Sprintf("tagprofile: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *TagError) Unwrap() error {
	return e.Err
}

// NewTagError creates a new TagError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewTagError("Process", err)
//	}
func NewTagError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TagError{
		Op:  op,
		Err: err,
	}
}
