package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	// KindConfiguration covers bad or empty input tables and unknown options.
	// Fatal before any network access.
	KindConfiguration ErrorKind = "configuration_error"
	// KindSourceUnavailable means axes or a variable handle could not be loaded.
	KindSourceUnavailable ErrorKind = "source_unavailable"
	// KindLocationMatch means no grid cell lies within tolerance of a location.
	KindLocationMatch ErrorKind = "location_match_failure"
	// KindSliceFetch means a per-location read failed after its retry budget.
	KindSliceFetch ErrorKind = "slice_fetch_failure"
)

// ErrIndexNotFound is returned when no persisted spatial index exists.
var ErrIndexNotFound = errors.New("spatial index not found")

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates an Error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
