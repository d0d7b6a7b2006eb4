// Package errors defines the typed error taxonomy shared across the control
// plane: every recoverable failure is attributable to exactly one Kind and
// carries the operation that produced it.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on failure mode
// (retry, surface to operator, raise an algedonic signal) without parsing
// message text.
type Kind string

const (
	InvalidInput          Kind = "invalid_input"
	Unauthorized          Kind = "unauthorized"
	Unavailable           Kind = "unavailable"
	Timeout                Kind = "timeout"
	InsufficientResources Kind = "insufficient_resources"
	NotFound              Kind = "not_found"
	AlreadyRegistered     Kind = "already_registered"
	RecursionLimitExceeded Kind = "recursion_limit_exceeded"
	AlreadyInProgress     Kind = "already_in_progress"
	Internal              Kind = "internal"
	Transport             Kind = "transport"
)

// Error wraps an underlying cause with an operation name and a Kind, in the
// style callers expect from fmt.Errorf("%w", ...) chains but with a
// programmatically inspectable classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error with the given kind, operation, and underlying
// cause. err may be nil when the kind itself is the whole story.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, walking the unwrap chain. Returns
// Internal if err does not carry a classified Kind — callers should treat
// that as "unclassified failure" rather than a specific contract violation.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
