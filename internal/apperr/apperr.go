// Package apperr classifies the errors returned by the exchange core.
//
// Every sentinel error in the core is created with New and carries a Kind.
// Callers match individual failures with errors.Is and map whole categories
// (for example to HTTP status codes) with KindOf.
package apperr

import "errors"

// Kind is the category of a failure.
type Kind int

const (
	// Internal is reported for errors that carry no classification.
	Internal Kind = iota
	// Validation: bad input, rejected before any state mutation.
	Validation
	// Authorization: caller may not perform the operation.
	Authorization
	// InsufficientResource: balance, locked funds or position too small.
	InsufficientResource
	// StateConflict: operation not allowed in the current state.
	StateConflict
	// NotFound: lookup of an unknown entity.
	NotFound
	// Fatal: an invariant was violated; the affected pod stops mutating.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case InsufficientResource:
		return "insufficient_resource"
	case StateConflict:
		return "state_conflict"
	case NotFound:
		return "not_found"
	case Fatal:
		return "fatal"
	default:
		return "internal"
	}
}

// Error is a classified sentinel error.
type Error struct {
	kind Kind
	msg  string
}

// New creates a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error category.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the Kind of the first classified error in err's chain,
// or Internal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}
