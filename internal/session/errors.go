package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "unavailable"
	KindPersistence ErrorKind = "persistence_failure"
	KindValidation  ErrorKind = "validation_failure"
	KindRaceDiscard ErrorKind = "race_discard"
)

var (
	// ErrClosed is returned by every method once Close has run.
	ErrClosed = errors.New("session closed")

	// ErrWrongState is returned when an operation is not allowed in the
	// current state.
	ErrWrongState = errors.New("operation not allowed in current state")

	// ErrIncomplete is returned by manual submit while questions are unanswered.
	ErrIncomplete = errors.New("not every question is answered")

	// ErrNoConfirmation is returned by ConfirmSubmit without an open confirmation.
	ErrNoConfirmation = errors.New("no submit confirmation pending")
)

// Error is a classified session failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not a session error.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewValidationError classifies err as a validation failure of op. Transport
// layers use it for malformed requests that never reach a session.
func NewValidationError(op string, err error) *Error {
	return newError(KindValidation, op, err)
}
