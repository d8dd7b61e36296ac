// Package apperr defines the error taxonomy shared by the market engine.
//
// Every domain operation reports failures as an *Error carrying a Kind, so
// transports can map it (HTTP status, CLI exit) without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindValidation is malformed caller input. Never retried automatically.
	KindValidation Kind = "validation"
	// KindNotFound is a referenced entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict is an illegal state transition or duplicate.
	KindConflict Kind = "conflict"
	// KindTransaction is an atomic write that failed and was rolled back.
	// Safe to retry from scratch.
	KindTransaction Kind = "transaction"
)

// Error is the engine error type.
type Error struct {
	Kind    Kind
	Op      string // e.g. "commission: validate"
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Kind matches any *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// HTTPStatus maps the kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrTransaction = &Error{Kind: KindTransaction}
)

// Validation returns a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Transaction wraps cause as a KindTransaction error. If cause is already an
// *Error it is returned unchanged so domain kinds survive the rollback.
func Transaction(op string, cause error) error {
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: KindTransaction, Op: op, Message: "transaction rolled back", Cause: cause}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Status returns the HTTP status for err; non-engine errors map to 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
