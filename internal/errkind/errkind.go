// Package errkind defines the typed error kinds used across the control
// plane (§7) and the HTTP status/code mapping for them.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error classifications. Every component returns
// errors wrapping one of these instead of raw driver/library errors.
type Kind string

const (
	Validation         Kind = "validation"
	Auth               Kind = "auth"
	Policy             Kind = "policy"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	PreconditionFailed Kind = "precondition_failed"
	BackendUnavailable Kind = "backend_unavailable"
	Canceled           Kind = "canceled"
	Timeout            Kind = "timeout"
	Internal           Kind = "internal"
)

// Error is the typed error every component returns. Code is a short,
// stable, machine-readable token; Message is human-facing; Details carries
// optional structured context (e.g. field errors).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error that wraps cause, preserving errors.Is/As compatibility.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Is reports whether err is an *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// a *Error (i.e. it escaped from a component that forgot to classify it).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// NotFoundf is a convenience constructor for the common not-found case.
func NotFoundf(code, format string, args ...any) *Error {
	return New(NotFound, code, fmt.Sprintf(format, args...))
}

// Conflictf is a convenience constructor for the common conflict case.
func Conflictf(code, format string, args ...any) *Error {
	return New(Conflict, code, fmt.Sprintf(format, args...))
}

// Validationf is a convenience constructor for the common validation case.
func Validationf(code, format string, args ...any) *Error {
	return New(Validation, code, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a Kind to the status code the Control API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case Policy:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PreconditionFailed:
		return http.StatusPreconditionFailed
	case BackendUnavailable:
		return http.StatusServiceUnavailable
	case Canceled:
		return 499
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
