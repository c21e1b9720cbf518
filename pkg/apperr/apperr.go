// Package apperr defines the error taxonomy shared by services, hooks,
// storage adapters and transports. Every failure crossing a layer boundary
// carries one of these kinds so transports can map it to a wire status
// without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is the zero kind for errors not created by this package.
	KindUnknown Kind = iota

	// KindNotFound means a missing identifier or record.
	KindNotFound

	// KindBadRequest means a malformed query or payload.
	KindBadRequest

	// KindUnauthenticated means the call carries no usable identity.
	KindUnauthenticated

	// KindForbidden means the identity is known but not allowed.
	KindForbidden

	// KindConflict means a uniqueness violation from the backing store.
	KindConflict

	// KindUnavailable means the backing store is unreachable.
	KindUnavailable
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindBadRequest:
		return "bad-request"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to an HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error without losing its chain.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for the common kinds.

// NotFound creates a not-found error.
func NotFound(msg string) *Error { return New(KindNotFound, msg) }

// NotFoundf creates a formatted not-found error.
func NotFoundf(format string, args ...any) *Error { return Newf(KindNotFound, format, args...) }

// BadRequest creates a bad-request error.
func BadRequest(msg string) *Error { return New(KindBadRequest, msg) }

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, msg) }

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

// Conflict creates a conflict error.
func Conflict(msg string) *Error { return New(KindConflict, msg) }

// Unavailable wraps a store outage.
func Unavailable(msg string, err error) *Error { return Wrap(KindUnavailable, msg, err) }
