// Package apperror defines the typed failures surfaced by the exchange core
package apperror

import (
	"net/http"

	"github.com/pkg/errors"
)

// Code identifies a class of failure
type Code string

const (
	// ValidationError marks malformed or non-positive input rejected before any transaction
	ValidationError Code = "validation_error"
	// InsufficientBalance marks a reservation that failed the locked balance re-check
	InsufficientBalance Code = "insufficient_balance"
	// UserNotFound marks a missing user row inside a transaction
	UserNotFound Code = "user_not_found"
	// OrderNotFound marks a missing order row inside a transaction
	OrderNotFound Code = "order_not_found"
	// SettlementFailed wraps any failure of a matching pass
	SettlementFailed Code = "settlement_failed"
	// Unauthorized marks a missing or invalid session
	Unauthorized Code = "unauthorized"
	// Conflict marks a uniqueness violation such as a taken username
	Conflict Code = "conflict"
	// Internal is the fallback for anything untyped
	Internal Code = "internal_error"
)

// Error is an application error carrying a Code and an optional cause
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates an Error with a stack trace attached
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: errors.New(message)}
}

// Wrap creates an Error around err, attaching a stack trace if err has none
func Wrap(code Code, message string, err error) *Error {
	if _, ok := err.(StackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &Error{Code: code, Message: message, Err: err}
}

// StackTracer is implemented by errors created with github.com/pkg/errors
type StackTracer interface {
	StackTrace() errors.StackTrace
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StackTrace returns the trace of the underlying cause
func (e *Error) StackTrace() errors.StackTrace {
	if st, ok := e.Err.(StackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// CodeOf returns the code of the outermost *Error in err's chain, or Internal
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Internal
}

// Is reports whether err carries code anywhere in its chain
func Is(err error, code Code) bool {
	for err != nil {
		if appErr, ok := err.(*Error); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Message returns the client-facing message for err
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus maps a code to a response status. Missing users and orders are
// data inconsistencies, not client mistakes
func HTTPStatus(code Code) int {
	switch code {
	case ValidationError, InsufficientBalance:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
