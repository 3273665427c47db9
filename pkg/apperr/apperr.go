// Package apperr defines the error taxonomy shared by the conversation
// service and its transports. Codes classify whether a caller should retry
// automatically (RATE_LIMIT only) or surface the failure to the user.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Validation  Code = "VALIDATION"
	Forbidden   Code = "FORBIDDEN"
	NotFound    Code = "NOT_FOUND"
	Conflict    Code = "CONFLICT"
	RateLimit   Code = "RATE_LIMIT"
	Unsupported Code = "UNSUPPORTED"
	Internal    Code = "INTERNAL"
)

// Error carries a taxonomy code alongside a human-readable message.
// RetryAfterMs is set only for RATE_LIMIT denials.
type Error struct {
	Code         Code
	Msg          string
	RetryAfterMs int64
	wrapped      error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), wrapped: err}
}

// RateLimited builds a RATE_LIMIT error carrying the retry hint.
func RateLimited(retryAfterMs int64) *Error {
	return &Error{Code: RateLimit, Msg: "rate limited", RetryAfterMs: retryAfterMs}
}

// CodeOf extracts the taxonomy code from err, or Internal when err carries
// no code.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// RetryAfterOf returns the retry hint of a RATE_LIMIT error, 0 otherwise.
func RetryAfterOf(err error) int64 {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfterMs
	}
	return 0
}

// HTTPStatus maps a taxonomy code to its wire status.
func HTTPStatus(code Code) int {
	switch code {
	case Validation:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimit:
		return http.StatusTooManyRequests
	case Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
