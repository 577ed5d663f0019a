package models

import (
	"errors"
	"net/http"
)

// Error taxonomy. Callers distinguish retryable from non-retryable failures
// with Retryable; HTTP handlers map them to status codes with HTTPStatus.
var (
	// ErrResourceExhausted means the worker pool (or its wait queue) is at
	// capacity. Retryable.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrSessionCreationFailed means the pool could not supply a worker
	// within the admission deadline. Retryable.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrTimeout means the command deadline elapsed before the browser
	// operation completed. The caller decides whether to retry.
	ErrTimeout = errors.New("command deadline exceeded")

	// ErrNavigation is a browser-reported navigation failure (bad URL,
	// unreachable host). The session remains usable.
	ErrNavigation = errors.New("navigation error")

	// ErrExecution is a browser-reported action failure (script exception,
	// element not found). The session remains usable.
	ErrExecution = errors.New("execution error")

	// ErrOverloaded means the admission queue is full. Retryable with backoff.
	ErrOverloaded = errors.New("overloaded")

	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("expired")
	ErrConflict = errors.New("conflict")
)

// Retryable reports whether the caller may retry the request as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, ErrSessionCreationFailed) ||
		errors.Is(err, ErrOverloaded)
}

// ErrorCode returns the wire identifier for a taxonomy error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return "ResourceExhausted"
	case errors.Is(err, ErrSessionCreationFailed):
		return "SessionCreationFailed"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrNavigation):
		return "NavigationError"
	case errors.Is(err, ErrExecution):
		return "ExecutionError"
	case errors.Is(err, ErrOverloaded):
		return "Overloaded"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrExpired):
		return "Expired"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	default:
		return "Internal"
	}
}

// HTTPStatus maps a taxonomy error to its response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, ErrSessionCreationFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNavigation), errors.Is(err, ErrExecution):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the structured error body returned to clients.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// NewErrorResponse builds the wire form of an error.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{
		Error:     err.Error(),
		Code:      ErrorCode(err),
		Retryable: Retryable(err),
	}
}
