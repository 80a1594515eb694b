package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions.
var (
	// ErrMissingBaseURL is returned when the client has no backend URL.
	ErrMissingBaseURL = errors.New("pipeline: backend URL required")

	// ErrEmptyTranscription is returned when transcription succeeds but
	// yields no text. Treated like a transient failure: listen again.
	ErrEmptyTranscription = errors.New("pipeline: transcription returned no text")
)

// APIError represents an error response from the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the backend, if any.
	Message string

	// Endpoint identifies which operation failed.
	Endpoint string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pipeline [%s]: API error %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pipeline [%s]: API error %d", e.Endpoint, e.StatusCode)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// OpError wraps an error with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("pipeline [%s]: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// wrapOp wraps an error with operation context.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
