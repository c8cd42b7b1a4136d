// Package apierror defines the error taxonomy returned by the skrape client
// API failures carry a machine-readable Code, response parsing failures are
// reported as ValidationError
package apierror

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies the class of an APIError so callers can branch without
// matching on message text
type Code string

const (
	CodeRateLimited       Code = "rate_limited"
	CodeUnauthorized      Code = "unauthorized"
	CodeOverloaded        Code = "overloaded"
	CodeRequestFailed     Code = "request_failed"
	CodeTransport         Code = "transport"
	CodeMalformedResponse Code = "malformed_response"
)

// DefaultRetryAfter is used when a 429 response carries no usable Retry-After header
const DefaultRetryAfter = 10 * time.Second

var (
	// ErrClientClosed is returned by every operation on a client after Close
	ErrClientClosed = errors.New("skrape: client is closed")

	// ErrInvalidInput is wrapped by errors about caller-supplied arguments
	// rejected before any request is sent
	ErrInvalidInput = errors.New("skrape: invalid input")
)

// APIError reports a failed exchange with the remote service: a transport
// failure, a non-2xx response or an unreadable body
type APIError struct {
	Code       Code
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidationError reports a response body that does not match the expected
// result shape: a missing required field or a value of the wrong type
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := "response validation failed"
	if e.Field != "" {
		msg += " at " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewRateLimited builds the error for a 429 response
func NewRateLimited(retryAfter time.Duration) *APIError {
	return &APIError{
		Code:       CodeRateLimited,
		StatusCode: 429,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("rate limit exceeded, try again in %d seconds", int(retryAfter/time.Second)),
	}
}

// NewTransport wraps a failure that happened before a response was received
func NewTransport(err error) *APIError {
	return &APIError{
		Code:    CodeTransport,
		Message: "api request failed",
		Err:     err,
	}
}

// Invalid wraps ErrInvalidInput with a description of the rejected argument
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// AsAPIError unwraps err to an *APIError if it contains one
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a rate-limit rejection and how long the
// service asked the caller to wait
func IsRateLimited(err error) (time.Duration, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Code != CodeRateLimited {
		return 0, false
	}
	return apiErr.RetryAfter, true
}

func IsUnauthorized(err error) bool {
	return hasCode(err, CodeUnauthorized)
}

func IsOverloaded(err error) bool {
	return hasCode(err, CodeOverloaded)
}

// IsValidation reports whether err is a response validation failure
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

func hasCode(err error, code Code) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}
