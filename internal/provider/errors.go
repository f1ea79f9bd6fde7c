package provider

import (
	"fmt"
	"time"
)

// APIError is a non-200 response from a model service.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	// Type is the vendor error type when it is known ("rate_limit_error",
	// "content_policy_violation", "overloaded_error").
	Type       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Provider, e.StatusCode, e.Type, e.Body)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// StreamError reports a stream that ended without its terminal event.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ErrorType returns the vendor error type, if any.
func (e *APIError) ErrorType() string { return e.Type }

// RetryDelay returns the Retry-After hint, zero when absent.
func (e *APIError) RetryDelay() time.Duration { return e.RetryAfter }

// Transient reports that a cut stream may be retried.
func (e *StreamError) Transient() bool { return true }
