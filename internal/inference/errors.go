package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrIncompleteStream is returned when a stream closes without a done event.
var ErrIncompleteStream = errors.New("stream closed before completion")

// TransientServiceError is returned once the retry budget is spent on
// errors that could have succeeded later (rate limits, overload, network).
type TransientServiceError struct {
	Attempts int
	Err      error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("model service unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// AuthOrPolicyError is a request the service will never accept as sent:
// bad credentials, a content-policy refusal, an unknown model.
type AuthOrPolicyError struct {
	StatusCode int
	Err        error
}

func (e *AuthOrPolicyError) Error() string {
	return fmt.Sprintf("request rejected (%d): %v", e.StatusCode, e.Err)
}

func (e *AuthOrPolicyError) Unwrap() error { return e.Err }

// ErrCallback wraps an error returned by a stream chunk callback.
type ErrCallback struct{ Err error }

func (e *ErrCallback) Error() string { return "chunk callback: " + e.Err.Error() }
func (e *ErrCallback) Unwrap() error { return e.Err }

type statusError interface {
	HTTPStatus() int
	ErrorType() string
}

type transientError interface {
	Transient() bool
}

type retryDelayer interface {
	RetryDelay() time.Duration
}

const statusOverloaded = 529

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		switch t := se.ErrorType(); {
		case t == "rate_limit_error", t == "overloaded_error", t == "rate_limit_exceeded":
			return true
		case strings.Contains(t, "content"), t == "authentication_error", t == "permission_error":
			return false
		}
		switch code := se.HTTPStatus(); {
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout,
			code == http.StatusConflict, code == http.StatusTooEarly, code == statusOverloaded:
			return true
		case code >= 500:
			return true
		}
		return false
	}

	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	if errors.Is(err, ErrIncompleteStream) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// fatal wraps a non-transient service rejection in AuthOrPolicyError.
// Errors that did not come from the service are returned as-is.
func fatal(err error) error {
	var se statusError
	if errors.As(err, &se) {
		return &AuthOrPolicyError{StatusCode: se.HTTPStatus(), Err: err}
	}
	return err
}

func retryAfter(err error) time.Duration {
	var rd retryDelayer
	if errors.As(err, &rd) {
		return rd.RetryDelay()
	}
	return 0
}
