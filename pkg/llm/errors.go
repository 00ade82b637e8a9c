package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the dispatch and batch layers.
var (
	// ErrAttemptsExhausted is wrapped into a failed Result when the
	// retry budget runs out.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrCancelled is wrapped into a failed Result when the caller's
	// context ends before a final outcome.
	ErrCancelled = errors.New("cancelled")
)

// ConfigurationError is a fatal pre-dispatch error: missing credential,
// unset model, unknown provider. No network call is attempted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// RateLimitError is a retryable provider throttling response (429).
type RateLimitError struct {
	StatusCode int
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Body)
}

// TransientNetworkError covers timeouts, connection resets and
// 5xx-class server errors. Retryable.
type TransientNetworkError struct {
	StatusCode int // 0 when the failure happened before a response
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient server error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RequestRejectedError is a fatal provider rejection: malformed payload,
// invalid model, authentication failure (4xx other than 429).
type RequestRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("request rejected (status %d): %s", e.StatusCode, e.Body)
}

// DecodeError means the response body was unparseable. The raw bytes
// are preserved on the failed Result.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode response: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable reports whether err belongs to a retryable class.
func Retryable(err error) bool {
	var rl *RateLimitError
	var tn *TransientNetworkError
	return errors.As(err, &rl) || errors.As(err, &tn)
}
