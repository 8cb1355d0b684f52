package biz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// CircuitOpenError is returned when the breaker for a key is OPEN.
// No network attempt was made; the caller should fail fast or fall back
// to an alternate provider.
type CircuitOpenError struct {
	Key         string
	NextAttempt time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q: next attempt allowed at %s",
		e.Key, e.NextAttempt.Format(time.RFC3339))
}

// NonRetryableError wraps a failure that must not be retried (malformed
// request, auth failure, 4xx other than 429). It still counts as a breaker
// failure.
type NonRetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned when all attempts failed with transient
// errors. It carries enough context to diagnose without exposing store
// internals: the breaker key, the attempt count, and the last underlying error.
type RetryExhaustedError struct {
	Key      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed for %q: %v", e.Attempts, e.Key, e.Err)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NoAvailableProviderError is returned when no provider passes the
// availability filters for a query type. The caller owns the degraded path.
type NoAvailableProviderError struct {
	QueryType string
}

// Error implements the error interface.
func (e *NoAvailableProviderError) Error() string {
	if e.QueryType == "" {
		return "no available provider"
	}
	return fmt.Sprintf("no available provider for query type %q", e.QueryType)
}

// HTTPStatusError carries an upstream HTTP status so the orchestrator can
// classify it. Client wrappers raise it for any non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream returned %s", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// IsRetryable reports whether an attempt failure is transient: timeouts,
// connection failures, 5xx-class responses and 429. Anything explicitly
// wrapped in NonRetryableError, and all other 4xx responses, are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	// Attempt timeout follows the same path as a network failure
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
