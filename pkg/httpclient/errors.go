package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryableError reports a request that failed after exhausting retries.
// Provider adapters degrade these into user-facing response text instead
// of failing the turn, so the message stays human-readable.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether err is an exhausted-retries failure caused
// by provider throttling. Nodes log these distinctly from outages since
// the remedy differs.
func RateLimited(err error) bool {
	var rerr *RetryableError
	return errors.As(err, &rerr) && rerr.StatusCode == http.StatusTooManyRequests
}

// RetryAfter returns the provider's suggested wait before trying again,
// zero when err carries no hint.
func RetryAfter(err error) time.Duration {
	var rerr *RetryableError
	if errors.As(err, &rerr) {
		return rerr.RetryAfter
	}
	return 0
}
