package fetch

import (
	"errors"
	"fmt"
	"time"
)

// TransientError covers timeouts, connection failures, and 5xx
// responses. The page runner retries these with backoff.
type TransientError struct {
	URL        string
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient failure fetching %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure fetching %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers 4xx responses other than 429. The page is
// marked failed without retry.
type PermanentError struct {
	URL        string
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure fetching %s: status %d", e.URL, e.StatusCode)
}

// RateLimitedError is returned for 429 responses. Retried like a
// transient error, but the shared limiter is put into cooldown first.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration // 0 if the server sent no Retry-After
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited fetching %s (retry after %v)", e.URL, e.RetryAfter)
}

// Retryable reports whether err should be retried by the page runner.
func Retryable(err error) bool {
	var te *TransientError
	var re *RateLimitedError
	return errors.As(err, &te) || errors.As(err, &re)
}
