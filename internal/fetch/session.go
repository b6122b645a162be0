// Package fetch provides the pooled HTTP session the execution tiers
// share, with response classification into transient, permanent, and
// rate-limited failures.
package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// SessionConfig configures a Session.
type SessionConfig struct {
	// Timeout applies per fetch attempt, not per page lifetime.
	Timeout time.Duration

	// MaxConnsPerHost bounds the connection pool toward the book host.
	MaxConnsPerHost int

	// UserAgent overrides the default browser user agent.
	UserAgent string

	Logger *slog.Logger
}

// Session wraps a pooled, reusable HTTP client. One Session is shared
// by every fetch path of a run (each child process of the multiprocess
// tier builds its own).
type Session struct {
	client *resty.Client
	logger *slog.Logger
}

// NewSession creates a session with a bounded connection pool.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 30
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost * 2,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "ar,en-US;q=0.7,en;q=0.3").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Session{
		client: client,
		logger: logger.With("component", "fetch"),
	}
}

// Fetch performs one GET attempt and classifies the outcome.
// Retrying is the caller's job; Fetch never retries internally so the
// page task's attempt count stays accurate.
func (s *Session) Fetch(ctx context.Context, url string) (string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		// Context cancellation propagates as-is so tiers can shut down.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{URL: url, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests:
		return "", &RateLimitedError{URL: url, RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"))}
	case status >= 500:
		return "", &TransientError{URL: url, StatusCode: status, Err: errStatus(status)}
	case status >= 400:
		return "", &PermanentError{URL: url, StatusCode: status}
	}

	body := string(resp.Body())
	if blocked(body) {
		// Block/challenge pages come back as 200; treat as transient so
		// the retry loop backs off and tries again.
		s.logger.Warn("response looks like a block page", "url", url, "bytes", len(body))
		return "", &TransientError{URL: url, StatusCode: status, Err: errBlocked}
	}
	return body, nil
}

type statusError int

func (e statusError) Error() string { return "server returned status " + strconv.Itoa(int(e)) }

func errStatus(code int) error { return statusError(code) }

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errBlocked = sentinelError("response body looks blocked or empty")

// blocked applies the response validation rules from the reliability
// layer: tiny bodies and well-known challenge markers are rejected.
func blocked(body string) bool {
	if len(body) < 100 {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range []string{
		"access denied",
		"temporarily unavailable",
		"server error",
		"too many requests",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Backoff returns the sleep before retry attempt n (1-based), doubling
// from base with jitter and a 10s cap.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	delay := base << uint(attempt-1)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	// Jitter: -20% to +30%, keyed off the clock like the provider client.
	factor := 0.8 + 0.5*float64(time.Now().UnixNano()%1000)/1000
	return time.Duration(float64(delay) * factor)
}
