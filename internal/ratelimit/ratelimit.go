// Package ratelimit bounds the aggregate outbound request rate.
//
// One Limiter is shared by every fetch path inside a process. The
// multiprocess tier gives each child its own limiter (processes do not
// share memory), so aggregate compliance there is approximate.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter implements a token bucket refilled at a fixed rate.
type Limiter struct {
	mu sync.Mutex

	// Configuration
	requestsPerSecond float64
	burst             float64

	// Token bucket state
	tokens     float64
	lastUpdate time.Time

	// Statistics
	totalConsumed int64
	totalWaited   time.Duration
	lastCooldown  time.Time
}

// Status reports current limiter state.
type Status struct {
	TokensAvailable int           `json:"tokens_available"`
	Burst           int           `json:"burst"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	LastCooldown    time.Time     `json:"last_cooldown,omitempty"`
}

// New creates a limiter refilling at requestsPerSecond.
// Burst capacity is the refill rate rounded up, so a quiet limiter can
// absorb at most one second of traffic instantly.
func New(requestsPerSecond float64) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1.0
	}
	burst := math.Ceil(requestsPerSecond)
	return &Limiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		tokens:            burst,
		lastUpdate:        time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()

		if l.tokens >= 1.0 {
			l.tokens--
			l.totalConsumed++
			l.mu.Unlock()
			return nil
		}

		tokensNeeded := 1.0 - l.tokens
		waitTime := time.Duration(tokensNeeded / l.requestsPerSecond * float64(time.Second))
		l.mu.Unlock()

		// Wait outside the lock so other acquirers can refill.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			l.mu.Lock()
			l.totalWaited += waitTime
			l.mu.Unlock()
		}
	}
}

// Cooldown drains the bucket after a rate-limit response from the
// server, forcing all fetch paths to pause beyond their normal backoff.
// A non-zero penalty additionally pushes the refill clock back so the
// bucket stays empty for at least that long.
func (l *Limiter) Cooldown(penalty time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastCooldown = time.Now()
	l.tokens = 0
	if penalty > 0 {
		l.lastUpdate = time.Now().Add(penalty)
	}
}

// Status returns a snapshot of the limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	return Status{
		TokensAvailable: int(l.tokens),
		Burst:           int(l.burst),
		TotalConsumed:   l.totalConsumed,
		TotalWaited:     l.totalWaited,
		LastCooldown:    l.lastCooldown,
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	l.lastUpdate = now

	l.tokens += elapsed * l.requestsPerSecond
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}
