package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireConsumesBurst(t *testing.T) {
	l := New(5.0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst acquisition took %v, expected near-instant", elapsed)
	}
}

func TestRateBoundedUnderManyWorkers(t *testing.T) {
	const rps = 20.0
	const workers = 8
	const window = 1 * time.Second

	l := New(rps)
	// Drain the initial burst so the measurement sees refill only.
	for i := 0; i < int(rps); i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("drain Acquire failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := l.Acquire(ctx); err != nil {
					return
				}
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	// Allow 30% tolerance for refill granularity at window edges.
	limit := int64(rps * window.Seconds() * 1.3)
	if got := acquired.Load(); got > limit {
		t.Errorf("acquired %d tokens in %v, want <= %d", got, window, limit)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New(0.5)
	ctx := context.Background()

	// Exhaust the single burst token.
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("initial Acquire failed: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(cctx); err == nil {
		t.Error("expected context error on empty bucket")
	}
}

func TestCooldownDrainsTokens(t *testing.T) {
	l := New(100.0)
	l.Cooldown(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("expected Acquire to block during cooldown penalty")
	}

	st := l.Status()
	if st.LastCooldown.IsZero() {
		t.Error("Status should record cooldown time")
	}
}
