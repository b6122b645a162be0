// Package persist buffers completed pages and commits them in durable,
// checkpointed batches.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/store"
)

// Config configures a Persister.
type Config struct {
	// BatchSize triggers a flush once the buffer holds this many pages.
	BatchSize int

	// CommitAttempts bounds the retry loop around a failing commit
	// before the error becomes fatal for the run.
	CommitAttempts int

	// CommitRetryDelay is the initial delay between commit retries.
	CommitRetryDelay time.Duration

	Logger *slog.Logger
}

// Persister owns the persistence batch for a run. Exactly one logical
// Persister writes for a run; every tier routes completed pages here.
// Add blocks while a flush is in progress, which is the backpressure
// the threaded tiers rely on.
type Persister struct {
	mu sync.Mutex

	st      store.Store
	tracker *Tracker
	bookID  string
	cfg     Config
	logger  *slog.Logger

	buf []*book.ExtractedPage

	// persistedCount counts pages durably committed by this run.
	persistedCount int
	flushes        int
}

// New creates a Persister writing through st for one book run.
func New(st store.Store, tracker *Tracker, bookID string, cfg Config) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.CommitAttempts <= 0 {
		cfg.CommitAttempts = 3
	}
	if cfg.CommitRetryDelay <= 0 {
		cfg.CommitRetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		st:      st,
		tracker: tracker,
		bookID:  bookID,
		cfg:     cfg,
		logger:  logger.With("component", "persist", "book", bookID),
	}
}

// Add buffers a completed page, flushing when the batch is full.
// The returned error is fatal for the run (persistence sink failure
// after bounded retries); page-level problems never reach here.
func (p *Persister) Add(ctx context.Context, page *book.ExtractedPage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, page)
	if len(p.buf) < p.cfg.BatchSize {
		return nil
	}
	return p.flushLocked(ctx)
}

// Flush commits whatever the buffer currently holds. Called at run end
// and on cancellation; a no-op for an empty buffer.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

// Checkpoint returns the current contiguous checkpoint.
func (p *Persister) Checkpoint() int {
	return p.tracker.Checkpoint()
}

// PersistedCount returns how many pages this run has committed.
func (p *Persister) PersistedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistedCount
}

// Flushes returns how many non-empty flushes have completed.
func (p *Persister) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

// flushLocked commits the buffered pages atomically together with the
// checkpoint advance. Must be called with the lock held.
func (p *Persister) flushLocked(ctx context.Context) error {
	if len(p.buf) == 0 {
		return nil
	}

	pages := p.buf
	nums := make([]int, len(pages))
	for i, pg := range pages {
		nums[i] = pg.PageNumber
	}
	checkpoint := p.tracker.Preview(nums)

	err := retry.Do(
		func() error {
			batch, err := p.st.BeginBatch(ctx, p.bookID)
			if err != nil {
				return err
			}
			defer batch.Rollback()

			for _, pg := range pages {
				if err := batch.Append(pg); err != nil {
					return err
				}
			}
			return batch.Commit(ctx, checkpoint)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.cfg.CommitAttempts)),
		retry.Delay(p.cfg.CommitRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("batch commit failed, retrying",
				"attempt", n+1, "pages", len(pages), "error", err)
		}),
	)
	if err != nil {
		// Buffer is retained; the caller decides to abort the run. The
		// last successful checkpoint is untouched.
		return fmt.Errorf("persist batch of %d pages: %w", len(pages), err)
	}

	p.tracker.Confirm(nums)
	p.persistedCount += len(pages)
	p.flushes++
	p.buf = nil

	p.logger.Debug("batch flushed",
		"pages", len(pages), "checkpoint", p.tracker.Checkpoint())
	return nil
}
