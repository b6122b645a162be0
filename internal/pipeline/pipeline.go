// Package pipeline orchestrates a book extraction run: seeding resume
// state, selecting an execution tier, driving page tasks through fetch
// and parse, and routing completed pages into the batch persister.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/config"
	"github.com/maktaba/maktaba/internal/fetch"
	"github.com/maktaba/maktaba/internal/parse"
	"github.com/maktaba/maktaba/internal/persist"
	"github.com/maktaba/maktaba/internal/ratelimit"
	"github.com/maktaba/maktaba/internal/store"
	"github.com/maktaba/maktaba/internal/strategy"
	"github.com/maktaba/maktaba/internal/task"
)

// flushGrace bounds the final flush after the run context is cancelled,
// so buffered pages still land before the process exits.
const flushGrace = 15 * time.Second

// Options tunes a single Extract call.
type Options struct {
	Logger *slog.Logger

	// OnPage is called after each page reaches a terminal state.
	OnPage func(completed, total int)

	// Reattempt lists previously persisted pages to fetch again.
	Reattempt []int

	// Executable overrides the binary spawned for multiprocess shards.
	// Defaults to the current executable.
	Executable string
}

// run bundles the shared dependencies every tier needs.
type run struct {
	book    *book.Book
	cfg     *config.Config
	session *fetch.Session
	limiter *ratelimit.Limiter
	chain   *parse.Chain
	sink    pageSink
	tracker *persist.Tracker
	logger  *slog.Logger

	exe       string
	reattempt []int
	completed atomic.Int64
	total     int
	onPage    func(completed, total int)
}

// Extract runs the full pipeline for a book and returns a summary.
// A non-nil result is returned even when err is non-nil: a persistence
// failure or cancellation still reports what landed, and the stored
// checkpoint reflects only committed pages.
func Extract(ctx context.Context, bk *book.Book, cfg *config.Config, st store.Store, opts Options) (*book.ExtractionResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("book", bk.ID, "run", runID)

	tracker, seed, err := persist.Seed(ctx, st, bk.ID, bk.TotalPages, opts.Reattempt)
	if err != nil {
		return nil, err
	}

	result := &book.ExtractionResult{
		BookID:     bk.ID,
		RunID:      runID,
		PagesTotal: bk.TotalPages,
	}

	if len(seed.Pending) == 0 {
		logger.Info("nothing to do, book fully persisted", "checkpoint", seed.Checkpoint)
		result.Strategy = string(strategy.TierSequential)
		result.PagesSkipped = seed.Skipped
		result.Checkpoint = tracker.Checkpoint()
		result.Duration = time.Since(start)
		return result, nil
	}

	selector := strategy.NewSelector(strategy.Thresholds{
		Thread:       cfg.Extraction.ThreadThreshold,
		Async:        cfg.Extraction.AsyncThreshold,
		Multiprocess: cfg.Extraction.MultiprocessThreshold,
	}, cfg.Extraction.WorkerCount, cfg.Extraction.MinShardPages)
	plan := selector.Select(len(seed.Pending), cfg.Extraction.ForceSequential)

	logger.Info("starting extraction",
		"strategy", plan.Tier,
		"pending", len(seed.Pending),
		"skipped", seed.Skipped,
		"checkpoint", seed.Checkpoint)

	persister := persist.New(st, tracker, bk.ID, persist.Config{
		BatchSize:        cfg.Storage.BatchSize,
		CommitAttempts:   cfg.Storage.CommitAttempts,
		CommitRetryDelay: cfg.Storage.CommitRetryDelay,
		Logger:           logger,
	})

	exe := opts.Executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return nil, err
		}
	}

	r := &run{
		book: bk,
		cfg:  cfg,

		session: fetch.NewSession(fetch.SessionConfig{
			Timeout:         cfg.Source.FetchTimeout,
			MaxConnsPerHost: cfg.Source.MaxConnsPerHost,
			UserAgent:       cfg.Source.UserAgent,
			Logger:          logger,
		}),
		limiter:   ratelimit.New(cfg.Source.RequestsPerSec),
		chain:     parse.NewChain(cfg.Extraction.UseFastParser, logger),
		sink:      persisterSink{p: persister},
		tracker:   tracker,
		logger:    logger,
		exe:       exe,
		reattempt: opts.Reattempt,
		total:     len(seed.Pending),
		onPage:    opts.OnPage,
	}

	tasks := make([]*task.Task, len(seed.Pending))
	for i, n := range seed.Pending {
		tasks[i] = task.New(n)
	}

	var runErr error
	switch plan.Tier {
	case strategy.TierSequential:
		runErr = r.runSequential(ctx, tasks)
	case strategy.TierThreadPool:
		runErr = r.runThreadPool(ctx, tasks, plan.WorkerCount)
	case strategy.TierAsync:
		runErr = r.runAsync(ctx, tasks)
	case strategy.TierMultiprocess:
		runErr = r.runMultiprocess(ctx, tasks, shardPlan(seed.Pending, len(plan.Shards), cfg.Extraction.MinShardPages))
	}

	// The final flush must land even when the run context is gone.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushGrace)
	defer cancel()
	flushErr := persister.Flush(flushCtx)

	// Pages only count as persisted once their batch committed.
	for _, t := range tasks {
		if t.Status() == task.StatusParsed && tracker.Persisted(t.PageNumber()) {
			_ = t.Transition(task.StatusPersisted)
		}
	}

	for _, t := range tasks {
		switch {
		case t.Status() == task.StatusPersisted:
			result.PagesSucceeded++
		case t.Status() == task.StatusFailed:
			result.PagesFailed++
			result.FailedPages = append(result.FailedPages, t.PageNumber())
		default:
			result.PagesIncomplete++
			result.IncompletePages = append(result.IncompletePages, t.PageNumber())
		}
	}
	result.Strategy = string(plan.Tier)
	result.PagesSkipped = seed.Skipped
	result.Checkpoint = tracker.Checkpoint()
	result.Duration = time.Since(start)

	logger.Info("extraction finished",
		"succeeded", result.PagesSucceeded,
		"failed", result.PagesFailed,
		"incomplete", result.PagesIncomplete,
		"checkpoint", result.Checkpoint,
		"duration", result.Duration)

	return result, errors.Join(runErr, flushErr)
}

// shardPlan maps contiguous shards onto the actual pending page range.
// Pages inside the range that are already persisted are refetched by
// the child and dropped by the parent's tracker check, which keeps the
// child protocol free of page lists.
func shardPlan(pending []int, shardCount, minShardPages int) []strategy.Shard {
	base := pending[0] - 1
	span := pending[len(pending)-1] - base
	shards := strategy.PartitionPages(span, shardCount, minShardPages)
	for i := range shards {
		shards[i].FirstPage += base
		shards[i].LastPage += base
	}
	return shards
}

// pageDone records one task reaching a terminal state.
func (r *run) pageDone() {
	n := r.completed.Add(1)
	if r.onPage != nil {
		r.onPage(int(n), r.total)
	}
}
