package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maktaba/maktaba/internal/task"
)

// runSequential processes pages strictly in order, one at a time.
// The smallest tier, and the reference behavior for all others.
func (r *run) runSequential(ctx context.Context, tasks []*task.Task) error {
	for _, t := range tasks {
		if err := r.handlePage(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// runThreadPool feeds tasks through a shared channel to a fixed set of
// workers. The unbuffered channel plus the persister's flush lock give
// natural backpressure: producers stall while a batch commits.
func (r *run) runThreadPool(ctx context.Context, tasks []*task.Task, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan *task.Task)

	g.Go(func() error {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range jobs {
				if err := r.handlePage(ctx, t); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// runAsync launches one goroutine per page, bounded by a weighted
// semaphore so at most AsyncInFlight pages are active at once. The
// shared rate limiter still governs actual request pacing; the
// semaphore only caps memory held by in-flight bodies.
func (r *run) runAsync(ctx context.Context, tasks []*task.Task) error {
	sem := semaphore.NewWeighted(int64(r.cfg.Extraction.AsyncInFlight))
	g, ctx := errgroup.WithContext(ctx)

	for _, t := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; workers carry the real error.
			break
		}
		t := t
		g.Go(func() error {
			defer sem.Release(1)
			return r.handlePage(ctx, t)
		})
	}

	return g.Wait()
}
