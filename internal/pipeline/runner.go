package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/fetch"
	"github.com/maktaba/maktaba/internal/persist"
	"github.com/maktaba/maktaba/internal/task"
)

// pageSink receives completed pages. The parent run routes them into
// the batch persister; shard children stream them to stdout instead.
type pageSink interface {
	Emit(ctx context.Context, page *book.ExtractedPage) error
}

type persisterSink struct {
	p *persist.Persister
}

func (s persisterSink) Emit(ctx context.Context, page *book.ExtractedPage) error {
	return s.p.Add(ctx, page)
}

// streamSink writes one JSON message per completed page. Used by shard
// child processes; the parent decodes the stream and persists.
type streamSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStreamSink(w io.Writer) *streamSink {
	return &streamSink{enc: json.NewEncoder(w)}
}

func (s *streamSink) Emit(_ context.Context, page *book.ExtractedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(shardMessage{Kind: msgPage, Page: page})
}

func (s *streamSink) fail(pageNumber int, attempts int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(shardMessage{
		Kind:       msgFail,
		PageNumber: pageNumber,
		Attempts:   attempts,
		Error:      err.Error(),
	})
}

// processPage drives one task from Pending to Parsed, honoring the
// shared rate limiter and the bounded retry policy.
//
// A nil page with a nil error means the page failed terminally and was
// recorded on the task; only run-fatal conditions (cancellation) return
// a non-nil error, leaving the task non-terminal.
func (r *run) processPage(ctx context.Context, t *task.Task) (*book.ExtractedPage, error) {
	url := r.book.PageURL(t.PageNumber())

	for {
		if err := t.Transition(task.StatusFetching); err != nil {
			return nil, err
		}

		if err := r.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		body, err := r.session.Fetch(ctx, url)
		if err == nil {
			if err := t.Transition(task.StatusFetched); err != nil {
				return nil, err
			}
			if err := t.Transition(task.StatusParsing); err != nil {
				return nil, err
			}

			page, perr := r.chain.Extract(body, t.PageNumber())
			if perr != nil {
				r.logger.Warn("page unparseable", "page", t.PageNumber(), "error", perr)
				t.Fail(perr)
				r.pageDone()
				return nil, nil
			}
			if err := t.Transition(task.StatusParsed); err != nil {
				return nil, err
			}
			return page, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A 429 penalizes the shared limiter so every worker slows down,
		// not just the one that got throttled.
		var rl *fetch.RateLimitedError
		if errors.As(err, &rl) {
			r.limiter.Cooldown(rl.RetryAfter)
		}

		if fetch.Retryable(err) && t.Retry(err, r.cfg.Extraction.MaxAttempts) {
			delay := fetch.Backoff(r.cfg.Extraction.BackoffBase, t.Attempts())
			r.logger.Warn("retrying page",
				"page", t.PageNumber(),
				"attempt", t.Attempts(),
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		r.logger.Warn("page failed", "page", t.PageNumber(), "attempts", t.Attempts(), "error", err)
		t.Fail(err)
		r.pageDone()
		return nil, nil
	}
}

// handlePage runs one task end to end and emits the result. Shared by
// every in-process tier.
func (r *run) handlePage(ctx context.Context, t *task.Task) error {
	page, err := r.processPage(ctx, t)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}
	if err := r.sink.Emit(ctx, page); err != nil {
		return err
	}
	r.pageDone()
	return nil
}
