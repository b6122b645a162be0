package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/config"
	"github.com/maktaba/maktaba/internal/fetch"
	"github.com/maktaba/maktaba/internal/parse"
	"github.com/maktaba/maktaba/internal/ratelimit"
	"github.com/maktaba/maktaba/internal/task"
)

const (
	msgPage = "page"
	msgFail = "fail"
)

// shardMessage is one line of the child-to-parent JSONL protocol.
type shardMessage struct {
	Kind       string              `json:"kind"`
	Page       *book.ExtractedPage `json:"page,omitempty"`
	PageNumber int                 `json:"page_number,omitempty"`
	Attempts   int                 `json:"attempts,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// ShardSpec describes the page range a child process works on.
type ShardSpec struct {
	Book      *book.Book
	FirstPage int
	LastPage  int

	// SkipThrough is the parent's checkpoint at spawn time; pages at or
	// below it are already durable and are not fetched.
	SkipThrough int

	// Reattempt lists pages to fetch even though they sit at or below
	// SkipThrough, mirroring the run-level reattempt option.
	Reattempt []int
}

// RunShard is the child-process entrypoint of the multiprocess tier.
// It fetches and parses its page range with its own session, limiter,
// and parser chain, and streams every outcome to out as JSON lines.
// Nothing is persisted here; the parent owns the store.
func RunShard(ctx context.Context, spec ShardSpec, cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("shard", spec.FirstPage, "book", spec.Book.ID)

	sink := newStreamSink(out)
	r := &run{
		book: spec.Book,
		cfg:  cfg,
		session: fetch.NewSession(fetch.SessionConfig{
			Timeout:         cfg.Source.FetchTimeout,
			MaxConnsPerHost: cfg.Source.MaxConnsPerHost,
			UserAgent:       cfg.Source.UserAgent,
			Logger:          logger,
		}),
		limiter: ratelimit.New(cfg.Source.RequestsPerSec),
		chain:   parse.NewChain(cfg.Extraction.UseFastParser, logger),
		sink:    sink,
		logger:  logger,
	}

	again := make(map[int]bool, len(spec.Reattempt))
	for _, n := range spec.Reattempt {
		again[n] = true
	}

	var tasks []*task.Task
	for n := spec.FirstPage; n <= spec.LastPage; n++ {
		if n <= spec.SkipThrough && !again[n] {
			continue
		}
		tasks = append(tasks, task.New(n))
	}
	if len(tasks) == 0 {
		return nil
	}
	r.total = len(tasks)

	var err error
	if len(tasks) < cfg.Extraction.ThreadThreshold {
		err = r.runSequential(ctx, tasks)
	} else {
		err = r.runThreadPool(ctx, tasks, cfg.Extraction.WorkerCount)
	}
	if err != nil {
		return err
	}

	// Failures travel the same stream as pages so the parent can mark
	// its own tasks without a second channel.
	for _, t := range tasks {
		if t.Status() == task.StatusFailed {
			if werr := sink.fail(t.PageNumber(), t.Attempts(), t.LastErr()); werr != nil {
				return werr
			}
		}
	}
	return nil
}
