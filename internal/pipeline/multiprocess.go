package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/maktaba/maktaba/internal/strategy"
	"github.com/maktaba/maktaba/internal/task"
)

// scanBufMax bounds one JSONL message from a shard child. Book pages
// are a few KB of text; 16MB leaves very generous headroom.
const scanBufMax = 16 << 20

// sinkFailure wraps an error from the parent's own persistence path.
// Unlike a child crash it must abort the run, never requeue the shard.
type sinkFailure struct {
	err error
}

func (e *sinkFailure) Error() string { return e.err.Error() }
func (e *sinkFailure) Unwrap() error { return e.err }

// shardRouter is the parent-side view of all shard streams: which task
// a page belongs to and which pages have already been accepted into
// the persister. The emitted set is what makes requeued shards
// idempotent; task status alone cannot tell an accepted page from one
// whose Emit failed.
type shardRouter struct {
	mu      sync.Mutex
	byPage  map[int]*task.Task
	emitted map[int]bool
}

func newShardRouter(tasks []*task.Task) *shardRouter {
	byPage := make(map[int]*task.Task, len(tasks))
	for _, t := range tasks {
		byPage[t.PageNumber()] = t
	}
	return &shardRouter{byPage: byPage, emitted: make(map[int]bool)}
}

func (sr *shardRouter) task(n int) (*task.Task, bool) {
	t, ok := sr.byPage[n]
	return t, ok
}

func (sr *shardRouter) alreadyEmitted(n int) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.emitted[n]
}

func (sr *shardRouter) markEmitted(n int) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.emitted[n] = true
}

// runMultiprocess partitions the pending range into shards and runs
// each in a child process (the binary re-executed with the hidden shard
// command). Children fetch and parse only, streaming results as JSON
// lines; the parent stays the single writer to the store, so batching
// and checkpoint atomicity are unchanged from the other tiers.
func (r *run) runMultiprocess(ctx context.Context, tasks []*task.Task, shards []strategy.Shard) error {
	router := newShardRouter(tasks)

	// Children pace themselves independently, so the global budget is
	// split across them.
	shardRate := r.cfg.Source.RequestsPerSec / float64(len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			return r.runShardProcess(ctx, sh, shardRate, router)
		})
	}
	return g.Wait()
}

// runShardProcess spawns one child for a shard and consumes its output.
// A crashed child is requeued once; pages accepted before the crash are
// deduplicated on the rerun, and anything the second attempt also loses
// is marked failed rather than aborting the other shards. A failure in
// the parent's persistence path is run-fatal and is never requeued.
func (r *run) runShardProcess(ctx context.Context, sh strategy.Shard, rate float64, router *shardRouter) error {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		err := r.spawnShard(ctx, sh, rate, router)
		if err == nil {
			return nil
		}
		var sf *sinkFailure
		if errors.As(err, &sf) {
			return sf.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		r.logger.Warn("shard process failed",
			"shard", sh.Index,
			"first", sh.FirstPage,
			"last", sh.LastPage,
			"attempt", attempt,
			"error", err)
	}

	// Second crash: record the shard's unfinished pages and move on.
	for n := sh.FirstPage; n <= sh.LastPage; n++ {
		t, ok := router.task(n)
		if !ok || t.Terminal() || router.alreadyEmitted(n) {
			continue
		}
		t.Fail(fmt.Errorf("shard %d failed twice: %w", sh.Index, lastErr))
		r.pageDone()
	}
	return nil
}

func (r *run) spawnShard(ctx context.Context, sh strategy.Shard, rate float64, router *shardRouter) error {
	args := []string{
		"shard",
		"--book", r.book.ID,
		"--base-url", r.book.SourceBaseURL,
		"--first", strconv.Itoa(sh.FirstPage),
		"--last", strconv.Itoa(sh.LastPage),
		"--skip-through", strconv.Itoa(r.tracker.Checkpoint()),
		"--rate", strconv.FormatFloat(rate, 'f', -1, 64),
		"--max-attempts", strconv.Itoa(r.cfg.Extraction.MaxAttempts),
		"--workers", strconv.Itoa(r.cfg.Extraction.WorkerCount),
		"--thread-threshold", strconv.Itoa(r.cfg.Extraction.ThreadThreshold),
	}
	if !r.cfg.Extraction.UseFastParser {
		args = append(args, "--no-fast-parser")
	}
	if again := reattemptInRange(r.reattempt, sh); len(again) > 0 {
		args = append(args, "--reattempt", joinInts(again))
	}

	cmd := exec.CommandContext(ctx, r.exe, args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), scanBufMax)
	var consumeErr error
	for scanner.Scan() {
		if err := r.consumeShardLine(ctx, scanner.Bytes(), router); err != nil {
			consumeErr = err
			break
		}
	}
	if consumeErr == nil {
		consumeErr = scanner.Err()
	}
	if consumeErr != nil {
		// Stop the child instead of letting it block on a pipe nobody
		// reads anymore.
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	return waitErr
}

func (r *run) consumeShardLine(ctx context.Context, line []byte, router *shardRouter) error {
	var msg shardMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("bad shard message: %w", err)
	}

	switch msg.Kind {
	case msgPage:
		if msg.Page == nil {
			return errors.New("shard page message without page")
		}
		n := msg.Page.PageNumber
		t, ok := router.task(n)
		if !ok {
			// Not part of this run; the child raced past a checkpoint
			// that advanced after it was spawned.
			return nil
		}
		if router.alreadyEmitted(n) {
			// A requeued shard resent a page the persister accepted.
			return nil
		}
		markParsed(t)
		if err := r.sink.Emit(ctx, msg.Page); err != nil {
			return &sinkFailure{err: err}
		}
		router.markEmitted(n)
		r.pageDone()
	case msgFail:
		if t, ok := router.task(msg.PageNumber); ok && !t.Terminal() {
			t.Fail(errors.New(msg.Error))
			r.pageDone()
		}
	default:
		return fmt.Errorf("unknown shard message kind %q", msg.Kind)
	}
	return nil
}

// markParsed walks a task the parent never fetched itself through the
// lifecycle; the child already did the work.
func markParsed(t *task.Task) {
	if t.Status() == task.StatusPending {
		_ = t.Transition(task.StatusFetching)
		_ = t.Transition(task.StatusFetched)
		_ = t.Transition(task.StatusParsing)
		_ = t.Transition(task.StatusParsed)
	}
}

// reattemptInRange filters the run's reattempt list down to one shard.
func reattemptInRange(reattempt []int, sh strategy.Shard) []int {
	var out []int
	for _, n := range reattempt {
		if n >= sh.FirstPage && n <= sh.LastPage {
			out = append(out, n)
		}
	}
	return out
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
