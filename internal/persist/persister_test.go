package persist

import (
	"context"
	"testing"
	"time"

	"github.com/maktaba/maktaba/internal/book"
	"github.com/maktaba/maktaba/internal/store"
)

func seed(t *testing.T, st store.Store, totalPages int) *Tracker {
	t.Helper()
	tracker, _, err := Seed(context.Background(), st, "43", totalPages, nil)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return tracker
}

func pg(n int) *book.ExtractedPage {
	return &book.ExtractedPage{PageNumber: n, Text: "t"}
}

func TestFlushSizesExactBatches(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, seed(t, st, 10), "43", Config{BatchSize: 4})
	ctx := context.Background()

	for n := 1; n <= 10; n++ {
		if err := p.Add(ctx, pg(n)); err != nil {
			t.Fatalf("Add(%d) failed: %v", n, err)
		}
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("final Flush failed: %v", err)
	}

	want := []int{4, 4, 2}
	if len(st.FlushSizes) != len(want) {
		t.Fatalf("flush sizes = %v, want %v", st.FlushSizes, want)
	}
	for i := range want {
		if st.FlushSizes[i] != want[i] {
			t.Errorf("flush %d size = %d, want %d", i, st.FlushSizes[i], want[i])
		}
	}
	if cp := p.Checkpoint(); cp != 10 {
		t.Errorf("checkpoint = %d, want 10", cp)
	}
}

func TestCheckpointContiguousPrefixOnly(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, seed(t, st, 10), "43", Config{BatchSize: 3})
	ctx := context.Background()

	// Out-of-order completion with page 2 missing.
	for _, n := range []int{1, 3, 4} {
		if err := p.Add(ctx, pg(n)); err != nil {
			t.Fatalf("Add(%d) failed: %v", n, err)
		}
	}

	if cp := p.Checkpoint(); cp != 1 {
		t.Errorf("checkpoint = %d, want 1 (page 2 missing)", cp)
	}
	if st.Checkpoint("43") != 1 {
		t.Errorf("stored checkpoint = %d, want 1", st.Checkpoint("43"))
	}

	// Page 2 arrives; the next flush folds 2,3,4 into the prefix.
	p.Add(ctx, pg(2))
	p.Add(ctx, pg(5))
	p.Add(ctx, pg(6))

	if cp := p.Checkpoint(); cp != 6 {
		t.Errorf("checkpoint = %d, want 6 after gap filled", cp)
	}
}

func TestCommitRetryThenFatal(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailCommits = 1 // first attempt fails, retry succeeds
	p := New(st, seed(t, st, 4), "43", Config{
		BatchSize:        2,
		CommitAttempts:   3,
		CommitRetryDelay: time.Millisecond,
	})
	ctx := context.Background()

	p.Add(ctx, pg(1))
	if err := p.Add(ctx, pg(2)); err != nil {
		t.Fatalf("Add should succeed via retry, got %v", err)
	}
	if st.PageCount("43") != 2 {
		t.Errorf("stored %d pages, want 2", st.PageCount("43"))
	}

	// Exhausting the bounded retry is fatal, checkpoint preserved.
	st.FailCommits = 10
	p.Add(ctx, pg(3))
	if err := p.Add(ctx, pg(4)); err == nil {
		t.Fatal("expected fatal persistence error")
	}
	if cp := st.Checkpoint("43"); cp != 2 {
		t.Errorf("checkpoint = %d, want 2 preserved after fatal batch", cp)
	}
}

func TestSeedSkipsPersistedPages(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// Pages 1-3 and 5 persisted from an earlier run, checkpoint 3.
	b, _ := st.BeginBatch(ctx, "43")
	for _, n := range []int{1, 2, 3, 5} {
		b.Append(pg(n))
	}
	b.Commit(ctx, 3)

	tracker, res, err := Seed(ctx, st, "43", 6, nil)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	want := []int{4, 6}
	if len(res.Pending) != len(want) {
		t.Fatalf("pending = %v, want %v", res.Pending, want)
	}
	for i := range want {
		if res.Pending[i] != want[i] {
			t.Errorf("pending[%d] = %d, want %d", i, res.Pending[i], want[i])
		}
	}
	if res.Skipped != 4 {
		t.Errorf("skipped = %d, want 4", res.Skipped)
	}
	if tracker.Checkpoint() != 3 {
		t.Errorf("tracker checkpoint = %d, want 3", tracker.Checkpoint())
	}

	// Once page 4 lands, 5 folds in too.
	tracker.Confirm([]int{4})
	if tracker.Checkpoint() != 5 {
		t.Errorf("checkpoint = %d, want 5 after gap filled", tracker.Checkpoint())
	}
}

func TestSeedReattemptPages(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	b, _ := st.BeginBatch(ctx, "43")
	for n := 1; n <= 3; n++ {
		b.Append(pg(n))
	}
	b.Commit(ctx, 3)

	_, res, err := Seed(ctx, st, "43", 3, []int{2})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if len(res.Pending) != 1 || res.Pending[0] != 2 {
		t.Errorf("pending = %v, want [2]", res.Pending)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	st := store.NewMemoryStore()
	tracker := seed(t, st, 5)

	if cp := tracker.Preview([]int{1, 2}); cp != 2 {
		t.Errorf("Preview = %d, want 2", cp)
	}
	if tracker.Checkpoint() != 0 {
		t.Errorf("Preview mutated checkpoint to %d", tracker.Checkpoint())
	}
}
