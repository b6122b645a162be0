package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maktaba/maktaba/internal/store"
)

// Tracker owns the resume checkpoint for one run. It advances the
// checkpoint under contiguous-prefix semantics: the checkpoint is the
// highest n for which every page <= n is persisted, so out-of-order
// completion never overstates progress.
type Tracker struct {
	mu sync.Mutex

	bookID     string
	checkpoint int
	// persisted holds pages > checkpoint that have landed out of order.
	persisted map[int]bool
}

// SeedResult describes the work left for a run after consulting the
// stored checkpoint.
type SeedResult struct {
	// Pending lists page numbers still to fetch, ascending.
	Pending []int
	// Skipped is how many pages were already persisted.
	Skipped int
	// Checkpoint is the stored checkpoint the run resumes from.
	Checkpoint int
}

// Seed reads the book's durable state and returns a Tracker plus the
// pages a run must still fetch: everything above the checkpoint that is
// not already persisted, plus any pages the caller explicitly wants
// re-attempted.
func Seed(ctx context.Context, st store.Store, bookID string, totalPages int, reattempt []int) (*Tracker, *SeedResult, error) {
	checkpoint, err := st.LastCheckpoint(ctx, bookID)
	if err != nil {
		return nil, nil, fmt.Errorf("seed resume state: %w", err)
	}
	done, err := st.PersistedPages(ctx, bookID)
	if err != nil {
		return nil, nil, fmt.Errorf("seed resume state: %w", err)
	}

	t := &Tracker{
		bookID:     bookID,
		checkpoint: checkpoint,
		persisted:  make(map[int]bool),
	}
	for n := range done {
		if n > checkpoint {
			t.persisted[n] = true
		}
	}
	t.advanceLocked()

	again := make(map[int]bool, len(reattempt))
	for _, n := range reattempt {
		if n >= 1 && n <= totalPages {
			again[n] = true
		}
	}

	res := &SeedResult{Checkpoint: checkpoint}
	for n := 1; n <= totalPages; n++ {
		if done[n] && !again[n] {
			res.Skipped++
			continue
		}
		res.Pending = append(res.Pending, n)
	}
	sort.Ints(res.Pending)
	return t, res, nil
}

// Checkpoint returns the current contiguous-prefix checkpoint.
func (t *Tracker) Checkpoint() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoint
}

// Persisted reports whether page n is known durably stored.
func (t *Tracker) Persisted(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return n <= t.checkpoint || t.persisted[n]
}

// Preview returns the checkpoint value that would hold if the given
// pages were persisted, without mutating state. The persister passes
// this value into the batch commit so pages and checkpoint advance in
// one transaction.
func (t *Tracker) Preview(pages []int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	staged := make(map[int]bool, len(pages))
	for _, n := range pages {
		staged[n] = true
	}
	cp := t.checkpoint
	for staged[cp+1] || t.persisted[cp+1] {
		cp++
	}
	return cp
}

// Confirm records that the given pages are durably persisted and
// advances the checkpoint. Called only after a successful commit.
func (t *Tracker) Confirm(pages []int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range pages {
		if n > t.checkpoint {
			t.persisted[n] = true
		}
	}
	t.advanceLocked()
}

// advanceLocked folds contiguous out-of-order pages into the
// checkpoint. Must be called with the lock held.
func (t *Tracker) advanceLocked() {
	for t.persisted[t.checkpoint+1] {
		t.checkpoint++
		delete(t.persisted, t.checkpoint)
	}
}
