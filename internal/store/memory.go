package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/maktaba/maktaba/internal/book"
)

// MemoryStore is an in-memory Store used by tests. It records flush
// sizes and can inject commit failures.
type MemoryStore struct {
	mu          sync.Mutex
	pages       map[string]map[int]*book.ExtractedPage
	checkpoints map[string]int

	// FlushSizes records the page count of every successful commit.
	FlushSizes []int

	// FailCommits makes the next N commits fail.
	FailCommits int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:       make(map[string]map[int]*book.ExtractedPage),
		checkpoints: make(map[string]int),
	}
}

func (s *MemoryStore) BeginBatch(ctx context.Context, bookID string) (Batch, error) {
	return &memoryBatch{store: s, bookID: bookID}, nil
}

func (s *MemoryStore) LastCheckpoint(ctx context.Context, bookID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[bookID], nil
}

func (s *MemoryStore) PersistedPages(ctx context.Context, bookID string) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]bool, len(s.pages[bookID]))
	for n := range s.pages[bookID] {
		out[n] = true
	}
	return out, nil
}

// Page returns a stored page, or nil.
func (s *MemoryStore) Page(bookID string, n int) *book.ExtractedPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[bookID][n]
}

// PageCount returns how many pages are stored for the book.
func (s *MemoryStore) PageCount(bookID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages[bookID])
}

// Checkpoint returns the stored checkpoint value.
func (s *MemoryStore) Checkpoint(bookID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[bookID]
}

type memoryBatch struct {
	store  *MemoryStore
	bookID string
	staged []*book.ExtractedPage
}

func (b *memoryBatch) Append(page *book.ExtractedPage) error {
	b.staged = append(b.staged, page)
	return nil
}

func (b *memoryBatch) Commit(ctx context.Context, checkpoint int) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommits > 0 {
		s.FailCommits--
		return fmt.Errorf("injected commit failure")
	}

	if s.pages[b.bookID] == nil {
		s.pages[b.bookID] = make(map[int]*book.ExtractedPage)
	}
	for _, p := range b.staged {
		s.pages[b.bookID][p.PageNumber] = p
	}
	if checkpoint > s.checkpoints[b.bookID] {
		s.checkpoints[b.bookID] = checkpoint
	}
	s.FlushSizes = append(s.FlushSizes, len(b.staged))
	return nil
}

func (b *memoryBatch) Rollback() error {
	b.staged = nil
	return nil
}
