// Package store defines the persistence sink the pipeline writes page
// records through, plus the SQLite implementation used by the CLI and
// an in-memory implementation used by tests.
package store

import (
	"context"
	"time"

	"github.com/maktaba/maktaba/internal/book"
)

// Checkpoint records the highest page number for which all pages up to
// and including it are durably persisted for a book.
type Checkpoint struct {
	BookID    string    `json:"book_id"`
	Page      int       `json:"page"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch accumulates page records for one atomic commit.
type Batch interface {
	// Append stages a page record in the batch.
	Append(page *book.ExtractedPage) error

	// Commit durably writes every staged page and advances the book's
	// checkpoint to the given value in the same transaction. Either
	// everything lands or nothing does. A checkpoint of 0 leaves the
	// stored checkpoint untouched.
	Commit(ctx context.Context, checkpoint int) error

	// Rollback discards the staged pages. Safe to call after Commit.
	Rollback() error
}

// Store is the persistence sink contract the core depends on.
type Store interface {
	// BeginBatch starts a new atomic batch for the book.
	BeginBatch(ctx context.Context, bookID string) (Batch, error)

	// LastCheckpoint returns the book's stored checkpoint, or 0 when
	// the book has never been persisted.
	LastCheckpoint(ctx context.Context, bookID string) (int, error)

	// PersistedPages returns the page numbers already stored for the
	// book. Used by resume seeding so out-of-order pages beyond the
	// contiguous checkpoint are not fetched twice.
	PersistedPages(ctx context.Context, bookID string) (map[int]bool, error)
}
