package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maktaba/maktaba/internal/book"
)

const schema = `
CREATE TABLE IF NOT EXISTS pages (
    book_id TEXT NOT NULL,
    page_number INTEGER NOT NULL,
    text TEXT NOT NULL,
    title TEXT,
    word_count INTEGER NOT NULL DEFAULT 0,
    printed_page_number INTEGER,
    parser TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (book_id, page_number)
);

CREATE TABLE IF NOT EXISTS checkpoints (
    book_id TEXT PRIMARY KEY,
    page INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// SQLiteStore persists page records in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer keeps batch commits serialized; WAL lets readers
	// (export, status) run alongside.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginBatch starts a write transaction for one batch.
func (s *SQLiteStore) BeginBatch(ctx context.Context, bookID string) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &sqliteBatch{tx: tx, bookID: bookID}, nil
}

// LastCheckpoint returns the stored checkpoint for the book, 0 if none.
func (s *SQLiteStore) LastCheckpoint(ctx context.Context, bookID string) (int, error) {
	var page int
	err := s.db.QueryRowContext(ctx,
		"SELECT page FROM checkpoints WHERE book_id = ?", bookID).Scan(&page)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint for %s: %w", bookID, err)
	}
	return page, nil
}

// PersistedPages returns the set of page numbers stored for the book.
func (s *SQLiteStore) PersistedPages(ctx context.Context, bookID string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT page_number FROM pages WHERE book_id = ?", bookID)
	if err != nil {
		return nil, fmt.Errorf("list persisted pages for %s: %w", bookID, err)
	}
	defer rows.Close()

	pages := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		pages[n] = true
	}
	return pages, rows.Err()
}

// Pages reads back every stored page of a book in page order.
// Used by export, not by the extraction pipeline.
func (s *SQLiteStore) Pages(ctx context.Context, bookID string) ([]*book.ExtractedPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number, text, COALESCE(title, ''), word_count,
		       COALESCE(printed_page_number, 0), COALESCE(parser, '')
		FROM pages WHERE book_id = ? ORDER BY page_number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("read pages for %s: %w", bookID, err)
	}
	defer rows.Close()

	var pages []*book.ExtractedPage
	for rows.Next() {
		p := &book.ExtractedPage{}
		if err := rows.Scan(&p.PageNumber, &p.Text, &p.Meta.Title,
			&p.Meta.WordCount, &p.Meta.PrintedPageNumber, &p.Meta.Parser); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

type sqliteBatch struct {
	tx     *sql.Tx
	bookID string
	done   bool
}

func (b *sqliteBatch) Append(page *book.ExtractedPage) error {
	// INSERT OR REPLACE keeps shard-requeue replays idempotent.
	_, err := b.tx.Exec(`
		INSERT OR REPLACE INTO pages
		(book_id, page_number, text, title, word_count, printed_page_number, parser)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.bookID, page.PageNumber, page.Text, page.Meta.Title,
		page.Meta.WordCount, page.Meta.PrintedPageNumber, page.Meta.Parser)
	if err != nil {
		return fmt.Errorf("append page %d: %w", page.PageNumber, err)
	}
	return nil
}

func (b *sqliteBatch) Commit(ctx context.Context, checkpoint int) error {
	if checkpoint > 0 {
		// Never let a commit move the checkpoint backwards.
		_, err := b.tx.Exec(`
			INSERT INTO checkpoints (book_id, page, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(book_id) DO UPDATE SET
				page = MAX(page, excluded.page),
				updated_at = excluded.updated_at`,
			b.bookID, checkpoint, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("advance checkpoint: %w", err)
		}
	}
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.done = true
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.done {
		return nil
	}
	return b.tx.Rollback()
}
