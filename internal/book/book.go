package book

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Book identifies one paginated book on the source site.
// Immutable after construction; shared by reference across the pipeline.
type Book struct {
	ID            string `json:"id" yaml:"id"`
	TotalPages    int    `json:"total_pages" yaml:"total_pages"`
	SourceBaseURL string `json:"source_base_url" yaml:"source_base_url"`
}

// New validates inputs and returns a Book with a normalized id.
func New(id string, totalPages int, baseURL string) (*Book, error) {
	id = NormalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("empty book id")
	}
	if totalPages < 1 {
		return nil, fmt.Errorf("book %s: total pages must be positive, got %d", id, totalPages)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("book %s: empty source base URL", id)
	}
	return &Book{
		ID:            id,
		TotalPages:    totalPages,
		SourceBaseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// NormalizeID accepts both "BK000043" and "43" style ids and returns
// the bare numeric form the reader URLs use.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if rest, ok := strings.CutPrefix(id, "BK"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return strconv.Itoa(n)
		}
	}
	return id
}

// PageURL returns the reader URL for one page of this book.
func (b *Book) PageURL(pageNumber int) string {
	return fmt.Sprintf("%s/book/%s/%d", b.SourceBaseURL, b.ID, pageNumber)
}

// PageMeta carries structural metadata extracted alongside the page text.
type PageMeta struct {
	Title             string `json:"title,omitempty" yaml:"title,omitempty"`
	WordCount         int    `json:"word_count" yaml:"word_count"`
	PrintedPageNumber int    `json:"printed_page_number,omitempty" yaml:"printed_page_number,omitempty"`
	Parser            string `json:"parser" yaml:"parser"`
}

// ExtractedPage is the immutable parse result for one page.
type ExtractedPage struct {
	PageNumber int      `json:"page_number" yaml:"page_number"`
	Text       string   `json:"text" yaml:"text"`
	Meta       PageMeta `json:"meta" yaml:"meta"`
}

// ExtractionResult summarizes one pipeline run. Read-only for callers.
type ExtractionResult struct {
	BookID          string        `json:"book_id" yaml:"book_id"`
	RunID           string        `json:"run_id" yaml:"run_id"`
	Strategy        string        `json:"strategy" yaml:"strategy"`
	PagesTotal      int           `json:"pages_total" yaml:"pages_total"`
	PagesSucceeded  int           `json:"pages_succeeded" yaml:"pages_succeeded"`
	PagesFailed     int           `json:"pages_failed" yaml:"pages_failed"`
	PagesIncomplete int           `json:"pages_incomplete" yaml:"pages_incomplete"`
	PagesSkipped    int           `json:"pages_skipped" yaml:"pages_skipped"`
	FailedPages     []int         `json:"failed_pages,omitempty" yaml:"failed_pages,omitempty"`
	IncompletePages []int         `json:"incomplete_pages,omitempty" yaml:"incomplete_pages,omitempty"`
	Checkpoint      int           `json:"checkpoint" yaml:"checkpoint"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
}
