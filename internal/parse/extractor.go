// Package parse turns raw reader HTML into structured page records.
//
// Two backends implement Extractor: a fast selector-driven extractor
// tuned to the reader markup, and a lenient readability-based fallback.
// Chain runs them in order and fails the page only when every backend
// comes back empty.
package parse

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maktaba/maktaba/internal/book"
)

// ErrUnparseable is returned when no backend produced page text.
// The page is marked failed; the book run continues.
var ErrUnparseable = errors.New("no extractor produced page text")

// Extractor produces a structured page record from raw markup.
type Extractor interface {
	Name() string
	Extract(rawHTML string, pageNumber int) (*book.ExtractedPage, error)
}

// Chain tries each backend in order until one yields non-empty text.
type Chain struct {
	backends []Extractor
	logger   *slog.Logger
}

// NewChain builds the backend order from the fast-parser preference:
// preferred first, the other as fallback.
func NewChain(useFastParser bool, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	fast := NewFastExtractor()
	lenient := NewReadabilityExtractor()

	backends := []Extractor{fast, lenient}
	if !useFastParser {
		backends = []Extractor{lenient, fast}
	}
	return &Chain{
		backends: backends,
		logger:   logger.With("component", "parse"),
	}
}

// Extract runs the backend chain. A page that cannot be parsed is never
// silently recorded as empty text.
func (c *Chain) Extract(rawHTML string, pageNumber int) (*book.ExtractedPage, error) {
	var lastErr error
	for i, backend := range c.backends {
		page, err := backend.Extract(rawHTML, pageNumber)
		if err != nil {
			lastErr = err
			if i+1 < len(c.backends) {
				c.logger.Debug("extractor failed, trying fallback",
					"page", pageNumber, "extractor", backend.Name(), "error", err)
			}
			continue
		}
		if strings.TrimSpace(page.Text) == "" {
			lastErr = fmt.Errorf("%s returned empty text", backend.Name())
			continue
		}
		return page, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("page %d: %w: %w", pageNumber, ErrUnparseable, lastErr)
	}
	return nil, fmt.Errorf("page %d: %w", pageNumber, ErrUnparseable)
}

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	titlePageNum   = regexp.MustCompile(`[صس]\s*[:：]?\s*([0-9]+)`)
	arabicDigits   = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	)
)

// cleanText normalizes extracted text: trims, collapses runs of three
// or more newlines, and strips zero-width joiners.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "‌", "")
	text = strings.ReplaceAll(text, "‍", "")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// wordCount counts whitespace-separated tokens.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// printedPageNumber pulls the printed (original-pagination) page number
// out of the document title, converting Arabic-Hindi digits first.
func printedPageNumber(title string) int {
	m := titlePageNum.FindStringSubmatch(arabicDigits.Replace(title))
	if m == nil {
		return 0
	}
	var n int
	fmt.Sscanf(m[1], "%d", &n)
	return n
}
