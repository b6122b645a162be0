package parse

import (
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/maktaba/maktaba/internal/book"
)

// ReadabilityExtractor is the lenient backend. It hands the whole
// document to go-readability's content scoring, which copes with
// markup the selector chain does not recognize.
type ReadabilityExtractor struct{}

// NewReadabilityExtractor returns the readability-based extractor.
func NewReadabilityExtractor() *ReadabilityExtractor { return &ReadabilityExtractor{} }

func (e *ReadabilityExtractor) Name() string { return "readability" }

func (e *ReadabilityExtractor) Extract(rawHTML string, pageNumber int) (*book.ExtractedPage, error) {
	// go-readability wants a document URL for resolving relative links;
	// the pages are self-contained so a placeholder is fine.
	u, _ := url.Parse("https://localhost/")

	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(rawHTML), u)
	if err != nil {
		return nil, fmt.Errorf("readability parse: %w", err)
	}

	text := cleanText(article.TextContent)
	title := strings.TrimSpace(article.Title)

	return &book.ExtractedPage{
		PageNumber: pageNumber,
		Text:       text,
		Meta: book.PageMeta{
			Title:             title,
			WordCount:         wordCount(text),
			PrintedPageNumber: printedPageNumber(title),
			Parser:            e.Name(),
		},
	}, nil
}
