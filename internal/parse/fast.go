package parse

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maktaba/maktaba/internal/book"
)

// contentSelectors is the priority-ordered list of selectors the reader
// markup is known to use for the page body.
var contentSelectors = []string{
	"#book", "div#text", "article", "div.reader-text",
	"div.col-md-9", "div.nass", ".book-content", ".page-content", "main",
}

// unwantedSelectors are stripped from the content node before text
// extraction. <hr>, <br>, and footnote blocks are deliberately kept.
var unwantedSelectors = []string{
	"script", "style", "nav", ".share", ".social", ".ad",
	".advertisement", ".menu", ".sidebar", ".header", ".footer",
}

// FastExtractor is the primary selector-driven backend.
type FastExtractor struct{}

// NewFastExtractor returns the selector-driven extractor.
func NewFastExtractor() *FastExtractor { return &FastExtractor{} }

func (e *FastExtractor) Name() string { return "fast" }

// Extract locates the main content node, strips chrome, and renders
// text with line breaks preserved at <hr>/<br>/block boundaries.
func (e *FastExtractor) Extract(rawHTML string, pageNumber int) (*book.ExtractedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var content *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			content = s
			break
		}
	}
	if content == nil {
		content = doc.Find("body").First()
		if content.Length() == 0 {
			content = doc.Selection
		}
	}

	for _, sel := range unwantedSelectors {
		content.Find(sel).Remove()
	}

	// Turn explicit breaks into newlines before flattening to text.
	content.Find("hr").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n<span>\n</span>\n")
	})
	content.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("<span>\n</span>")
	})

	var sb strings.Builder
	content.Find("p, h1, h2, h3, h4, h5, h6, li, div").Each(func(_ int, s *goquery.Selection) {
		// Only leaf-ish nodes: skip containers whose text would be
		// duplicated by their children.
		if s.Children().Filter("p, div, li, h1, h2, h3, h4, h5, h6").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			sb.WriteString(t)
			sb.WriteString("\n")
		}
	})
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Flat markup with no block elements: fall back to raw node text.
		text = content.Text()
	}
	text = cleanText(text)

	title := strings.TrimSpace(doc.Find("title").First().Text())

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
