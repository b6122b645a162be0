package parse

import (
	"errors"
	"strings"
	"testing"
)

const readerPage = `<html>
<head><title>كتاب المثال ص ١٢</title></head>
<body>
<nav>navigation chrome</nav>
<div class="sidebar">sidebar junk</div>
<div id="book">
<p>السطر الأول من الصفحة</p>
<p>السطر الثاني<br>وتكملته بعد فاصل</p>
<hr>
<p class="hamesh">حاشية في أسفل الصفحة</p>
</div>
<div class="footer">footer junk</div>
</body>
</html>`

func TestFastExtractorReaderPage(t *testing.T) {
	page, err := NewFastExtractor().Extract(readerPage, 12)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !strings.Contains(page.Text, "السطر الأول من الصفحة") {
		t.Errorf("missing body text: %q", page.Text)
	}
	if !strings.Contains(page.Text, "حاشية في أسفل الصفحة") {
		t.Error("footnote block should be kept")
	}
	for _, junk := range []string{"navigation chrome", "sidebar junk", "footer junk"} {
		if strings.Contains(page.Text, junk) {
			t.Errorf("chrome leaked into text: %q", junk)
		}
	}
	if page.Meta.PrintedPageNumber != 12 {
		t.Errorf("printed page number = %d, want 12 (from Arabic-Hindi digits in title)", page.Meta.PrintedPageNumber)
	}
	if page.Meta.WordCount == 0 {
		t.Error("word count should be non-zero")
	}
	if page.Meta.Parser != "fast" {
		t.Errorf("parser = %q, want fast", page.Meta.Parser)
	}
}

func TestFastExtractorFallsBackToBody(t *testing.T) {
	html := `<html><body><p>plain page with no known container</p></body></html>`
	page, err := NewFastExtractor().Extract(html, 1)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(page.Text, "plain page with no known container") {
		t.Errorf("body fallback missing text: %q", page.Text)
	}
}

func TestChainFallsBackOnEmptyPrimary(t *testing.T) {
	// The known containers are present but empty, so the fast backend
	// yields nothing and the chain must consult readability.
	html := `<html><head><title>t</title></head><body>
<div id="book"></div>
<section>` + strings.Repeat("<p>body text that readability can score well enough to keep here</p>", 10) + `</section>
</body></html>`

	chain := NewChain(true, nil)
	page, err := chain.Extract(html, 3)
	if err != nil {
		t.Fatalf("chain Extract failed: %v", err)
	}
	if page.Meta.Parser != "readability" {
		t.Errorf("parser = %q, want readability fallback", page.Meta.Parser)
	}
	if strings.TrimSpace(page.Text) == "" {
		t.Error("fallback produced empty text")
	}
}

func TestChainReportsUnparseable(t *testing.T) {
	chain := NewChain(true, nil)
	_, err := chain.Extract("<html><body></body></html>", 9)
	if !errors.Is(err, ErrUnparseable) {
		t.Errorf("expected ErrUnparseable, got %v", err)
	}
}

func TestChainOrderHonorsFastParserFlag(t *testing.T) {
	html := `<html><body><div id="book">` +
		strings.Repeat("<p>enough text for either backend to succeed on this page</p>", 8) +
		`</div></body></html>`

	fastFirst, err := NewChain(true, nil).Extract(html, 1)
	if err != nil {
		t.Fatalf("fast-first chain failed: %v", err)
	}
	if fastFirst.Meta.Parser != "fast" {
		t.Errorf("fast-first chain used %q", fastFirst.Meta.Parser)
	}

	lenientFirst, err := NewChain(false, nil).Extract(html, 1)
	if err != nil {
		t.Fatalf("lenient-first chain failed: %v", err)
	}
	if lenientFirst.Meta.Parser != "readability" {
		t.Errorf("lenient-first chain used %q", lenientFirst.Meta.Parser)
	}
}

func TestCleanTextCollapsesNewlines(t *testing.T) {
	in := "a\n\n\n\n\nb‌"
	if got := cleanText(in); got != "a\n\nb" {
		t.Errorf("cleanText = %q", got)
	}
}
