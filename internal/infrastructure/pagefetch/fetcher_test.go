package pagefetch

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>The Rise of Vertical Farming</title></head>
<body>
<header><nav><a href="/">Home</a><a href="/about">About</a></nav></header>
<article>
<h1>The Rise of Vertical Farming</h1>
<p>Vertical farming stacks crops in controlled indoor environments, using hydroponics and LED lighting to grow food year round regardless of climate.</p>
<p>Proponents argue that growing produce close to cities cuts transport emissions and water usage dramatically compared to conventional field agriculture.</p>
<p>Critics point to the energy cost of artificial lighting as the main obstacle to profitability for leafy greens and strawberries alike.</p>
</article>
<footer><p>c</p></footer>
</body>
</html>`

func testFetcher() *Fetcher {
	return NewFetcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchFromRawHTML(t *testing.T) {
	t.Parallel()

	page, err := testFetcher().Fetch(t.Context(), "https://example.org/farming?utm_source=mail#section", articleHTML)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if page.CleanURL != "https://example.org/farming" {
		t.Fatalf("query and fragment must be stripped, got %q", page.CleanURL)
	}
	if !strings.Contains(page.Title, "Vertical Farming") {
		t.Fatalf("unexpected title: %q", page.Title)
	}
	if !strings.Contains(page.FullText, "hydroponics and LED lighting") {
		t.Fatalf("article body not extracted: %q", page.FullText)
	}
	if strings.Contains(page.FullText, "About") {
		t.Fatalf("navigation chrome leaked into the text: %q", page.FullText)
	}
}

func TestFetchDownloadsWhenNoHTMLGiven(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(t.Context(), srv.URL+"/farming", "")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !strings.Contains(page.FullText, "transport emissions") {
		t.Fatalf("downloaded article body not extracted: %q", page.FullText)
	}
}

func TestFetchDownloadErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testFetcher().Fetch(t.Context(), srv.URL+"/missing", ""); err == nil {
		t.Fatal("non-200 download must fail")
	}
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := testFetcher().Fetch(t.Context(), "://not-a-url", ""); err == nil {
		t.Fatal("invalid url must fail")
	}
}

func TestExtractWithSelectors(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Fallback Title</title></head><body>
	<div class="article-body">
	<p>First paragraph with enough characters to be kept by the extractor.</p>
	<p>Second paragraph also long enough to be collected into the text.</p>
	<p>no</p>
	</div></body></html>`

	title, text, err := extractWithSelectors(html)
	if err != nil {
		t.Fatalf("extractWithSelectors returned error: %v", err)
	}
	if title != "Fallback Title" {
		t.Fatalf("unexpected title: %q", title)
	}
	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		t.Fatalf("short paragraphs must be dropped, got %d lines: %q", len(lines), text)
	}
}

func TestExtractWithSelectorsNoContent(t *testing.T) {
	t.Parallel()

	if _, _, err := extractWithSelectors("<html><body><p>hi</p></body></html>"); err == nil {
		t.Fatal("pages without article content must fail extraction")
	}
}
