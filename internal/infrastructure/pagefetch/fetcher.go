package pagefetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/ports"
)

const maxBodyBytes = 8 << 20

// Fetcher downloads a page (unless the caller already supplies its HTML)
// and extracts title, author and article text. Readability does the heavy
// lifting; a selector-based extraction covers pages it cannot parse.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

var _ ports.PageFetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher with a bounded-timeout HTTP client.
func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Fetch resolves pageURL into an extracted Page. When rawHTML is non-empty
// it is used as the page body and no download happens; the URL is still
// needed for cleaning and for resolving relative references.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, rawHTML string) (domain.Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return domain.Page{}, fmt.Errorf("parse url: %w", err)
	}

	html := rawHTML
	if html == "" {
		html, err = f.download(ctx, pageURL)
		if err != nil {
			return domain.Page{}, err
		}
	}

	page := domain.Page{CleanURL: cleanURL(parsed)}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		page.Title = strings.TrimSpace(article.Title)
		page.Author = strings.TrimSpace(article.Byline)
		page.FullText = strings.TrimSpace(article.TextContent)
		return page, nil
	}
	if err != nil {
		f.logger.Warn("readability extraction failed, using selector fallback",
			"url", page.CleanURL, "error", err)
	}

	title, text, serr := extractWithSelectors(html)
	if serr != nil {
		return domain.Page{}, fmt.Errorf("extract page text: %w", serr)
	}
	page.Title = title
	page.FullText = text
	return page, nil
}

func (f *Fetcher) download(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; BookmarkEnricher/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download page: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}
	return string(body), nil
}

// cleanURL strips the query string and fragment so the same article always
// maps to the same document regardless of tracking parameters.
func cleanURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

var articleSelectors = []string{
	"article", "div#article", "div.article-body", "div.article", "main",
}

// extractWithSelectors pulls text out of common article containers; failing
// those, it picks the block with the most headings and paragraphs.
func extractWithSelectors(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		title = h1
	}

	for _, selector := range articleSelectors {
		if text = collectParagraphs(doc.Find(selector).First()); text != "" {
			return title, text, nil
		}
	}

	// Last resort: the densest container of headings and paragraphs.
	var best *goquery.Selection
	bestCount := 0
	doc.Find("div, section").Each(func(_ int, sel *goquery.Selection) {
		count := sel.ChildrenFiltered("p, h1, h2, h3").Length()
		if count > bestCount {
			best = sel
			bestCount = count
		}
	})
	if best != nil && bestCount >= 3 {
		if text = collectParagraphs(best); text != "" {
			return title, text, nil
		}
	}

	return "", "", fmt.Errorf("no article content found")
}

func collectParagraphs(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	var parts []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); len(t) >= 10 {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}
