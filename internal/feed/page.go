package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"gazette/internal/services"
)

// PageExtract holds the useful parts of a fetched article page.
type PageExtract struct {
	Text     string
	HTML     string
	ImageURL string
}

// PageFetcher fetches full article pages for richer content. Failures are
// expected and callers keep the feed-provided content on error.
type PageFetcher struct {
	httpClient *http.Client
	userAgent  string
}

// NewPageFetcher creates a page fetcher with the given request timeout.
func NewPageFetcher(timeout time.Duration, opts ...FetcherOption) *PageFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Reuse the fetcher options for client and user agent overrides.
	carrier := &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(carrier)
	}
	return &PageFetcher{httpClient: carrier.httpClient, userAgent: carrier.userAgent}
}

// Fetch downloads the page and extracts body text and a leading image. The
// image falls back through og:image, twitter:image, then the first
// non-decorative content image.
func (p *PageFetcher) Fetch(ctx context.Context, url string) (*PageExtract, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, services.Wrap(services.ErrValidation, "feed", "page", "page url is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "feed", "page", "build request", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "page", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, services.Wrap(
			services.ErrTransient,
			"feed",
			"page",
			fmt.Sprintf("page returned status %d", resp.StatusCode),
			nil,
		)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "page", "parse page", err)
	}

	extract := &PageExtract{ImageURL: pageImage(doc)}

	body := doc.Find("article")
	if body.Length() == 0 {
		body = doc.Find("main")
	}
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	if html, err := body.First().Html(); err == nil {
		extract.HTML = strings.TrimSpace(html)
	}
	clone := body.First().Clone()
	clone.Find("script, style, noscript, nav, header, footer, aside").Remove()
	extract.Text = strings.Join(strings.Fields(clone.Text()), " ")

	if extract.ImageURL == "" {
		extract.ImageURL = FirstContentImage(extract.HTML)
	}
	return extract, nil
}

func pageImage(doc *goquery.Document) string {
	for _, selector := range []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
		`link[rel="image_src"]`,
	} {
		attr := "content"
		if strings.HasPrefix(selector, "link") {
			attr = "href"
		}
		if value := strings.TrimSpace(doc.Find(selector).First().AttrOr(attr, "")); value != "" {
			return value
		}
	}
	return ""
}
