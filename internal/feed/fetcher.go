package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gazette/internal/logging"
	"gazette/internal/services"
)

const defaultUserAgent = "gazette/1.0 (+https://github.com/gazette/gazette)"

// Result carries the outcome of one conditional fetch. NotModified means the
// server answered 304 and no body was parsed; otherwise Parsed holds the
// normalized feed and the validators echo whatever the server supplied.
type Result struct {
	NotModified  bool
	ETag         string
	LastModified string
	Parsed       *Parsed
}

// Fetcher performs conditional GETs against feed URLs.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithUserAgent overrides the request User-Agent.
func WithUserAgent(agent string) FetcherOption {
	return func(f *Fetcher) {
		if strings.TrimSpace(agent) != "" {
			f.userAgent = agent
		}
	}
}

// NewFetcher creates a feed fetcher with the given request timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	fetcher := &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  defaultUserAgent,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(fetcher)
	}
	return fetcher
}

// Fetch performs a conditional GET using the supplied cache validators. A 304
// yields NotModified with no parse; any other non-2xx status is a transient
// fetch error. A body that fails XML parsing comes back as an empty parse.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string) (*Result, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, services.Wrap(services.ErrValidation, "feed", "fetch", "feed url is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "feed", "fetch", "build request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "fetch", "execute request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{NotModified: true, ETag: etag, LastModified: lastModified}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, services.Wrap(
			services.ErrTransient,
			"feed",
			"fetch",
			fmt.Sprintf("feed returned status %d", resp.StatusCode),
			nil,
		)
	}

	parsed, err := ParseBody(resp.Body)
	if err != nil {
		// Malformed XML degrades to an empty parse so the poll cycle
		// still records a successful fetch and fresh validators.
		f.logger.Warn("feed parse failed, treating as empty", logging.Args(
			logging.String("url", url),
			logging.Error(err),
		)...)
		parsed = &Parsed{}
	}

	return &Result{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Parsed:       parsed,
	}, nil
}
