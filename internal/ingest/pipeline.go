package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gazette/internal/config"
	"gazette/internal/feed"
	"gazette/internal/logging"
	"gazette/internal/store"
)

// Summary reports the outcome of one poll pass across due feeds.
type Summary struct {
	FeedsPolled      int
	FeedsNotModified int
	FeedsFailed      int
	FeedsSkipped     int
	ItemsSeen        int
	ItemsProcessed   int
	NewArticles      int
	ExistingArticles int
	JobsQueued       int
	Errors           []string
}

const maxSummaryErrors = 5

func (s *Summary) addError(message string) {
	if message == "" || len(s.Errors) >= maxSummaryErrors {
		return
	}
	s.Errors = append(s.Errors, message)
}

// PageFetcher fetches full article pages. Satisfied by feed.PageFetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*feed.PageExtract, error)
}

// Pipeline polls due feeds, deduplicates their items into articles, and
// enqueues enrichment work for same-day arrivals.
type Pipeline struct {
	store       *store.Store
	fetcher     *feed.Fetcher
	pageFetcher PageFetcher
	cfg         *config.Config
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPageFetcher overrides the full-page fetcher.
func WithPageFetcher(pf PageFetcher) Option {
	return func(p *Pipeline) {
		if pf != nil {
			p.pageFetcher = pf
		}
	}
}

// NewPipeline wires an ingestion pipeline from configuration.
func NewPipeline(st *store.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithComponent(logger, "ingest")
	pipeline := &Pipeline{
		store:       st,
		fetcher:     feed.NewFetcher(time.Duration(cfg.Ingest.FeedTimeoutSeconds)*time.Second, logger),
		pageFetcher: feed.NewPageFetcher(time.Duration(cfg.Ingest.ArticleTimeoutSeconds) * time.Second),
		cfg:         cfg,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline
}

// PollOption configures one poll pass.
type PollOption func(*pollPass)

type pollPass struct {
	onFeedSettled func(context.Context)
}

// OnFeedSettled registers a callback invoked after each feed settles, whether
// it succeeded, came back not-modified, or failed. Callers use it to keep
// liveness signals fresh while a pass works through slow feeds.
func OnFeedSettled(fn func(context.Context)) PollOption {
	return func(pass *pollPass) {
		pass.onFeedSettled = fn
	}
}

// PollDueFeeds runs one bounded poll pass: at most MaxFeedsPerPoll feeds, a
// per-feed item cap, and a global item budget shared across feeds. Feeds left
// over once the budget is spent are counted as skipped. Individual feed
// failures are recorded and never abort the pass.
func (p *Pipeline) PollDueFeeds(ctx context.Context, now time.Time, opts ...PollOption) (*Summary, error) {
	summary := &Summary{}
	var pass pollPass
	for _, opt := range opts {
		opt(&pass)
	}

	feeds, err := p.store.DueFeeds(ctx, now, p.cfg.Ingest.MaxFeedsPerPoll)
	if err != nil {
		return summary, fmt.Errorf("list due feeds: %w", err)
	}

	budget := p.cfg.Ingest.GlobalItemBudget
	for i, f := range feeds {
		if budget <= 0 {
			summary.FeedsSkipped = len(feeds) - i
			p.logger.Info("item budget exhausted, skipping remaining feeds",
				logging.Args(logging.Int("skipped", summary.FeedsSkipped))...)
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		used := p.pollFeed(ctx, f, now, budget, summary)
		budget -= used
		if pass.onFeedSettled != nil {
			pass.onFeedSettled(ctx)
		}
	}
	return summary, nil
}

// pollFeed handles one feed end to end and returns how much of the global
// item budget it consumed.
func (p *Pipeline) pollFeed(ctx context.Context, f *store.Feed, now time.Time, budget int, summary *Summary) int {
	nextPoll := now.Add(time.Duration(p.cfg.Ingest.PollIntervalMinutes) * time.Minute)

	result, err := p.fetcher.Fetch(ctx, f.URL, f.ETag, f.LastModified)
	if err != nil {
		summary.FeedsFailed++
		summary.addError(fmt.Sprintf("%s: %v", f.URL, err))
		if markErr := p.store.MarkPollFailure(ctx, f.ID, err, time.Duration(p.cfg.Ingest.PollIntervalMinutes)*time.Minute); markErr != nil {
			p.logger.Error("record poll failure", logging.Args(
				logging.Int64(logging.FieldFeedID, f.ID),
				logging.Error(markErr),
			)...)
		}
		return 0
	}

	if result.NotModified {
		summary.FeedsNotModified++
		if err := p.store.MarkPollNotModified(ctx, f.ID, nextPoll); err != nil {
			p.logger.Error("record not-modified poll", logging.Args(
				logging.Int64(logging.FieldFeedID, f.ID),
				logging.Error(err),
			)...)
		}
		return 0
	}

	firstPoll := f.LastPolledAt == nil
	if err := p.store.MarkPollSuccess(ctx, f.ID, result.Parsed.Title, result.ETag, result.LastModified, nextPoll); err != nil {
		p.logger.Error("record poll success", logging.Args(
			logging.Int64(logging.FieldFeedID, f.ID),
			logging.Error(err),
		)...)
	}
	summary.FeedsPolled++

	used := 0
	for _, item := range result.Parsed.Items {
		if used >= p.cfg.Ingest.MaxItemsPerFeed || used >= budget {
			break
		}
		summary.ItemsSeen++
		processed, err := p.processItem(ctx, f, item, now, firstPoll, summary)
		if err != nil {
			summary.addError(fmt.Sprintf("%s: %v", f.URL, err))
			p.logger.Warn("item ingestion failed", logging.Args(
				logging.Int64(logging.FieldFeedID, f.ID),
				logging.String("item", item.URL),
				logging.Error(err),
			)...)
			continue
		}
		if processed {
			summary.ItemsProcessed++
			used++
		}
	}
	return used
}

// processItem dedups one feed entry into an article and enqueues follow-up
// work. It reports whether the item counted against the budget: dropped and
// unparseable items do not.
func (p *Pipeline) processItem(ctx context.Context, f *store.Feed, item feed.Item, now time.Time, firstPoll bool, summary *Summary) (bool, error) {
	canonical := CanonicalURL(item.URL)
	if canonical == "" {
		return false, nil
	}
	published := normalizePublished(item.PublishedAt, now, time.Duration(p.cfg.Ingest.FutureSkewHours)*time.Hour)

	// First poll of a feed bounds the historical backfill: items older than
	// the lookback window are dropped before any article row exists.
	if firstPoll && p.cfg.Ingest.LookbackDays > 0 && published != nil {
		cutoff := now.AddDate(0, 0, -p.cfg.Ingest.LookbackDays)
		if published.Before(cutoff) {
			return false, nil
		}
	}

	hash := ContentHash(item.ContentText, item.Title, canonical)

	existing, err := p.store.FindExisting(ctx, canonical, hash)
	if err != nil {
		return false, err
	}

	var article *store.Article
	if existing != nil {
		article = existing
		summary.ExistingArticles++
	} else {
		article, err = p.createArticle(ctx, item, canonical, hash, published, now)
		if err != nil {
			return false, err
		}
		summary.NewArticles++
	}

	// The source join is written on every poll hit, new article or not.
	if err := p.store.RecordSource(ctx, article.ID, f.ID, item.GUID, item.URL, published); err != nil {
		return true, err
	}

	if existing == nil {
		summary.JobsQueued += p.enqueueEnrichment(ctx, article, published, now)
	}
	return true, nil
}

// createArticle stores a new article, opportunistically upgrading thin feed
// content with a full-page fetch for same-day arrivals. Page-fetch failures
// are swallowed and the feed-provided content stands.
func (p *Pipeline) createArticle(ctx context.Context, item feed.Item, canonical, hash string, published *time.Time, now time.Time) (*store.Article, error) {
	contentHTML := item.ContentHTML
	contentText := item.ContentText
	imageURL := item.ImageURL

	if isSameDay(published, now) && thinContent(contentText) {
		if extract, err := p.pageFetcher.Fetch(ctx, item.URL); err == nil {
			if len(extract.Text) > len(contentText) {
				contentHTML = extract.HTML
				contentText = extract.Text
				hash = ContentHash(contentText, item.Title, canonical)
			}
			if imageURL == "" {
				imageURL = extract.ImageURL
			}
		}
	}

	return p.store.CreateArticle(ctx, store.NewArticleParams{
		CanonicalURL:  canonical,
		ContentHash:   hash,
		Title:         item.Title,
		Author:        item.Author,
		RawContent:    contentHTML,
		ExtractedText: contentText,
		ImageURL:      imageURL,
		PublishedAt:   published,
		FetchedAt:     now,
	})
}

// enqueueEnrichment queues AI work for same-day articles and an image
// backfill when no image resolved. Historical backfills are stored silently.
func (p *Pipeline) enqueueEnrichment(ctx context.Context, article *store.Article, published *time.Time, now time.Time) int {
	queued := 0
	articleID := article.ID

	if isSameDay(published, now) {
		types := []store.JobType{store.JobTypeSummarize, store.JobTypeScore}
		if p.cfg.Jobs.AutoTag {
			types = append(types, store.JobTypeAutoTag)
		}
		for _, jobType := range types {
			if _, err := p.store.EnqueueJob(ctx, jobType, &articleID, 0, now); err != nil {
				p.logger.Warn("enqueue enrichment", logging.Args(
					logging.Int64(logging.FieldArticleID, articleID),
					logging.String(logging.FieldJobType, string(jobType)),
					logging.Error(err),
				)...)
				continue
			}
			queued++
		}
	}

	if article.ImageURL == "" {
		runAfter := imageBackfillDue(article.ImageCheckedAt, now, time.Duration(p.cfg.Ingest.ImageCooldownHours)*time.Hour)
		if _, err := p.store.EnqueueJob(ctx, store.JobTypeImageBackfill, &articleID, 0, runAfter); err != nil {
			p.logger.Warn("enqueue image backfill", logging.Args(
				logging.Int64(logging.FieldArticleID, articleID),
				logging.Error(err),
			)...)
		} else {
			queued++
		}
	}
	return queued
}

// normalizePublished clamps timestamps beyond the future skew tolerance to
// the fetch time. Missing timestamps stay missing.
func normalizePublished(published *time.Time, now time.Time, skew time.Duration) *time.Time {
	if published == nil {
		return nil
	}
	value := published.UTC()
	if value.After(now.Add(skew)) {
		value = now.UTC()
	}
	return &value
}

// isSameDay reports whether the effective published time falls in the UTC
// day containing the fetch time. A missing published time counts as same-day.
func isSameDay(published *time.Time, now time.Time) bool {
	if published == nil {
		return true
	}
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	value := published.UTC()
	return !value.Before(dayStart) && value.Before(dayEnd)
}

// imageBackfillDue applies the image-check cooldown so a just-checked article
// is not immediately rechecked.
func imageBackfillDue(lastChecked *time.Time, now time.Time, cooldown time.Duration) time.Time {
	if lastChecked == nil {
		return now
	}
	due := lastChecked.Add(cooldown)
	if due.Before(now) {
		return now
	}
	return due
}

func thinContent(text string) bool {
	return len(text) < 600
}
