package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gazette/internal/config"
	"gazette/internal/feed"
	"gazette/internal/logging"
	"gazette/internal/services"
	"gazette/internal/services/completion"
	"gazette/internal/store"
)

const (
	defaultBatchSize   = 5
	defaultMaxAttempts = 3
	defaultRetryDelay  = 15 * time.Minute
	defaultLease       = 5 * time.Minute

	profileMinScore     = 7.0
	profileArticleLimit = 20
)

// Completer is the slice of the completion client the processor needs.
type Completer interface {
	Complete(ctx context.Context, articleText, profile string) (*completion.Result, error)
	Summarize(ctx context.Context, articleText string) (*completion.Result, error)
	Score(ctx context.Context, articleText, profile string) (*completion.Result, error)
	Tag(ctx context.Context, articleText string) (*completion.Result, error)
	Model() string
}

// PageFetcher retrieves a full article page during image backfill.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*feed.PageExtract, error)
}

// BatchSummary reports what one ProcessBatch call did.
type BatchSummary struct {
	Reaped    int64 `json:"reaped"`
	Claimed   int   `json:"claimed"`
	Processed int   `json:"processed"`
	Done      int   `json:"done"`
	Failed    int   `json:"failed"`
	Released  int   `json:"released"`
}

// Processor claims due jobs and dispatches them to type-specific handlers.
type Processor struct {
	store     *store.Store
	completer Completer
	pages     PageFetcher
	logger    *slog.Logger

	claimer     string
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	lease       time.Duration
}

// Option customizes the processor.
type Option func(*Processor)

// WithPageFetcher supplies the page fetcher used by image backfill.
func WithPageFetcher(pages PageFetcher) Option {
	return func(p *Processor) {
		p.pages = pages
	}
}

// WithClaimer overrides the generated claimer identity.
func WithClaimer(claimer string) Option {
	return func(p *Processor) {
		if claimer != "" {
			p.claimer = claimer
		}
	}
}

// NewProcessor builds a job processor from the jobs configuration section.
func NewProcessor(st *store.Store, completer Completer, cfg *config.Config, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:       st,
		completer:   completer,
		logger:      logging.WithComponent(logger, "jobs"),
		claimer:     "worker-" + uuid.NewString(),
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		lease:       defaultLease,
	}
	if cfg != nil {
		if cfg.Jobs.BatchSize > 0 {
			p.batchSize = cfg.Jobs.BatchSize
		}
		if cfg.Jobs.MaxAttempts > 0 {
			p.maxAttempts = cfg.Jobs.MaxAttempts
		}
		if cfg.Jobs.RetryDelayMinutes > 0 {
			p.retryDelay = time.Duration(cfg.Jobs.RetryDelayMinutes) * time.Minute
		}
		if cfg.Jobs.LeaseSeconds > 0 {
			p.lease = time.Duration(cfg.Jobs.LeaseSeconds) * time.Second
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Claimer returns the identity this processor claims leases under.
func (p *Processor) Claimer() string {
	return p.claimer
}

// ProcessBatch reaps expired leases, claims up to one batch of due jobs, and
// dispatches them until the batch is drained or the wall-clock budget runs
// out. Claimed jobs left undispatched at the budget boundary are released
// back to pending without an attempt charge. A budget <= 0 means no limit.
func (p *Processor) ProcessBatch(ctx context.Context, now time.Time, budget time.Duration) (*BatchSummary, error) {
	summary := &BatchSummary{}
	start := time.Now()

	reaped, err := p.store.ReapExpiredLeases(ctx, now, p.maxAttempts, p.retryDelay)
	if err != nil {
		return summary, fmt.Errorf("reap leases: %w", err)
	}
	summary.Reaped = reaped

	claimed, err := p.store.ClaimJobs(ctx, p.claimer, now, p.lease, p.batchSize)
	if err != nil {
		return summary, fmt.Errorf("claim jobs: %w", err)
	}
	summary.Claimed = len(claimed)

	for i, job := range claimed {
		if ctx.Err() != nil || (budget > 0 && time.Since(start) >= budget) {
			summary.Released += p.releaseRemaining(ctx, claimed[i:])
			break
		}
		p.processJob(ctx, job, summary)
	}
	return summary, ctx.Err()
}

func (p *Processor) processJob(ctx context.Context, job *store.Job, summary *BatchSummary) {
	summary.Processed++
	ctx = services.WithJobID(ctx, job.ID)
	if job.ArticleID != nil {
		ctx = services.WithArticleID(ctx, *job.ArticleID)
	}
	logger := logging.WithContext(ctx, p.logger)

	provider, model, err := p.dispatch(ctx, job)
	if err != nil {
		summary.Failed++
		logger.Warn("job handler failed", logging.Args(
			logging.String("job_type", string(job.Type)),
			logging.Error(err),
		)...)
		attemptCap := p.maxAttempts
		if services.IsPermanent(err) {
			// Validation and configuration failures never succeed on retry.
			attemptCap = 0
		}
		if _, markErr := p.store.MarkJobFailed(ctx, job.ID, err, attemptCap, p.retryDelay); markErr != nil {
			logger.Error("mark job failed", logging.Args(logging.Error(markErr))...)
		}
		return
	}
	if markErr := p.store.MarkJobDone(ctx, job.ID, provider, model); markErr != nil {
		logger.Error("mark job done", logging.Args(logging.Error(markErr))...)
		summary.Failed++
		return
	}
	summary.Done++
	logger.Info("job done", logging.Args(
		logging.String("job_type", string(job.Type)),
	)...)
}

func (p *Processor) releaseRemaining(ctx context.Context, remaining []*store.Job) int {
	released := 0
	for _, job := range remaining {
		if err := p.store.ReleaseJob(ctx, job.ID, p.claimer); err != nil {
			p.logger.Warn("release job", logging.Args(
				logging.Int64("job_id", job.ID),
				logging.Error(err),
			)...)
			continue
		}
		released++
	}
	return released
}

// dispatch runs the handler for one claimed job and returns the provider and
// model to record on completion.
func (p *Processor) dispatch(ctx context.Context, job *store.Job) (provider, model string, err error) {
	switch job.Type {
	case store.JobTypeSummarize:
		return p.completionProvider(p.handleSummarize(ctx, job))
	case store.JobTypeScore:
		return p.completionProvider(p.handleScore(ctx, job))
	case store.JobTypeAutoTag:
		return p.completionProvider(p.handleAutoTag(ctx, job))
	case store.JobTypeImageBackfill:
		return "", "", p.handleImageBackfill(ctx, job)
	case store.JobTypeRefreshProfile:
		return "", "", p.handleRefreshProfile(ctx)
	default:
		return "", "", services.Wrap(services.ErrConfiguration, "jobs", "dispatch",
			fmt.Sprintf("unknown job type %q", job.Type), nil)
	}
}

func (p *Processor) completionProvider(err error) (string, string, error) {
	if err != nil {
		return "", "", err
	}
	return "openrouter", p.completer.Model(), nil
}

func (p *Processor) handleSummarize(ctx context.Context, job *store.Job) error {
	article, text, err := p.articleText(ctx, job)
	if err != nil {
		return err
	}
	result, err := p.completer.Summarize(ctx, text)
	if err != nil {
		return fmt.Errorf("summarize article %d: %w", article.ID, err)
	}
	if result.Summary == "" {
		return fmt.Errorf("summarize article %d: empty summary", article.ID)
	}
	keyPoints, err := encodeStringList(result.KeyPoints)
	if err != nil {
		return err
	}
	return p.store.SetArticleSummary(ctx, article.ID, result.Summary, keyPoints)
}

func (p *Processor) handleScore(ctx context.Context, job *store.Job) error {
	article, text, err := p.articleText(ctx, job)
	if err != nil {
		return err
	}
	profile, err := p.store.GetSetting(ctx, store.SettingReaderProfile)
	if err != nil {
		return err
	}
	result, err := p.completer.Score(ctx, text, profile)
	if err != nil {
		return fmt.Errorf("score article %d: %w", article.ID, err)
	}
	if result.Score == nil {
		return fmt.Errorf("score article %d: missing score", article.ID)
	}
	return p.store.SetArticleScore(ctx, article.ID, *result.Score)
}

func (p *Processor) handleAutoTag(ctx context.Context, job *store.Job) error {
	article, text, err := p.articleText(ctx, job)
	if err != nil {
		return err
	}
	result, err := p.completer.Tag(ctx, text)
	if err != nil {
		return fmt.Errorf("tag article %d: %w", article.ID, err)
	}
	if len(result.Tags) == 0 {
		return fmt.Errorf("tag article %d: no tags returned", article.ID)
	}
	tags, err := encodeStringList(result.Tags)
	if err != nil {
		return err
	}
	return p.store.SetArticleTags(ctx, article.ID, tags)
}

// handleImageBackfill re-runs the image priority chain over the stored feed
// HTML and, if that yields nothing, over a fresh page fetch. The check time
// advances even when no image is found so the cooldown keeps working.
func (p *Processor) handleImageBackfill(ctx context.Context, job *store.Job) error {
	article, err := p.jobArticle(ctx, job)
	if err != nil {
		return err
	}
	imageURL := feed.FirstContentImage(article.RawContent)
	if imageURL == "" && p.pages != nil && article.CanonicalURL != "" {
		if extract, fetchErr := p.pages.Fetch(ctx, article.CanonicalURL); fetchErr == nil {
			imageURL = extract.ImageURL
		} else {
			p.logger.Debug("image backfill page fetch failed", logging.Args(
				logging.Int64("article_id", article.ID),
				logging.Error(fetchErr),
			)...)
		}
	}
	return p.store.SetArticleImage(ctx, article.ID, imageURL, time.Now().UTC())
}

// handleRefreshProfile rebuilds the interest profile from recent articles the
// scorer rated highly. The rendered text feeds subsequent scoring prompts.
func (p *Processor) handleRefreshProfile(ctx context.Context) error {
	articles, err := p.store.RecentScoredArticles(ctx, profileMinScore, profileArticleLimit)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("The reader recently valued these articles:\n")
	for _, article := range articles {
		b.WriteString("- ")
		b.WriteString(article.Title)
		if tags := decodeStringList(article.TagsJSON); len(tags) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(tags, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return p.store.SetSetting(ctx, store.SettingReaderProfile, b.String())
}

func (p *Processor) jobArticle(ctx context.Context, job *store.Job) (*store.Article, error) {
	if job.ArticleID == nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", string(job.Type), "job has no article", nil)
	}
	article, err := p.store.GetArticle(ctx, *job.ArticleID)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", string(job.Type),
			fmt.Sprintf("article %d not found", *job.ArticleID), nil)
	}
	return article, nil
}

func (p *Processor) articleText(ctx context.Context, job *store.Job) (*store.Article, string, error) {
	article, err := p.jobArticle(ctx, job)
	if err != nil {
		return nil, "", err
	}
	text := strings.TrimSpace(article.ExtractedText)
	if text == "" {
		text = strings.TrimSpace(article.Title)
	}
	if text == "" {
		return nil, "", services.Wrap(services.ErrValidation, "jobs", string(job.Type),
			fmt.Sprintf("article %d has no text", article.ID), nil)
	}
	if article.Title != "" && !strings.HasPrefix(text, article.Title) {
		text = article.Title + "\n\n" + text
	}
	return article, text, nil
}

func encodeStringList(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(encoded), nil
}

func decodeStringList(encoded string) []string {
	if strings.TrimSpace(encoded) == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	return values
}
