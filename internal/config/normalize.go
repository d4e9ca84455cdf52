package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIngest()
	c.normalizeJobs()
	c.normalizePull()
	c.normalizeTick()
	c.normalizeRetention()
	c.normalizeCompletion()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("GAZETTE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeIngest() {
	if c.Ingest.FeedTimeoutSeconds <= 0 {
		c.Ingest.FeedTimeoutSeconds = defaultFeedTimeoutSeconds
	}
	if c.Ingest.ArticleTimeoutSeconds <= 0 {
		c.Ingest.ArticleTimeoutSeconds = defaultArticleTimeoutSeconds
	}
	if c.Ingest.LookbackDays <= 0 {
		c.Ingest.LookbackDays = defaultLookbackDays
	}
	if c.Ingest.MaxFeedsPerPoll <= 0 {
		c.Ingest.MaxFeedsPerPoll = defaultMaxFeedsPerPoll
	}
	if c.Ingest.MaxItemsPerFeed <= 0 {
		c.Ingest.MaxItemsPerFeed = defaultMaxItemsPerFeed
	}
	if c.Ingest.GlobalItemBudget <= 0 {
		c.Ingest.GlobalItemBudget = defaultGlobalItemBudget
	}
	if c.Ingest.FutureSkewHours <= 0 {
		c.Ingest.FutureSkewHours = defaultFutureSkewHours
	}
	if c.Ingest.PollIntervalMinutes <= 0 {
		c.Ingest.PollIntervalMinutes = defaultPollIntervalMinutes
	}
	if c.Ingest.ImageCooldownHours <= 0 {
		c.Ingest.ImageCooldownHours = defaultImageCooldownHours
	}
}

func (c *Config) normalizeJobs() {
	if c.Jobs.BatchSize <= 0 {
		c.Jobs.BatchSize = defaultJobBatchSize
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = defaultJobMaxAttempts
	}
	if c.Jobs.RetryDelayMinutes <= 0 {
		c.Jobs.RetryDelayMinutes = defaultJobRetryDelayMinutes
	}
	if c.Jobs.LeaseSeconds <= 0 {
		c.Jobs.LeaseSeconds = defaultJobLeaseSeconds
	}
}

func (c *Config) normalizePull() {
	if c.Pull.DefaultCycles <= 0 {
		c.Pull.DefaultCycles = defaultPullCycles
	}
	if c.Pull.StaleAfterMinutes <= 0 {
		c.Pull.StaleAfterMinutes = defaultPullStaleAfterMinutes
	}
}

func (c *Config) normalizeTick() {
	if c.Tick.JobsIntervalMinutes <= 0 {
		c.Tick.JobsIntervalMinutes = defaultTickJobsIntervalMinutes
	}
	if c.Tick.PollIntervalMinutes <= 0 {
		c.Tick.PollIntervalMinutes = defaultTickPollIntervalMinutes
	}
	if c.Tick.RetentionHourUTC < 0 || c.Tick.RetentionHourUTC > 23 {
		c.Tick.RetentionHourUTC = defaultTickRetentionHourUTC
	}
	if c.Tick.JobsBudgetSeconds <= 0 {
		c.Tick.JobsBudgetSeconds = defaultJobsBudgetSeconds
	}
	if c.Tick.JobsBudgetActivePullSeconds <= 0 {
		c.Tick.JobsBudgetActivePullSeconds = defaultJobsBudgetActivePullSeconds
	}
	if c.Tick.PullBudgetSeconds <= 0 {
		c.Tick.PullBudgetSeconds = defaultPullBudgetSeconds
	}
	if c.Tick.OrphanBatchSize <= 0 {
		c.Tick.OrphanBatchSize = defaultOrphanBatchSize
	}
}

func (c *Config) normalizeRetention() {
	c.Retention.Mode = strings.ToLower(strings.TrimSpace(c.Retention.Mode))
	if c.Retention.Mode == "" {
		c.Retention.Mode = defaultRetentionMode
	}
	if c.Retention.Days < 0 {
		c.Retention.Days = 0
	}
}

func (c *Config) normalizeCompletion() {
	c.Completion.BaseURL = strings.TrimSpace(c.Completion.BaseURL)
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = defaultCompletionBaseURL
	}
	c.Completion.Model = strings.TrimSpace(c.Completion.Model)
	if c.Completion.Model == "" {
		c.Completion.Model = defaultCompletionModel
	}
	c.Completion.Referer = strings.TrimSpace(c.Completion.Referer)
	c.Completion.Title = strings.TrimSpace(c.Completion.Title)
	if c.Completion.Title == "" {
		c.Completion.Title = defaultCompletionTitle
	}
	if c.Completion.TimeoutSeconds <= 0 {
		c.Completion.TimeoutSeconds = defaultCompletionTimeoutSeconds
	}
	c.Completion.APIKey = strings.TrimSpace(c.Completion.APIKey)
	if c.Completion.APIKey == "" {
		if value, ok := os.LookupEnv("GAZETTE_COMPLETION_API_KEY"); ok {
			c.Completion.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Completion.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
