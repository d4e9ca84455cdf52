package config

const (
	defaultDataDir                     = "~/.local/share/gazette/data"
	defaultLogDir                      = "~/.local/share/gazette/logs"
	defaultAPIBind                     = "127.0.0.1:7519"
	defaultFeedTimeoutSeconds          = 12
	defaultArticleTimeoutSeconds       = 10
	defaultLookbackDays                = 45
	defaultMaxFeedsPerPoll             = 20
	defaultMaxItemsPerFeed             = 50
	defaultGlobalItemBudget            = 200
	defaultFutureSkewHours             = 24
	defaultPollIntervalMinutes         = 60
	defaultImageCooldownHours          = 6
	defaultJobBatchSize                = 5
	defaultJobMaxAttempts              = 3
	defaultJobRetryDelayMinutes        = 10
	defaultJobLeaseSeconds             = 300
	defaultPullCycles                  = 2
	defaultPullStaleAfterMinutes       = 20
	defaultTickJobsIntervalMinutes     = 15
	defaultTickPollIntervalMinutes     = 60
	defaultTickRetentionHourUTC        = 4
	defaultJobsBudgetSeconds           = 45
	defaultJobsBudgetActivePullSeconds = 15
	defaultPullBudgetSeconds           = 60
	defaultOrphanBatchSize             = 50
	defaultRetentionMode               = "archive"
	defaultCompletionBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultCompletionModel             = "google/gemini-3-flash-preview"
	defaultCompletionTitle             = "Gazette Enrichment"
	defaultCompletionTimeoutSeconds    = 60
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Ingest: Ingest{
			FeedTimeoutSeconds:    defaultFeedTimeoutSeconds,
			ArticleTimeoutSeconds: defaultArticleTimeoutSeconds,
			LookbackDays:          defaultLookbackDays,
			MaxFeedsPerPoll:       defaultMaxFeedsPerPoll,
			MaxItemsPerFeed:       defaultMaxItemsPerFeed,
			GlobalItemBudget:      defaultGlobalItemBudget,
			FutureSkewHours:       defaultFutureSkewHours,
			PollIntervalMinutes:   defaultPollIntervalMinutes,
			ImageCooldownHours:    defaultImageCooldownHours,
		},
		Jobs: Jobs{
			BatchSize:         defaultJobBatchSize,
			MaxAttempts:       defaultJobMaxAttempts,
			RetryDelayMinutes: defaultJobRetryDelayMinutes,
			LeaseSeconds:      defaultJobLeaseSeconds,
			AutoQueue:         true,
			AutoTag:           false,
		},
		Pull: Pull{
			DefaultCycles:     defaultPullCycles,
			StaleAfterMinutes: defaultPullStaleAfterMinutes,
		},
		Tick: Tick{
			SelfSchedule:                true,
			JobsIntervalMinutes:         defaultTickJobsIntervalMinutes,
			PollIntervalMinutes:         defaultTickPollIntervalMinutes,
			RetentionHourUTC:            defaultTickRetentionHourUTC,
			JobsBudgetSeconds:           defaultJobsBudgetSeconds,
			JobsBudgetActivePullSeconds: defaultJobsBudgetActivePullSeconds,
			PullBudgetSeconds:           defaultPullBudgetSeconds,
			OrphanBatchSize:             defaultOrphanBatchSize,
		},
		Retention: Retention{
			Days: 0,
			Mode: defaultRetentionMode,
		},
		Completion: Completion{
			BaseURL:        defaultCompletionBaseURL,
			Model:          defaultCompletionModel,
			Title:          defaultCompletionTitle,
			TimeoutSeconds: defaultCompletionTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
