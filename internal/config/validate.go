package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateTick(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIngest() error {
	return ensurePositiveMap(map[string]int{
		"ingest.feed_timeout_seconds":    c.Ingest.FeedTimeoutSeconds,
		"ingest.article_timeout_seconds": c.Ingest.ArticleTimeoutSeconds,
		"ingest.lookback_days":           c.Ingest.LookbackDays,
		"ingest.max_feeds_per_poll":      c.Ingest.MaxFeedsPerPoll,
		"ingest.max_items_per_feed":      c.Ingest.MaxItemsPerFeed,
		"ingest.global_item_budget":      c.Ingest.GlobalItemBudget,
		"ingest.future_skew_hours":       c.Ingest.FutureSkewHours,
	})
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.batch_size":          c.Jobs.BatchSize,
		"jobs.max_attempts":        c.Jobs.MaxAttempts,
		"jobs.retry_delay_minutes": c.Jobs.RetryDelayMinutes,
		"jobs.lease_seconds":       c.Jobs.LeaseSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTick() error {
	if err := ensurePositiveMap(map[string]int{
		"tick.jobs_interval_minutes": c.Tick.JobsIntervalMinutes,
		"tick.poll_interval_minutes": c.Tick.PollIntervalMinutes,
		"tick.jobs_budget_seconds":   c.Tick.JobsBudgetSeconds,
		"tick.pull_budget_seconds":   c.Tick.PullBudgetSeconds,
	}); err != nil {
		return err
	}
	if c.Tick.JobsBudgetActivePullSeconds >= c.Tick.JobsBudgetSeconds {
		return errors.New("tick.jobs_budget_active_pull_seconds must be smaller than tick.jobs_budget_seconds")
	}
	return nil
}

func (c *Config) validateRetention() error {
	switch c.Retention.Mode {
	case "archive", "delete":
		return nil
	default:
		return fmt.Errorf("retention.mode must be %q or %q", "archive", "delete")
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
