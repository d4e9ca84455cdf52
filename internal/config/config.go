package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Ingest contains feed polling and article ingestion settings.
type Ingest struct {
	FeedTimeoutSeconds    int `toml:"feed_timeout_seconds"`
	ArticleTimeoutSeconds int `toml:"article_timeout_seconds"`
	LookbackDays          int `toml:"lookback_days"`
	MaxFeedsPerPoll       int `toml:"max_feeds_per_poll"`
	MaxItemsPerFeed       int `toml:"max_items_per_feed"`
	GlobalItemBudget      int `toml:"global_item_budget"`
	FutureSkewHours       int `toml:"future_skew_hours"`
	PollIntervalMinutes   int `toml:"poll_interval_minutes"`
	ImageCooldownHours    int `toml:"image_cooldown_hours"`
}

// Jobs contains job queue claiming and retry settings.
type Jobs struct {
	BatchSize         int  `toml:"batch_size"`
	MaxAttempts       int  `toml:"max_attempts"`
	RetryDelayMinutes int  `toml:"retry_delay_minutes"`
	LeaseSeconds      int  `toml:"lease_seconds"`
	AutoQueue         bool `toml:"auto_queue"`
	AutoTag           bool `toml:"auto_tag"`
}

// Pull contains manual pull run settings.
type Pull struct {
	DefaultCycles     int `toml:"default_cycles"`
	StaleAfterMinutes int `toml:"stale_after_minutes"`
}

// Tick contains tick coordinator cadence and budget settings.
type Tick struct {
	SelfSchedule                bool `toml:"self_schedule"`
	JobsIntervalMinutes         int  `toml:"jobs_interval_minutes"`
	PollIntervalMinutes         int  `toml:"poll_interval_minutes"`
	RetentionHourUTC            int  `toml:"retention_hour_utc"`
	JobsBudgetSeconds           int  `toml:"jobs_budget_seconds"`
	JobsBudgetActivePullSeconds int  `toml:"jobs_budget_active_pull_seconds"`
	PullBudgetSeconds           int  `toml:"pull_budget_seconds"`
	OrphanBatchSize             int  `toml:"orphan_batch_size"`
}

// Retention contains article retention settings. Days <= 0 disables retention.
type Retention struct {
	Days int    `toml:"days"`
	Mode string `toml:"mode"`
}

// Completion contains connection settings for the text-completion service.
type Completion struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Gazette.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Ingest: feed polling cadence, budgets, and timeouts
//   - Jobs: enrichment queue claiming, leases, and retry policy
//   - Pull: manual pull run defaults and stale-run threshold
//   - Tick: tick classification cadences and wall-clock budgets
//   - Retention: article retention window and mode
//   - Completion: external text-completion service connection
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Ingest     Ingest     `toml:"ingest"`
	Jobs       Jobs       `toml:"jobs"`
	Pull       Pull       `toml:"pull"`
	Tick       Tick       `toml:"tick"`
	Retention  Retention  `toml:"retention"`
	Completion Completion `toml:"completion"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gazette/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/gazette/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gazette.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "gazette.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
