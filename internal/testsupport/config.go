package testsupport

import (
	"path/filepath"
	"testing"

	"gazette/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Completion.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithRetention sets the retention policy on the test config.
func WithRetention(days int, mode string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retention.Days = days
		cfg.Retention.Mode = mode
	}
}

// WithLookbackDays overrides the first-poll lookback window.
func WithLookbackDays(days int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Ingest.LookbackDays = days
	}
}
