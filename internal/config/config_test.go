package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gazette/internal/config"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Retention.Days != 0 {
		t.Fatalf("retention should be disabled by default, got days=%d", cfg.Retention.Days)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config file")
	}
	if resolved == "" {
		t.Fatal("expected resolved path even when file is missing")
	}
	if cfg.Ingest.LookbackDays != 45 {
		t.Fatalf("expected default lookback 45, got %d", cfg.Ingest.LookbackDays)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`data_dir = "` + filepath.Join(dir, "data") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"[retention]",
		"days = 30",
		`mode = "ARCHIVE"`,
		"[ingest]",
		"lookback_days = 10",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Retention.Mode != "archive" {
		t.Fatalf("expected mode normalized to archive, got %q", cfg.Retention.Mode)
	}
	if cfg.Retention.Days != 30 {
		t.Fatalf("expected retention days 30, got %d", cfg.Retention.Days)
	}
	if cfg.Ingest.LookbackDays != 10 {
		t.Fatalf("expected lookback 10, got %d", cfg.Ingest.LookbackDays)
	}
	if cfg.Ingest.FeedTimeoutSeconds != 12 {
		t.Fatalf("expected default feed timeout, got %d", cfg.Ingest.FeedTimeoutSeconds)
	}
}

func TestValidateRejectsBadRetentionMode(t *testing.T) {
	cfg := config.Default()
	cfg.Retention.Mode = "purge"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown retention mode")
	}
}

func TestValidateRejectsInvertedBudgets(t *testing.T) {
	cfg := config.Default()
	cfg.Tick.JobsBudgetActivePullSeconds = cfg.Tick.JobsBudgetSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when active-pull budget is not smaller")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[ingest]") {
		t.Fatal("sample config missing [ingest] section")
	}
}
