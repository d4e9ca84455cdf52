package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gazette/internal/config"
	"gazette/internal/logging"
	"gazette/internal/store"
)

const defaultOrphanBatch = 50

// OrphanReport summarizes one orphan-cleanup invocation.
type OrphanReport struct {
	DryRun  bool    `json:"dry_run"`
	Before  int     `json:"before"`
	After   int     `json:"after"`
	Deleted int     `json:"deleted"`
	Skipped int     `json:"skipped"`
	HasMore bool    `json:"has_more"`
	IDs     []int64 `json:"ids,omitempty"`
}

// RetentionReport summarizes one retention invocation.
type RetentionReport struct {
	Enabled  bool      `json:"enabled"`
	Mode     string    `json:"mode"`
	Cutoff   time.Time `json:"cutoff,omitempty"`
	Affected int64     `json:"affected"`
	HasMore  bool      `json:"has_more"`
}

// Service runs the periodic maintenance passes: orphan cleanup and article
// retention.
type Service struct {
	store  *store.Store
	logger *slog.Logger

	retentionDays  int
	retentionMode  string
	retentionBatch int
}

// NewService builds a maintenance service from the retention configuration
// section.
func NewService(st *store.Store, cfg *config.Config, logger *slog.Logger) *Service {
	s := &Service{
		store:          st,
		logger:         logging.WithComponent(logger, "maintenance"),
		retentionMode:  "archive",
		retentionBatch: 500,
	}
	if cfg != nil {
		s.retentionDays = cfg.Retention.Days
		if cfg.Retention.Mode != "" {
			s.retentionMode = cfg.Retention.Mode
		}
	}
	return s
}

// CleanupOrphans deletes (or, in dry-run, merely counts) up to limit articles
// that no feed source references anymore. Articles with a running job are
// skipped and retried on a later pass.
func (s *Service) CleanupOrphans(ctx context.Context, limit int, dryRun bool) (*OrphanReport, error) {
	if limit <= 0 {
		limit = defaultOrphanBatch
	}
	report := &OrphanReport{DryRun: dryRun}

	before, err := s.store.CountOrphanArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orphans: %w", err)
	}
	report.Before = before
	report.After = before
	report.HasMore = before > limit
	if before == 0 || dryRun {
		return report, nil
	}

	orphans, err := s.store.ListOrphanArticles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	ids := make([]int64, 0, len(orphans))
	for _, orphan := range orphans {
		ids = append(ids, orphan.ID)
	}
	report.IDs = ids

	deleted, skipped, err := s.store.DeleteOrphanArticles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("delete orphans: %w", err)
	}
	report.Deleted = deleted
	report.Skipped = skipped

	after, err := s.store.CountOrphanArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("recount orphans: %w", err)
	}
	report.After = after
	report.HasMore = after > 0

	s.logger.Info("orphan cleanup", logging.Args(
		logging.Int("before", report.Before),
		logging.Int("deleted", report.Deleted),
		logging.Int("skipped", report.Skipped),
		logging.Bool("has_more", report.HasMore),
	)...)
	return report, nil
}

// RunRetention ages out articles older than the configured window. Mode
// "delete" removes them outright; mode "archive" strips heavy content while
// keeping metadata and enrichment. Days <= 0 disables retention.
func (s *Service) RunRetention(ctx context.Context, now time.Time) (*RetentionReport, error) {
	report := &RetentionReport{Mode: s.retentionMode}
	if s.retentionDays <= 0 {
		return report, nil
	}
	report.Enabled = true
	report.Cutoff = now.UTC().AddDate(0, 0, -s.retentionDays)

	switch s.retentionMode {
	case "delete":
		deleted, err := s.store.DeleteArticlesBefore(ctx, report.Cutoff, s.retentionBatch)
		if err != nil {
			return nil, fmt.Errorf("retention delete: %w", err)
		}
		report.Affected = deleted
	case "archive":
		archived, err := s.store.ArchiveArticlesBefore(ctx, report.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("retention archive: %w", err)
		}
		report.Affected = archived
	default:
		return nil, fmt.Errorf("retention: unknown mode %q", s.retentionMode)
	}

	if report.Affected > 0 {
		s.logger.Info("retention pass", logging.Args(
			logging.String("mode", report.Mode),
			logging.Int64("affected", report.Affected),
		)...)
	}
	return report, nil
}
