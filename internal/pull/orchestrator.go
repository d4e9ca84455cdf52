package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gazette/internal/config"
	"gazette/internal/ingest"
	"gazette/internal/jobs"
	"gazette/internal/logging"
	"gazette/internal/services"
	"gazette/internal/store"
)

const (
	defaultCycles     = 1
	defaultStaleAfter = 20 * time.Minute
)

// StartResult reports whether Start created a new run or found one active.
type StartResult struct {
	Started bool  `json:"started"`
	RunID   int64 `json:"run_id"`
}

// Orchestrator drives manual pull runs: single-flight creation, the
// poll-then-process cycle loop, heartbeats, and stale-run recovery.
type Orchestrator struct {
	store     *store.Store
	pipeline  *ingest.Pipeline
	processor *jobs.Processor
	logger    *slog.Logger

	defaultCycles int
	staleAfter    time.Duration
	jobBudget     time.Duration
}

// NewOrchestrator builds a pull orchestrator from the pull configuration
// section.
func NewOrchestrator(st *store.Store, pipeline *ingest.Pipeline, processor *jobs.Processor, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:         st,
		pipeline:      pipeline,
		processor:     processor,
		logger:        logging.WithComponent(logger, "pull"),
		defaultCycles: defaultCycles,
		staleAfter:    defaultStaleAfter,
	}
	if cfg != nil {
		if cfg.Pull.DefaultCycles > 0 {
			o.defaultCycles = cfg.Pull.DefaultCycles
		}
		if cfg.Pull.StaleAfterMinutes > 0 {
			o.staleAfter = time.Duration(cfg.Pull.StaleAfterMinutes) * time.Minute
		}
		if cfg.Tick.JobsBudgetActivePullSeconds > 0 {
			o.jobBudget = time.Duration(cfg.Tick.JobsBudgetActivePullSeconds) * time.Second
		}
	}
	return o
}

// Start queues a new pull run unless one is already active, in which case
// the active run is reported instead. Stale runs are recovered first so a
// crashed daemon never wedges the single-flight slot.
func (o *Orchestrator) Start(ctx context.Context, cycles int, triggeredBy, requestID string) (*StartResult, error) {
	if _, err := o.RecoverStale(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if cycles <= 0 {
		cycles = o.defaultCycles
	}

	run, err := o.store.CreateQueuedRun(ctx, cycles, triggeredBy, requestID)
	if errors.Is(err, store.ErrPullActive) {
		active, activeErr := o.store.ActiveRun(ctx)
		if activeErr != nil {
			return nil, activeErr
		}
		if active == nil {
			// The active run finished between the insert and this read.
			return nil, err
		}
		return &StartResult{Started: false, RunID: active.ID}, nil
	}
	if err != nil {
		return nil, err
	}
	o.logger.Info("pull run queued", logging.Args(
		logging.Int64("run_id", run.ID),
		logging.Int("cycles", cycles),
		logging.String("triggered_by", triggeredBy),
	)...)
	return &StartResult{Started: true, RunID: run.ID}, nil
}

// Run executes a queued pull run to completion. Each cycle forces every feed
// due, polls, and processes one job batch, with heartbeats between phases so
// stale-run recovery can tell progress from a wedged worker. The run row
// ends up success or failed either way; errors are also returned.
func (o *Orchestrator) Run(ctx context.Context, runID int64) error {
	if err := o.store.TransitionRunRunning(ctx, runID); err != nil {
		return err
	}
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("pull run %d not found", runID)
	}

	ctx = services.WithRunID(ctx, runID)
	if run.RequestID != "" {
		ctx = services.WithRequestID(ctx, run.RequestID)
	}
	logger := logging.WithContext(ctx, o.logger)

	stats := &store.PullStats{}
	if err := o.runCycles(ctx, runID, run.Cycles, stats); err != nil {
		o.fillStoreCounts(ctx, stats)
		if completeErr := o.store.CompleteRunFailure(ctx, runID, stats, err.Error()); completeErr != nil {
			logger.Error("complete pull failure", logging.Args(logging.Error(completeErr))...)
		}
		return err
	}

	o.fillStoreCounts(ctx, stats)
	if err := o.store.CompleteRunSuccess(ctx, runID, stats); err != nil {
		return err
	}
	logger.Info("pull run complete", logging.Args(
		logging.Int("cycles", stats.CyclesCompleted),
		logging.Int("items_processed", stats.ItemsProcessed),
	)...)
	return nil
}

func (o *Orchestrator) runCycles(ctx context.Context, runID int64, cycles int, stats *store.PullStats) error {
	if cycles <= 0 {
		cycles = o.defaultCycles
	}
	if err := o.heartbeat(ctx, runID, stats); err != nil {
		return err
	}

	for cycle := 0; cycle < cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now().UTC()

		forced, err := o.store.ForceFeedsDue(ctx, now)
		if err != nil {
			return fmt.Errorf("force feeds due: %w", err)
		}
		stats.DueFeeds = int(forced)

		// Light per-feed heartbeat: slow feeds must not let the run look
		// stale mid-pass. Nil stats keep the previously persisted counters.
		summary, err := o.pipeline.PollDueFeeds(ctx, now, ingest.OnFeedSettled(func(hctx context.Context) {
			if err := o.store.HeartbeatRun(hctx, runID, nil); err != nil {
				logging.WithContext(hctx, o.logger).Warn("heartbeat pull run",
					logging.Args(logging.Error(err))...)
			}
		}))
		if err != nil {
			return fmt.Errorf("poll feeds: %w", err)
		}
		stats.ItemsSeen += summary.ItemsSeen
		stats.ItemsProcessed += summary.ItemsProcessed
		for _, msg := range summary.Errors {
			stats.AddError(msg)
		}
		if err := o.heartbeat(ctx, runID, stats); err != nil {
			return err
		}

		if _, err := o.processor.ProcessBatch(ctx, time.Now().UTC(), o.jobBudget); err != nil {
			return fmt.Errorf("process jobs: %w", err)
		}
		stats.CyclesCompleted = cycle + 1
		if err := o.heartbeat(ctx, runID, stats); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) heartbeat(ctx context.Context, runID int64, stats *store.PullStats) error {
	o.fillStoreCounts(ctx, stats)
	return o.store.HeartbeatRun(ctx, runID, stats)
}

// fillStoreCounts refreshes the point-in-time gauges carried in run stats.
// Failures here degrade the stats, never the run.
func (o *Orchestrator) fillStoreCounts(ctx context.Context, stats *store.PullStats) {
	if total, withErrors, err := o.store.CountFeeds(ctx); err == nil {
		stats.FeedCount = total
		stats.FeedsWithErrors = withErrors
	}
	if count, err := o.store.CountArticles(ctx); err == nil {
		stats.ArticleCount = count
	}
	if counts, err := o.store.CountJobs(ctx); err == nil {
		stats.PendingJobs = counts[store.JobPending]
	}
}

// Status returns the run identified by runID, or the latest run when runID
// is zero. A nil run means no pull has ever happened.
func (o *Orchestrator) Status(ctx context.Context, runID int64) (*store.PullRun, error) {
	if runID > 0 {
		return o.store.GetRun(ctx, runID)
	}
	return o.store.LatestRun(ctx)
}

// RecoverStale fails queued or running runs whose heartbeat predates the
// staleness threshold, freeing the single-flight slot.
func (o *Orchestrator) RecoverStale(ctx context.Context, now time.Time) ([]int64, error) {
	recovered, err := o.store.RecoverStaleRuns(ctx, now.Add(-o.staleAfter))
	if err != nil {
		return nil, err
	}
	for _, id := range recovered {
		o.logger.Warn("recovered stale pull run", logging.Args(logging.Int64("run_id", id))...)
	}
	return recovered, nil
}
