package tick

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gazette/internal/config"
	"gazette/internal/ingest"
	"gazette/internal/jobs"
	"gazette/internal/logging"
	"gazette/internal/maintenance"
	"gazette/internal/pull"
	"gazette/internal/store"
)

const (
	defaultJobsBudget           = 45 * time.Second
	defaultJobsBudgetActivePull = 10 * time.Second
	defaultPullBudget           = 90 * time.Second
	defaultOrphanBatch          = 25
)

// Coordinator fans one schedule tick out into bounded pipeline work. Ticks
// are acknowledged immediately; the work itself runs as a background
// continuation and never surfaces errors to the invoker.
type Coordinator struct {
	store        *store.Store
	pipeline     *ingest.Pipeline
	processor    *jobs.Processor
	orchestrator *pull.Orchestrator
	maintainer   *maintenance.Service
	resolver     *Resolver
	logger       *slog.Logger

	autoQueue   bool
	autoTag     bool
	jobsBudget  time.Duration
	smallBudget time.Duration
	pullBudget  time.Duration
	orphanBatch int

	wg sync.WaitGroup
}

// NewCoordinator wires the coordinator to its collaborators and budgets.
func NewCoordinator(
	st *store.Store,
	pipeline *ingest.Pipeline,
	processor *jobs.Processor,
	orchestrator *pull.Orchestrator,
	maintainer *maintenance.Service,
	cfg *config.Config,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		store:        st,
		pipeline:     pipeline,
		processor:    processor,
		orchestrator: orchestrator,
		maintainer:   maintainer,
		resolver:     NewResolver(cfg),
		logger:       logging.WithComponent(logger, "tick"),
		jobsBudget:   defaultJobsBudget,
		smallBudget:  defaultJobsBudgetActivePull,
		pullBudget:   defaultPullBudget,
		orphanBatch:  defaultOrphanBatch,
	}
	if cfg != nil {
		c.autoQueue = cfg.Jobs.AutoQueue
		c.autoTag = cfg.Jobs.AutoTag
		if cfg.Tick.JobsBudgetSeconds > 0 {
			c.jobsBudget = time.Duration(cfg.Tick.JobsBudgetSeconds) * time.Second
		}
		if cfg.Tick.JobsBudgetActivePullSeconds > 0 {
			c.smallBudget = time.Duration(cfg.Tick.JobsBudgetActivePullSeconds) * time.Second
		}
		if cfg.Tick.PullBudgetSeconds > 0 {
			c.pullBudget = time.Duration(cfg.Tick.PullBudgetSeconds) * time.Second
		}
		if cfg.Tick.OrphanBatchSize > 0 {
			c.orphanBatch = cfg.Tick.OrphanBatchSize
		}
	}
	return c
}

// HandleTick classifies the identifier and schedules the matching work in
// the background. The call returns as soon as the work is queued.
func (c *Coordinator) HandleTick(identifier string) Kind {
	kind := c.resolver.Resolve(identifier)
	if kind.None() {
		c.logger.Debug("unrecognized schedule identifier", logging.Args(
			logging.String("schedule", identifier),
		)...)
		return kind
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runTick(context.Background(), kind)
	}()
	return kind
}

// Wait blocks until all in-flight tick work has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// runTick executes the buckets a tick resolved to. Every failure is logged
// and swallowed so one bucket's trouble never starves the others.
func (c *Coordinator) runTick(ctx context.Context, kind Kind) {
	now := time.Now().UTC()
	if kind.Jobs {
		c.jobsTick(ctx, now)
	}
	if kind.Retention {
		if _, err := c.maintainer.RunRetention(ctx, now); err != nil {
			c.logger.Error("retention tick", logging.Args(logging.Error(err))...)
		}
	}
	if kind.Poll {
		if summary, err := c.pipeline.PollDueFeeds(ctx, now); err != nil {
			c.logger.Error("poll tick", logging.Args(logging.Error(err))...)
		} else if summary.FeedsPolled > 0 {
			c.logger.Info("poll tick", logging.Args(
				logging.Int("feeds_polled", summary.FeedsPolled),
				logging.Int("items_processed", summary.ItemsProcessed),
			)...)
		}
	}
}

func (c *Coordinator) jobsTick(ctx context.Context, now time.Time) {
	if _, err := c.orchestrator.RecoverStale(ctx, now); err != nil {
		c.logger.Error("recover stale runs", logging.Args(logging.Error(err))...)
	}

	// A queued run with no invocation driving it is picked up here, under
	// this tick's pull budget.
	active, err := c.store.ActiveRun(ctx)
	if err != nil {
		c.logger.Error("read active run", logging.Args(logging.Error(err))...)
		return
	}
	if active != nil && active.Status == store.RunQueued {
		pullCtx, cancel := context.WithTimeout(ctx, c.pullBudget)
		if err := c.orchestrator.Run(pullCtx, active.ID); err != nil {
			c.logger.Warn("pull slice", logging.Args(
				logging.Int64("run_id", active.ID),
				logging.Error(err),
			)...)
		}
		cancel()
		active, err = c.store.ActiveRun(ctx)
		if err != nil {
			c.logger.Error("read active run", logging.Args(logging.Error(err))...)
			return
		}
	}
	pullActive := active != nil

	if !pullActive && c.autoQueue {
		if queued, err := c.store.QueueMissingToday(ctx, now, c.autoTag); err != nil {
			c.logger.Error("queue missing today", logging.Args(logging.Error(err))...)
		} else if queued > 0 {
			c.logger.Info("queued missing enrichment", logging.Args(logging.Int("jobs", queued))...)
		}
	}

	budget := c.jobsBudget
	if pullActive {
		budget = c.smallBudget
	}
	if summary, err := c.processor.ProcessBatch(ctx, time.Now().UTC(), budget); err != nil {
		c.logger.Error("process jobs", logging.Args(logging.Error(err))...)
	} else if summary.Processed > 0 || summary.Reaped > 0 {
		c.logger.Info("jobs tick", logging.Args(
			logging.Int("processed", summary.Processed),
			logging.Int("done", summary.Done),
			logging.Int("failed", summary.Failed),
			logging.Int64("reaped", summary.Reaped),
		)...)
	}

	if !pullActive {
		if _, err := c.maintainer.CleanupOrphans(ctx, c.orphanBatch, false); err != nil {
			c.logger.Error("orphan cleanup", logging.Args(logging.Error(err))...)
		}
	}
}
