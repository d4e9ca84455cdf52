package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"gazette/internal/config"
	"gazette/internal/feed"
	"gazette/internal/ingest"
	"gazette/internal/jobs"
	"gazette/internal/logging"
	"gazette/internal/maintenance"
	"gazette/internal/pull"
	"gazette/internal/services/completion"
	"gazette/internal/store"
	"gazette/internal/tick"
)

// Daemon owns the long-running gazette process: it wires the ingestion
// pipeline, job processor, pull orchestrator, and tick coordinator together,
// enforces single-instance execution via a lock file, and serves the HTTP
// trigger API.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store

	pipeline     *ingest.Pipeline
	processor    *jobs.Processor
	orchestrator *pull.Orchestrator
	maintainer   *maintenance.Service
	coordinator  *tick.Coordinator

	api       *apiServer
	scheduler *scheduler

	lockPath string
	lock     *flock.Flock

	completerOverride jobs.Completer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is the daemon health document served at /api/status.
type Status struct {
	Running      bool                    `json:"running"`
	LockFilePath string                  `json:"lock_file_path"`
	DBPath       string                  `json:"db_path"`
	FeedCount    int                     `json:"feed_count"`
	FeedErrors   int                     `json:"feed_errors"`
	ArticleCount int                     `json:"article_count"`
	JobCounts    map[store.JobStatus]int `json:"job_counts"`
	ActiveRun    *store.PullRun          `json:"active_run,omitempty"`
}

// New constructs a daemon and its collaborators. The completion client is
// built from configuration; tests can substitute one through WithCompleter.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    st,
		lockPath: filepath.Join(cfg.Paths.LogDir, "gazetted.lock"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lock = flock.New(d.lockPath)

	completer := d.completerOverride
	if completer == nil {
		completer = completion.NewClient(completion.Config{
			APIKey:         cfg.Completion.APIKey,
			BaseURL:        cfg.Completion.BaseURL,
			Model:          cfg.Completion.Model,
			Referer:        cfg.Completion.Referer,
			Title:          cfg.Completion.Title,
			TimeoutSeconds: cfg.Completion.TimeoutSeconds,
		})
	}

	pageTimeout := 10 * time.Second
	if cfg.Ingest.ArticleTimeoutSeconds > 0 {
		pageTimeout = time.Duration(cfg.Ingest.ArticleTimeoutSeconds) * time.Second
	}
	pages := feed.NewPageFetcher(pageTimeout)

	d.pipeline = ingest.NewPipeline(st, cfg, logger, ingest.WithPageFetcher(pages))
	d.processor = jobs.NewProcessor(st, completer, cfg, logger, jobs.WithPageFetcher(pages))
	d.orchestrator = pull.NewOrchestrator(st, d.pipeline, d.processor, cfg, logger)
	d.maintainer = maintenance.NewService(st, cfg, logger)
	d.coordinator = tick.NewCoordinator(st, d.pipeline, d.processor, d.orchestrator, d.maintainer, cfg, logger)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	if cfg.Tick.SelfSchedule {
		d.scheduler = newScheduler(cfg, d.coordinator, logger)
	}
	return d, nil
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithCompleter substitutes the completion client, primarily for tests.
func WithCompleter(completer jobs.Completer) Option {
	return func(d *Daemon) {
		d.completerOverride = completer
	}
}

// Start acquires the instance lock and brings up the API server and, when
// self-scheduling is enabled, the internal tickers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gazette daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}
	if d.scheduler != nil {
		d.scheduler.start(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("gazette daemon started", logging.Args(logging.String("lock", d.lockPath))...)
	return nil
}

// Stop shuts down background work and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.scheduler != nil {
		d.scheduler.stop()
	}
	if d.api != nil {
		d.api.stop()
	}
	d.coordinator.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("gazette daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, or "" before Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// StartPull queues a pull run and, when newly created, drives it in the
// background.
func (d *Daemon) StartPull(ctx context.Context, cycles int, triggeredBy, requestID string) (*pull.StartResult, error) {
	result, err := d.orchestrator.Start(ctx, cycles, triggeredBy, requestID)
	if err != nil {
		return nil, err
	}
	if result.Started {
		go func() {
			if err := d.orchestrator.Run(context.Background(), result.RunID); err != nil {
				d.logger.Warn("pull run failed", logging.Args(
					logging.Int64("run_id", result.RunID),
					logging.Error(err),
				)...)
			}
		}()
	}
	return result, nil
}

// Status collects the daemon health document.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		DBPath:       d.cfg.DatabasePath(),
	}
	if total, withErrors, err := d.store.CountFeeds(ctx); err == nil {
		status.FeedCount = total
		status.FeedErrors = withErrors
	}
	if count, err := d.store.CountArticles(ctx); err == nil {
		status.ArticleCount = count
	}
	if counts, err := d.store.CountJobs(ctx); err == nil {
		status.JobCounts = counts
	}
	if active, err := d.store.ActiveRun(ctx); err == nil && active != nil {
		status.ActiveRun = active
	}
	return status
}
