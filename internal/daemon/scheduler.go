package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gazette/internal/config"
	"gazette/internal/logging"
	"gazette/internal/tick"
)

// scheduler fires the tick coordinator on internal timers when
// self-scheduling is enabled, replacing an external cron. Each timer sends
// the same interval-derived identifier an external scheduler would.
type scheduler struct {
	coordinator *tick.Coordinator
	logger      *slog.Logger

	jobsEvery     time.Duration
	pollEvery     time.Duration
	retentionHour int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScheduler(cfg *config.Config, coordinator *tick.Coordinator, logger *slog.Logger) *scheduler {
	s := &scheduler{
		coordinator:   coordinator,
		logger:        logging.WithComponent(logger, "scheduler"),
		jobsEvery:     5 * time.Minute,
		pollEvery:     15 * time.Minute,
		retentionHour: 3,
	}
	if cfg.Tick.JobsIntervalMinutes > 0 {
		s.jobsEvery = time.Duration(cfg.Tick.JobsIntervalMinutes) * time.Minute
	}
	if cfg.Tick.PollIntervalMinutes > 0 {
		s.pollEvery = time.Duration(cfg.Tick.PollIntervalMinutes) * time.Minute
	}
	if cfg.Tick.RetentionHourUTC >= 0 && cfg.Tick.RetentionHourUTC <= 23 {
		s.retentionHour = cfg.Tick.RetentionHourUTC
	}
	return s
}

func (s *scheduler) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	jobsID := tick.JobsIdentifier(int(s.jobsEvery / time.Minute))
	pollID := tick.PollIdentifier(int(s.pollEvery / time.Minute))
	retentionID := tick.RetentionIdentifier(s.retentionHour)

	s.wg.Add(3)
	go s.every(runCtx, s.jobsEvery, jobsID)
	go s.every(runCtx, s.pollEvery, pollID)
	go s.daily(runCtx, s.retentionHour, retentionID)

	s.logger.Info("self-scheduling enabled", logging.Args(
		logging.Duration("jobs_interval", s.jobsEvery),
		logging.Duration("poll_interval", s.pollEvery),
		logging.Int("retention_hour_utc", s.retentionHour),
	)...)
}

func (s *scheduler) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

func (s *scheduler) every(ctx context.Context, interval time.Duration, identifier string) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.coordinator.HandleTick(identifier)
		}
	}
}

func (s *scheduler) daily(ctx context.Context, hourUTC int, identifier string) {
	defer s.wg.Done()
	for {
		wait := time.Until(nextDaily(time.Now().UTC(), hourUTC))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.coordinator.HandleTick(identifier)
		}
	}
}

// nextDaily returns the next occurrence of hourUTC:00 strictly after now.
func nextDaily(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
