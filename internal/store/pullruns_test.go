package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gazette/internal/store"
	"gazette/internal/testsupport"
)

func TestCreateQueuedRunSingleFlight(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := st.CreateQueuedRun(ctx, 2, "api", "req-1")
	if err != nil {
		t.Fatalf("CreateQueuedRun: %v", err)
	}
	if run.Status != store.RunQueued || run.Cycles != 2 {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := st.CreateQueuedRun(ctx, 1, "api", "req-2"); !errors.Is(err, store.ErrPullActive) {
		t.Fatalf("expected ErrPullActive, got %v", err)
	}

	// Still refused once the run is running.
	if err := st.TransitionRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("TransitionRunRunning: %v", err)
	}
	if _, err := st.CreateQueuedRun(ctx, 1, "api", "req-3"); !errors.Is(err, store.ErrPullActive) {
		t.Fatalf("expected ErrPullActive while running, got %v", err)
	}

	// A finished run frees the slot.
	if err := st.CompleteRunSuccess(ctx, run.ID, &store.PullStats{FeedCount: 3}); err != nil {
		t.Fatalf("CompleteRunSuccess: %v", err)
	}
	next, err := st.CreateQueuedRun(ctx, 1, "schedule", "")
	if err != nil {
		t.Fatalf("CreateQueuedRun after finish: %v", err)
	}
	if next.ID == run.ID {
		t.Fatal("expected a new run row")
	}
}

func TestRunLifecycleGuards(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := st.CreateQueuedRun(ctx, 1, "cli", "")
	if err != nil {
		t.Fatalf("CreateQueuedRun: %v", err)
	}

	// Success requires a running run.
	if err := st.CompleteRunSuccess(ctx, run.ID, nil); err == nil {
		t.Fatal("expected error completing a queued run as success")
	}
	// Failure may hit a queued run.
	if err := st.CompleteRunFailure(ctx, run.ID, nil, "startup failed"); err != nil {
		t.Fatalf("CompleteRunFailure on queued: %v", err)
	}
	failed, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if failed.Status != store.RunFailed || failed.LastError != "startup failed" {
		t.Fatalf("unexpected failed run: %+v", failed)
	}
	if failed.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	// Terminal runs reject further transitions.
	if err := st.TransitionRunRunning(ctx, run.ID); err == nil {
		t.Fatal("expected error starting a failed run")
	}
}

func TestTransitionRunRunningRefusesRepeat(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := st.CreateQueuedRun(ctx, 1, "api", "")
	if err != nil {
		t.Fatalf("CreateQueuedRun: %v", err)
	}
	if err := st.TransitionRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("TransitionRunRunning: %v", err)
	}
	started, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	// A second start must not restart the run or move its start time.
	if err := st.TransitionRunRunning(ctx, run.ID); err == nil {
		t.Fatal("expected error starting an already running run")
	}
	again, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun after repeat: %v", err)
	}
	if again.Status != store.RunRunning {
		t.Fatalf("expected run still running, got %s", again.Status)
	}
	if started.StartedAt == nil || again.StartedAt == nil || !again.StartedAt.Equal(*started.StartedAt) {
		t.Fatalf("expected started_at unchanged, got %v then %v", started.StartedAt, again.StartedAt)
	}
}

func TestHeartbeatRunUpdatesStats(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := st.CreateQueuedRun(ctx, 1, "api", "")
	if err != nil {
		t.Fatalf("CreateQueuedRun: %v", err)
	}
	if err := st.TransitionRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("TransitionRunRunning: %v", err)
	}

	if err := st.HeartbeatRun(ctx, run.ID, &store.PullStats{FeedCount: 7}); err != nil {
		t.Fatalf("HeartbeatRun: %v", err)
	}
	updated, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if updated.HeartbeatAt == nil {
		t.Fatal("expected heartbeat timestamp")
	}
	if !strings.Contains(updated.StatsJSON, `"feed_count":7`) {
		t.Fatalf("expected stats in run, got %q", updated.StatsJSON)
	}

	// A nil-stats heartbeat keeps the previous stats.
	if err := st.HeartbeatRun(ctx, run.ID, nil); err != nil {
		t.Fatalf("HeartbeatRun nil stats: %v", err)
	}
	kept, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !strings.Contains(kept.StatsJSON, `"feed_count":7`) {
		t.Fatalf("expected stats preserved, got %q", kept.StatsJSON)
	}
}

func TestRecoverStaleRuns(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	run, err := st.CreateQueuedRun(ctx, 1, "api", "")
	if err != nil {
		t.Fatalf("CreateQueuedRun: %v", err)
	}
	if err := st.TransitionRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("TransitionRunRunning: %v", err)
	}

	// Cutoff in the past leaves the fresh heartbeat alone.
	ids, err := st.RecoverStaleRuns(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecoverStaleRuns: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no stale runs, got %v", ids)
	}

	// Cutoff in the future makes the heartbeat stale.
	ids, err = st.RecoverStaleRuns(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("RecoverStaleRuns future cutoff: %v", err)
	}
	if len(ids) != 1 || ids[0] != run.ID {
		t.Fatalf("expected run %d recovered, got %v", run.ID, ids)
	}

	recovered, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if recovered.Status != store.RunFailed || recovered.LastError == "" {
		t.Fatalf("expected failed stale run, got %+v", recovered)
	}

	active, err := st.ActiveRun(ctx)
	if err != nil {
		t.Fatalf("ActiveRun: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active run after recovery, got %+v", active)
	}
}
