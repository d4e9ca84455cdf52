package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const pullRunColumns = "id, status, cycles, triggered_by, request_id, started_at, heartbeat_at, completed_at, last_error, stats_json, created_at, updated_at"

// ErrPullActive is returned when a new run is requested while another run is
// still queued or running.
var ErrPullActive = errors.New("a pull run is already active")

func scanPullRun(scanner rowScanner) (*PullRun, error) {
	var (
		id          int64
		statusStr   string
		cycles      int
		triggeredBy sql.NullString
		requestID   sql.NullString
		startedAt   sql.NullString
		heartbeatAt sql.NullString
		completedAt sql.NullString
		lastError   sql.NullString
		statsJSON   sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id, &statusStr, &cycles, &triggeredBy, &requestID, &startedAt,
		&heartbeatAt, &completedAt, &lastError, &statsJSON, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	status, ok := ParseRunStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("pull run %d: unknown status %q", id, statusStr)
	}

	run := &PullRun{
		ID:          id,
		Status:      status,
		Cycles:      cycles,
		TriggeredBy: triggeredBy.String,
		RequestID:   requestID.String,
		StartedAt:   timePtrFromNull(startedAt),
		HeartbeatAt: timePtrFromNull(heartbeatAt),
		CompletedAt: timePtrFromNull(completedAt),
		LastError:   lastError.String,
		StatsJSON:   statsJSON.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}

// CreateQueuedRun inserts a new queued pull run, refusing when another run is
// still active. The guard and the partial unique index on active statuses
// together keep at most one run in flight.
func (s *Store) CreateQueuedRun(ctx context.Context, cycles int, triggeredBy, requestID string) (*PullRun, error) {
	if cycles < 1 {
		cycles = 1
	}
	timestamp := formatTime(time.Now().UTC())

	var runID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO pull_runs (status, cycles, triggered_by, request_id, created_at, updated_at)
             SELECT ?, ?, ?, ?, ?, ?
             WHERE NOT EXISTS (SELECT 1 FROM pull_runs WHERE status IN (?, ?))`,
			RunQueued,
			cycles,
			nullableString(triggeredBy),
			nullableString(requestID),
			timestamp,
			timestamp,
			RunQueued,
			RunRunning,
		)
		if err != nil {
			return fmt.Errorf("insert pull run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrPullActive
		}
		runID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetRun(ctx, runID)
}

// GetRun fetches a pull run by identifier.
func (s *Store) GetRun(ctx context.Context, id int64) (*PullRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pullRunColumns+` FROM pull_runs WHERE id = ?`, id)
	run, err := scanPullRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pull run: %w", err)
	}
	return run, nil
}

// ActiveRun returns the pull run holding the single-flight slot, if any.
func (s *Store) ActiveRun(ctx context.Context) (*PullRun, error) {
	active := activeRunStatuses()
	args := make([]any, len(active))
	for i, status := range active {
		args[i] = status
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+pullRunColumns+` FROM pull_runs WHERE status IN (`+makePlaceholders(len(active))+`) LIMIT 1`,
		args...,
	)
	run, err := scanPullRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active pull run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently created pull run, if any.
func (s *Store) LatestRun(ctx context.Context) (*PullRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pullRunColumns+` FROM pull_runs ORDER BY id DESC LIMIT 1`)
	run, err := scanPullRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest pull run: %w", err)
	}
	return run, nil
}

// TransitionRunRunning moves a queued run to running and records the start.
// The guard set comes from the run transition table, so a run that already
// left the queue is refused rather than re-entered.
func (s *Store) TransitionRunRunning(ctx context.Context, id int64) error {
	timestamp := formatTime(time.Now().UTC())
	sources := runTransitionSources(RunRunning)
	args := []any{RunRunning, timestamp, timestamp, timestamp, id}
	for _, status := range sources {
		args = append(args, status)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE pull_runs
         SET status = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("start pull run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("start pull run: run %d is not queued", id)
	}
	return nil
}

// HeartbeatRun advances a running run's heartbeat and persists interim stats.
func (s *Store) HeartbeatRun(ctx context.Context, id int64, stats *PullStats) error {
	statsJSON, err := encodeStats(stats)
	if err != nil {
		return err
	}
	timestamp := formatTime(time.Now().UTC())
	_, err = s.execWithRetry(
		ctx,
		`UPDATE pull_runs
         SET heartbeat_at = ?, stats_json = COALESCE(?, stats_json), updated_at = ?
         WHERE id = ? AND status = ?`,
		timestamp,
		nullableString(statsJSON),
		timestamp,
		id,
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("heartbeat pull run: %w", err)
	}
	return nil
}

// CompleteRunSuccess finishes a running run with final stats.
func (s *Store) CompleteRunSuccess(ctx context.Context, id int64, stats *PullStats) error {
	return s.completeRun(ctx, id, RunSuccess, stats, "")
}

// CompleteRunFailure finishes a queued or running run with an error message.
func (s *Store) CompleteRunFailure(ctx context.Context, id int64, stats *PullStats, message string) error {
	return s.completeRun(ctx, id, RunFailed, stats, message)
}

func (s *Store) completeRun(ctx context.Context, id int64, status RunStatus, stats *PullStats, message string) error {
	statsJSON, err := encodeStats(stats)
	if err != nil {
		return err
	}
	timestamp := formatTime(time.Now().UTC())

	// The transition table admits failure from a run that never left the
	// queue, success only from running.
	allowed := runTransitionSources(status)
	args := []any{
		status,
		nullableString(statsJSON),
		nullableString(message),
		timestamp,
		timestamp,
		id,
	}
	for _, from := range allowed {
		args = append(args, from)
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE pull_runs
         SET status = ?, stats_json = COALESCE(?, stats_json), last_error = ?,
             completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(allowed))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("complete pull run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("complete pull run: run %d is not active", id)
	}
	return nil
}

// RecoverStaleRuns fails active runs whose heartbeat (or creation, for runs
// that never started) predates the cutoff. Returns the failed run ids.
func (s *Store) RecoverStaleRuns(ctx context.Context, cutoff time.Time) ([]int64, error) {
	timestamp := formatTime(time.Now().UTC())
	limit := formatTime(cutoff)

	active := activeRunStatuses()
	selectArgs := make([]any, 0, len(active)+1)
	for _, status := range active {
		selectArgs = append(selectArgs, status)
	}
	selectArgs = append(selectArgs, limit)

	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(
			ctx,
			`SELECT id FROM pull_runs
             WHERE status IN (`+makePlaceholders(len(active))+`) AND COALESCE(heartbeat_at, created_at) < ?`,
			selectArgs...,
		)
		if err != nil {
			return fmt.Errorf("select stale runs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		placeholders := makePlaceholders(len(ids))
		args := make([]any, 0, len(ids)+3)
		args = append(args, RunFailed, timestamp, timestamp)
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE pull_runs
             SET status = ?, last_error = 'stale run recovered', completed_at = ?, updated_at = ?
             WHERE id IN (`+placeholders+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("recover stale runs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func encodeStats(stats *PullStats) (string, error) {
	if stats == nil {
		return "", nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("encode pull stats: %w", err)
	}
	return string(data), nil
}
