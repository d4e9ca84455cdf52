package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, type, article_id, status, attempts, priority, run_after, last_error, provider, model, locked_by, locked_at, lease_expires_at, created_at, updated_at"

// ErrJobRunning is returned by admin operations that refuse to touch a job
// while a processor holds it.
var ErrJobRunning = errors.New("job is running")

// ErrJobNotFound is returned when an admin action targets a missing job.
var ErrJobNotFound = errors.New("job not found")

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		id         int64
		jobType    string
		articleID  sql.NullInt64
		statusStr  string
		attempts   int
		priority   int
		runAfter   sql.NullString
		lastError  sql.NullString
		provider   sql.NullString
		model      sql.NullString
		lockedBy   sql.NullString
		lockedAt   sql.NullString
		leaseRaw   sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id, &jobType, &articleID, &statusStr, &attempts, &priority, &runAfter,
		&lastError, &provider, &model, &lockedBy, &lockedAt, &leaseRaw,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	// Types are not validated here: a job carrying a type this build does
	// not know must still surface so the processor can fail it explicitly.
	status, ok := ParseJobStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("job %d: unknown status %q", id, statusStr)
	}

	job := &Job{
		ID:             id,
		Type:           JobType(jobType),
		Status:         status,
		Attempts:       attempts,
		Priority:       priority,
		LastError:      lastError.String,
		Provider:       provider.String,
		Model:          model.String,
		LockedBy:       lockedBy.String,
		LockedAt:       timePtrFromNull(lockedAt),
		LeaseExpiresAt: timePtrFromNull(leaseRaw),
	}
	if articleID.Valid {
		v := articleID.Int64
		job.ArticleID = &v
	}
	if runAfterTime, err := parseTimeString(runAfter.String); err == nil {
		job.RunAfter = runAfterTime
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// EnqueueJob upserts a job keyed by (type, article_id). A pending, failed,
// done, or cancelled row is reset to a fresh pending request; a running row
// is left completely untouched so in-flight work is never clobbered.
func (s *Store) EnqueueJob(ctx context.Context, jobType JobType, articleID *int64, priority int, runAfter time.Time) (*Job, error) {
	now := time.Now().UTC()
	timestamp := formatTime(now)

	var resultID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT id, status FROM jobs WHERE type = ? AND article_id IS ?`,
			string(jobType),
			nullableInt64(articleID),
		)
		var existingID int64
		var existingStatus string
		err := row.Scan(&existingID, &existingStatus)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, insertErr := tx.ExecContext(
				ctx,
				`INSERT INTO jobs (type, article_id, status, attempts, priority, run_after, created_at, updated_at)
                 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
				string(jobType),
				nullableInt64(articleID),
				JobPending,
				priority,
				formatTime(runAfter),
				timestamp,
				timestamp,
			)
			if insertErr != nil {
				return fmt.Errorf("insert job: %w", insertErr)
			}
			resultID, insertErr = res.LastInsertId()
			if insertErr != nil {
				return fmt.Errorf("last insert id: %w", insertErr)
			}
			return nil
		case err != nil:
			return fmt.Errorf("lookup job: %w", err)
		}

		resultID = existingID
		if JobStatus(existingStatus) == JobRunning {
			// Never clobber in-flight work with a fresh upsert.
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = 0, priority = ?, run_after = ?,
                 last_error = NULL, locked_by = NULL, locked_at = NULL,
                 lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND status <> ?`,
			JobPending,
			priority,
			formatTime(runAfter),
			timestamp,
			existingID,
			JobRunning,
		); err != nil {
			return fmt.Errorf("reset job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, resultID)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindJob locates a job by its (type, article_id) identity.
func (s *Store) FindJob(ctx context.Context, jobType JobType, articleID *int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE type = ? AND article_id IS ?`,
		string(jobType),
		nullableInt64(articleID),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY run_after, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJobs leases up to limit due pending jobs for the named claimer. Each
// claimed job moves to running with lock fields set; the lease expiry bounds
// how long the claim survives a crashed processor.
func (s *Store) ClaimJobs(ctx context.Context, claimer string, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimer == "" {
		return nil, errors.New("claimer identity is required")
	}

	// Claimable means any status the transition table lets move to running.
	claimable := jobTransitionSources(JobRunning)
	selectArgs := make([]any, 0, len(claimable)+2)
	for _, status := range claimable {
		selectArgs = append(selectArgs, status)
	}
	selectArgs = append(selectArgs, formatTime(now), limit)

	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(
			ctx,
			`SELECT id FROM jobs
             WHERE status IN (`+makePlaceholders(len(claimable))+`) AND run_after <= ?
             ORDER BY priority DESC, run_after, id LIMIT ?`,
			selectArgs...,
		)
		if err != nil {
			return fmt.Errorf("select claimable: %w", err)
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
		args := make([]any, 0, len(ids)+len(claimable)+5)
		args = append(args,
			JobRunning,
			claimer,
			formatTime(now),
			formatTime(now.Add(lease)),
			formatTime(time.Now().UTC()),
		)
		for _, id := range ids {
			args = append(args, id)
		}
		for _, status := range claimable {
			args = append(args, status)
		}
		// Guarded transition: rows that changed hands since the select are skipped.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, locked_by = ?, locked_at = ?, lease_expires_at = ?, updated_at = ?
             WHERE id IN (`+placeholders+`) AND status IN (`+makePlaceholders(len(claimable))+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("claim jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil && job.Status == JobRunning && job.LockedBy == claimer {
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

// ReapExpiredLeases returns running jobs with expired leases to pending (or
// failed once attempts reach the cap), charging the lost lease as an attempt.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time, maxAttempts int, retryDelay time.Duration) (int64, error) {
	timestamp := formatTime(time.Now().UTC())
	cutoff := formatTime(now)

	var reaped int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, run_after = ?,
                 last_error = 'lease expired', locked_by = NULL,
                 locked_at = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
               AND attempts + 1 < ?`,
			JobPending,
			formatTime(now.Add(retryDelay)),
			timestamp,
			JobRunning,
			cutoff,
			maxAttempts,
		)
		if err != nil {
			return fmt.Errorf("reap expired leases: %w", err)
		}
		requeued, err := res.RowsAffected()
		if err != nil {
			return err
		}

		res, err = tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1,
                 last_error = 'lease expired', locked_by = NULL,
                 locked_at = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
			JobFailed,
			timestamp,
			JobRunning,
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("fail exhausted leases: %w", err)
		}
		failed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		reaped = requeued + failed
		return nil
	})
	return reaped, err
}

// MarkJobDone completes a running job. The guard set comes from the job
// transition table: only running jobs may finish.
func (s *Store) MarkJobDone(ctx context.Context, id int64, provider, model string) error {
	sources := jobTransitionSources(JobDone)
	args := []any{
		JobDone,
		nullableString(provider),
		nullableString(model),
		formatTime(time.Now().UTC()),
		id,
	}
	for _, status := range sources {
		args = append(args, status)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, last_error = NULL, provider = ?, model = ?,
             locked_by = NULL, locked_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("mark job done: job %d is not running", id)
	}
	return nil
}

// ReleaseJob returns a claimed job to pending without charging an attempt.
// Used when a processing budget expires before the job was dispatched. The
// claimer guard keeps a stale worker from releasing someone else's lease.
func (s *Store) ReleaseJob(ctx context.Context, id int64, claimer string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, locked_by = NULL, locked_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND locked_by = ?`,
		JobPending,
		formatTime(time.Now().UTC()),
		id,
		JobRunning,
		claimer,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("release job: job %d is not held by %s", id, claimer)
	}
	return nil
}

// MarkJobFailed records a handler failure. Below the attempt cap the job is
// requeued pending with the retry delay; at the cap it becomes failed and
// stays out of the queue until an explicit retry action.
func (s *Store) MarkJobFailed(ctx context.Context, id int64, jobErr error, maxAttempts int, retryDelay time.Duration) (*Job, error) {
	message := "handler failure"
	if jobErr != nil {
		message = jobErr.Error()
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT attempts, status FROM jobs WHERE id = ?`, id)
		var attempts int
		var statusStr string
		if err := row.Scan(&attempts, &statusStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return fmt.Errorf("read job attempts: %w", err)
		}
		if JobStatus(statusStr) != JobRunning {
			return fmt.Errorf("mark job failed: job %d is not running", id)
		}

		attempts++
		nextStatus := JobPending
		runAfter := now.Add(retryDelay)
		if attempts >= maxAttempts {
			nextStatus = JobFailed
			runAfter = now
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = ?, run_after = ?, last_error = ?,
                 locked_by = NULL, locked_at = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			nextStatus,
			attempts,
			formatTime(runAfter),
			message,
			formatTime(now),
			id,
			JobRunning,
		); err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// RetryAllFailed resets every failed job to pending with zeroed attempts.
func (s *Store) RetryAllFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, attempts = 0, run_after = ?, last_error = NULL, updated_at = ?
         WHERE status = ?`,
		JobPending,
		formatTime(time.Now().UTC()),
		formatTime(time.Now().UTC()),
		JobFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// CancelJob cancels a single job. The job transition table admits cancel
// only from pending: running jobs are refused and finished jobs stay as
// their final record.
func (s *Store) CancelJob(ctx context.Context, id int64) error {
	sources := jobTransitionSources(JobCancelled)
	args := []any{JobCancelled, formatTime(time.Now().UTC()), id}
	for _, status := range sources {
		args = append(args, status)
	}
	return s.guardedAdminUpdate(ctx, id,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+makePlaceholders(len(sources))+`)`,
		args...,
	)
}

// CancelPendingJobs cancels every job the transition table lets move to
// cancelled.
func (s *Store) CancelPendingJobs(ctx context.Context) (int64, error) {
	sources := jobTransitionSources(JobCancelled)
	args := []any{JobCancelled, formatTime(time.Now().UTC())}
	for _, status := range sources {
		args = append(args, status)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status IN (`+makePlaceholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteJob removes a job row. Running jobs are refused.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	return s.guardedAdminUpdate(ctx, id,
		`DELETE FROM jobs WHERE id = ? AND status <> ?`,
		id, JobRunning,
	)
}

// ClearFinishedJobs removes done and cancelled jobs.
func (s *Store) ClearFinishedJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?)`,
		JobDone,
		JobCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// ForceJobRunNow makes a job due immediately. Running jobs are refused.
func (s *Store) ForceJobRunNow(ctx context.Context, id int64) error {
	return s.guardedAdminUpdate(ctx, id,
		`UPDATE jobs SET run_after = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), id, JobRunning,
	)
}

// guardedAdminUpdate runs an admin mutation that must refuse running jobs and
// distinguishes "missing" from "in the wrong state".
func (s *Store) guardedAdminUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("job admin update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status == JobRunning {
		return ErrJobRunning
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %d already finished in status %s", id, job.Status)
	}
	return fmt.Errorf("job %d not eligible in status %s", id, job.Status)
}

// CountJobs returns a count of jobs grouped by status.
func (s *Store) CountJobs(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// QueueMissingToday bulk-upserts enrichment jobs for today's articles that
// lack the corresponding artifact. Running jobs are left untouched by the
// upsert semantics.
func (s *Store) QueueMissingToday(ctx context.Context, now time.Time, includeAutoTag bool) (int, error) {
	ids, err := s.ArticlesPublishedToday(ctx, now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		article, err := s.GetArticle(ctx, id)
		if err != nil {
			return queued, err
		}
		if article == nil {
			continue
		}
		articleID := article.ID

		type want struct {
			jobType JobType
			missing bool
		}
		wants := []want{
			{JobTypeSummarize, article.Summary == ""},
			{JobTypeScore, article.Score == nil},
			{JobTypeImageBackfill, article.ImageURL == ""},
		}
		if includeAutoTag {
			wants = append(wants, want{JobTypeAutoTag, article.TagsJSON == ""})
		}
		for _, w := range wants {
			if !w.missing {
				continue
			}
			if _, err := s.EnqueueJob(ctx, w.jobType, &articleID, 0, now); err != nil {
				return queued, err
			}
			queued++
		}
	}
	return queued, nil
}
