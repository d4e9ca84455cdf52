package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const feedColumns = "id, url, title, etag, last_modified, next_poll_at, last_polled_at, error_count, last_error, disabled, created_at, updated_at"

// pollFailureBackoff computes the delay before a failing feed is retried.
// The delay grows with consecutive failures and caps at one day.
func pollFailureBackoff(errorCount int, base time.Duration) time.Duration {
	delay := base
	for i := 1; i < errorCount && delay < 24*time.Hour; i++ {
		delay *= 2
	}
	if delay > 24*time.Hour {
		delay = 24 * time.Hour
	}
	return delay
}

func scanFeed(scanner rowScanner) (*Feed, error) {
	var (
		id           int64
		url          string
		title        sql.NullString
		etag         sql.NullString
		lastModified sql.NullString
		nextPollRaw  sql.NullString
		lastPolled   sql.NullString
		errorCount   int
		lastError    sql.NullString
		disabled     sql.NullInt64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id, &url, &title, &etag, &lastModified, &nextPollRaw, &lastPolled,
		&errorCount, &lastError, &disabled, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	feed := &Feed{
		ID:           id,
		URL:          url,
		Title:        title.String,
		ETag:         etag.String,
		LastModified: lastModified.String,
		NextPollAt:   timePtrFromNull(nextPollRaw),
		LastPolledAt: timePtrFromNull(lastPolled),
		ErrorCount:   errorCount,
		LastError:    lastError.String,
	}
	if disabled.Valid {
		feed.Disabled = disabled.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		feed.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		feed.UpdatedAt = updated
	}
	return feed, nil
}

// AddFeed inserts a new feed due for immediate polling.
func (s *Store) AddFeed(ctx context.Context, url, title string) (*Feed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("feed url is required")
	}
	now := time.Now().UTC()
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO feeds (url, title, next_poll_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		url,
		nullableString(title),
		timestamp,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFeed(ctx, id)
}

// GetFeed fetches a feed by identifier.
func (s *Store) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return feed, nil
}

// ListFeeds returns all feeds ordered by identifier.
func (s *Store) ListFeeds(ctx context.Context) ([]*Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// DueFeeds returns enabled feeds whose next poll time has arrived, oldest first.
func (s *Store) DueFeeds(ctx context.Context, now time.Time, limit int) ([]*Feed, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+feedColumns+` FROM feeds
         WHERE disabled = 0 AND (next_poll_at IS NULL OR next_poll_at <= ?)
         ORDER BY next_poll_at, id LIMIT ?`,
		formatTime(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// CountDueFeeds returns how many enabled feeds are due at the given time.
func (s *Store) CountDueFeeds(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM feeds WHERE disabled = 0 AND (next_poll_at IS NULL OR next_poll_at <= ?)`,
		formatTime(now),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count due feeds: %w", err)
	}
	return count, nil
}

// MarkPollSuccess records a successful poll: cache validators are updated,
// the error counter resets, and the next poll is scheduled.
func (s *Store) MarkPollSuccess(ctx context.Context, id int64, title, etag, lastModified string, nextPoll time.Time) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE feeds
         SET title = COALESCE(?, title), etag = ?, last_modified = ?,
             next_poll_at = ?, last_polled_at = ?, error_count = 0,
             last_error = NULL, updated_at = ?
         WHERE id = ?`,
		nullableString(title),
		nullableString(etag),
		nullableString(lastModified),
		formatTime(nextPoll),
		formatTime(now),
		formatTime(now),
		id,
	); err != nil {
		return fmt.Errorf("mark poll success: %w", err)
	}
	return nil
}

// MarkPollNotModified advances the poll schedule after a 304 without touching
// validators or content.
func (s *Store) MarkPollNotModified(ctx context.Context, id int64, nextPoll time.Time) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE feeds
         SET next_poll_at = ?, last_polled_at = ?, error_count = 0,
             last_error = NULL, updated_at = ?
         WHERE id = ?`,
		formatTime(nextPoll),
		formatTime(now),
		formatTime(now),
		id,
	); err != nil {
		return fmt.Errorf("mark poll not modified: %w", err)
	}
	return nil
}

// MarkPollFailure increments the error counter and reschedules with backoff.
func (s *Store) MarkPollFailure(ctx context.Context, id int64, pollErr error, baseInterval time.Duration) error {
	feed, err := s.GetFeed(ctx, id)
	if err != nil {
		return err
	}
	if feed == nil {
		return fmt.Errorf("mark poll failure: feed %d not found", id)
	}
	errorCount := feed.ErrorCount + 1
	nextPoll := time.Now().UTC().Add(pollFailureBackoff(errorCount, baseInterval))
	message := ""
	if pollErr != nil {
		message = pollErr.Error()
	}
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE feeds
         SET error_count = ?, last_error = ?, next_poll_at = ?, updated_at = ?
         WHERE id = ?`,
		errorCount,
		nullableString(message),
		formatTime(nextPoll),
		formatTime(now),
		id,
	); err != nil {
		return fmt.Errorf("mark poll failure: %w", err)
	}
	return nil
}

// SetFeedDisabled toggles polling for a feed.
func (s *Store) SetFeedDisabled(ctx context.Context, id int64, disabled bool) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE feeds SET disabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(disabled),
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("set feed disabled: %w", err)
	}
	return nil
}

// ForceFeedsDue makes every enabled feed due immediately. Manual pulls use
// this to bypass the regular poll schedule.
func (s *Store) ForceFeedsDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE feeds SET next_poll_at = ?, updated_at = ? WHERE disabled = 0`,
		formatTime(now),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("force feeds due: %w", err)
	}
	return res.RowsAffected()
}

// CountFeeds returns total and failing feed counts.
func (s *Store) CountFeeds(ctx context.Context) (total int, withErrors int, err error) {
	err = s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN error_count > 0 THEN 1 ELSE 0 END), 0) FROM feeds`,
	).Scan(&total, &withErrors)
	if err != nil {
		return 0, 0, fmt.Errorf("count feeds: %w", err)
	}
	return total, withErrors, nil
}
