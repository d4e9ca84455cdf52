package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordSource writes the article/feed join row for a poll hit. Repeat hits
// for the same (feed, guid) pair are absorbed by the unique index.
func (s *Store) RecordSource(ctx context.Context, articleID, feedID int64, itemGUID, originalURL string, publishedAt *time.Time) error {
	if itemGUID == "" {
		itemGUID = originalURL
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO article_sources (article_id, feed_id, item_guid, original_url, published_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(feed_id, item_guid) DO UPDATE SET
             article_id = excluded.article_id,
             original_url = excluded.original_url,
             published_at = excluded.published_at`,
		articleID,
		feedID,
		itemGUID,
		nullableString(originalURL),
		nullableTime(publishedAt),
		formatTime(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("record source: %w", err)
	}
	return nil
}

// SourcesForArticle lists the join rows for one article, newest first.
func (s *Store) SourcesForArticle(ctx context.Context, articleID int64) ([]*ArticleSource, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, article_id, feed_id, item_guid, original_url, published_at, created_at
         FROM article_sources WHERE article_id = ? ORDER BY id DESC`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("sources for article: %w", err)
	}
	defer rows.Close()

	var sources []*ArticleSource
	for rows.Next() {
		var (
			src          ArticleSource
			originalURL  sql.NullString
			publishedRaw sql.NullString
			createdRaw   sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.ArticleID, &src.FeedID, &src.ItemGUID, &originalURL, &publishedRaw, &createdRaw); err != nil {
			return nil, err
		}
		src.OriginalURL = originalURL.String
		src.PublishedAt = timePtrFromNull(publishedRaw)
		if created, err := parseTimeString(createdRaw.String); err == nil {
			src.CreatedAt = created
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// CountSources returns the number of source rows for an article.
func (s *Store) CountSources(ctx context.Context, articleID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM article_sources WHERE article_id = ?`,
		articleID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sources: %w", err)
	}
	return count, nil
}

// DeleteSourcesForFeed removes all join rows produced by one feed.
func (s *Store) DeleteSourcesForFeed(ctx context.Context, feedID int64) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM article_sources WHERE feed_id = ?`, feedID)
	if err != nil {
		return 0, fmt.Errorf("delete sources for feed: %w", err)
	}
	return res.RowsAffected()
}
