package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OrphanArticle describes an article with no remaining source rows.
type OrphanArticle struct {
	ID           int64
	Title        string
	CanonicalURL string
	FetchedAt    time.Time
}

const orphanFilter = `NOT EXISTS (SELECT 1 FROM article_sources WHERE article_sources.article_id = articles.id)`

// CountOrphanArticles counts articles that no feed source references.
func (s *Store) CountOrphanArticles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles WHERE `+orphanFilter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orphan articles: %w", err)
	}
	return count, nil
}

// ListOrphanArticles returns up to limit orphaned articles, oldest first with
// id breaking ties so repeated batches walk the set deterministically.
func (s *Store) ListOrphanArticles(ctx context.Context, limit int) ([]OrphanArticle, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, title, canonical_url, fetched_at FROM articles
         WHERE `+orphanFilter+`
         ORDER BY fetched_at, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan articles: %w", err)
	}
	defer rows.Close()

	var orphans []OrphanArticle
	for rows.Next() {
		var (
			orphan     OrphanArticle
			title      sql.NullString
			canonical  sql.NullString
			fetchedRaw sql.NullString
		)
		if err := rows.Scan(&orphan.ID, &title, &canonical, &fetchedRaw); err != nil {
			return nil, err
		}
		orphan.Title = title.String
		orphan.CanonicalURL = canonical.String
		if fetched, err := parseTimeString(fetchedRaw.String); err == nil {
			orphan.FetchedAt = fetched
		}
		orphans = append(orphans, orphan)
	}
	return orphans, rows.Err()
}

// DeleteOrphanArticles removes a batch of orphaned articles together with
// their search index rows, chat threads, and any non-running jobs. Articles
// with a running job are skipped and reported separately.
func (s *Store) DeleteOrphanArticles(ctx context.Context, ids []int64) (deleted, skipped int, err error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var running int
			err := tx.QueryRowContext(
				ctx,
				`SELECT COUNT(1) FROM jobs WHERE article_id = ? AND status = ?`,
				id,
				JobRunning,
			).Scan(&running)
			if err != nil {
				return fmt.Errorf("check running jobs: %w", err)
			}
			if running > 0 {
				skipped++
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE article_id = ?`, id); err != nil {
				return fmt.Errorf("delete orphan jobs: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE article_id = ?`, id); err != nil {
				return fmt.Errorf("delete orphan threads: %w", err)
			}
			// search_index rows cascade with the article.
			res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("delete orphan article: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return deleted, skipped, nil
}

// ArchiveArticlesBefore ages articles older than the cutoff into metadata-only
// tombstones: heavy content fields are nulled and search text is blanked while
// titles, enrichment, and timestamps stay enumerable. Age is judged by
// published time with fetch time as fallback.
func (s *Store) ArchiveArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	timestamp := formatTime(time.Now().UTC())
	limit := formatTime(cutoff)

	var archived int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE search_index SET text = ''
             WHERE article_id IN (
                 SELECT id FROM articles
                 WHERE archived = 0 AND COALESCE(published_at, fetched_at) < ?)`,
			limit,
		); err != nil {
			return fmt.Errorf("blank search text: %w", err)
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE articles
             SET archived = 1, raw_content = NULL, extracted_text = NULL, updated_at = ?
             WHERE archived = 0 AND COALESCE(published_at, fetched_at) < ?`,
			timestamp,
			limit,
		)
		if err != nil {
			return fmt.Errorf("archive articles: %w", err)
		}
		archived, err = res.RowsAffected()
		return err
	})
	return archived, err
}

// DeleteArticlesBefore permanently removes articles older than the cutoff in
// batches, taking dependent rows with them. Articles with a running job are
// left for a later pass.
func (s *Store) DeleteArticlesBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	limit := formatTime(cutoff)

	var total int64
	for {
		var ids []int64
		rows, err := s.db.QueryContext(
			ctx,
			`SELECT id FROM articles
             WHERE COALESCE(published_at, fetched_at) < ?
               AND NOT EXISTS (SELECT 1 FROM jobs WHERE jobs.article_id = articles.id AND jobs.status = ?)
             ORDER BY COALESCE(published_at, fetched_at), id LIMIT ?`,
			limit,
			JobRunning,
			batchSize,
		)
		if err != nil {
			return total, fmt.Errorf("select expired articles: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return total, err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return total, err
		}
		rows.Close()
		if len(ids) == 0 {
			return total, nil
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			placeholders := makePlaceholders(len(ids))
			args := make([]any, len(ids))
			for i, id := range ids {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE article_id IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("delete expired jobs: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE article_id IN (`+placeholders+`)`, args...); err != nil {
				return fmt.Errorf("delete expired threads: %w", err)
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id IN (`+placeholders+`)`, args...)
			if err != nil {
				return fmt.Errorf("delete expired articles: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += affected
			return nil
		})
		if err != nil {
			return total, err
		}
		if len(ids) < batchSize {
			return total, nil
		}
	}
}
