package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const articleColumns = "id, canonical_url, content_hash, title, author, summary, key_points_json, tags_json, score, raw_content, extracted_text, image_url, image_checked_at, published_at, fetched_at, archived, created_at, updated_at"

func scanArticle(scanner rowScanner) (*Article, error) {
	var (
		id            int64
		canonicalURL  string
		contentHash   string
		title         sql.NullString
		author        sql.NullString
		summary       sql.NullString
		keyPoints     sql.NullString
		tags          sql.NullString
		score         sql.NullFloat64
		rawContent    sql.NullString
		extractedText sql.NullString
		imageURL      sql.NullString
		imageChecked  sql.NullString
		publishedRaw  sql.NullString
		fetchedRaw    sql.NullString
		archived      sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id, &canonicalURL, &contentHash, &title, &author, &summary, &keyPoints,
		&tags, &score, &rawContent, &extractedText, &imageURL, &imageChecked,
		&publishedRaw, &fetchedRaw, &archived, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	article := &Article{
		ID:             id,
		CanonicalURL:   canonicalURL,
		ContentHash:    contentHash,
		Title:          title.String,
		Author:         author.String,
		Summary:        summary.String,
		KeyPointsJSON:  keyPoints.String,
		TagsJSON:       tags.String,
		RawContent:     rawContent.String,
		ExtractedText:  extractedText.String,
		ImageURL:       imageURL.String,
		ImageCheckedAt: timePtrFromNull(imageChecked),
		PublishedAt:    timePtrFromNull(publishedRaw),
	}
	if score.Valid {
		v := score.Float64
		article.Score = &v
	}
	if archived.Valid {
		article.Archived = archived.Int64 != 0
	}
	if fetched, err := parseTimeString(fetchedRaw.String); err == nil {
		article.FetchedAt = fetched
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		article.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		article.UpdatedAt = updated
	}
	return article, nil
}

// NewArticleParams carries the fields needed to create an article row.
type NewArticleParams struct {
	CanonicalURL  string
	ContentHash   string
	Title         string
	Author        string
	RawContent    string
	ExtractedText string
	ImageURL      string
	PublishedAt   *time.Time
	FetchedAt     time.Time
}

// CreateArticle inserts a new article and its search-index row.
func (s *Store) CreateArticle(ctx context.Context, params NewArticleParams) (*Article, error) {
	if params.CanonicalURL == "" {
		return nil, errors.New("canonical url is required")
	}
	if params.ContentHash == "" {
		return nil, errors.New("content hash is required")
	}
	now := time.Now().UTC()
	timestamp := formatTime(now)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO articles (
                canonical_url, content_hash, title, author, raw_content,
                extracted_text, image_url, published_at, fetched_at,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			params.CanonicalURL,
			params.ContentHash,
			nullableString(params.Title),
			nullableString(params.Author),
			nullableString(params.RawContent),
			nullableString(params.ExtractedText),
			nullableString(params.ImageURL),
			nullableTime(params.PublishedAt),
			formatTime(params.FetchedAt),
			timestamp,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert article: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		searchText := params.ExtractedText
		if searchText == "" {
			searchText = params.Title
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO search_index (article_id, text) VALUES (?, ?)`,
			id,
			nullableString(searchText),
		); err != nil {
			return fmt.Errorf("insert search index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetArticle(ctx, id)
}

// GetArticle fetches an article by identifier.
func (s *Store) GetArticle(ctx context.Context, id int64) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// FindExisting locates an article by canonical URL or content hash. Either
// match means the article already exists.
func (s *Store) FindExisting(ctx context.Context, canonicalURL, contentHash string) (*Article, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+articleColumns+` FROM articles
         WHERE canonical_url = ? OR content_hash = ?
         ORDER BY id LIMIT 1`,
		canonicalURL,
		contentHash,
	)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find existing article: %w", err)
	}
	return article, nil
}

// UpdateArticleContent replaces extracted content and refreshes the search index.
func (s *Store) UpdateArticleContent(ctx context.Context, id int64, rawContent, extractedText, imageURL string) error {
	now := formatTime(time.Now().UTC())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE articles
             SET raw_content = ?, extracted_text = ?,
                 image_url = COALESCE(?, image_url), updated_at = ?
             WHERE id = ?`,
			nullableString(rawContent),
			nullableString(extractedText),
			nullableString(imageURL),
			now,
			id,
		); err != nil {
			return fmt.Errorf("update article content: %w", err)
		}
		if extractedText != "" {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO search_index (article_id, text) VALUES (?, ?)
                 ON CONFLICT(article_id) DO UPDATE SET text = excluded.text`,
				id,
				extractedText,
			); err != nil {
				return fmt.Errorf("update search index: %w", err)
			}
		}
		return nil
	})
}

// SetArticleImage records the image backfill outcome. The checked timestamp
// advances even when no image was found so the cooldown holds.
func (s *Store) SetArticleImage(ctx context.Context, id int64, imageURL string, checkedAt time.Time) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE articles
         SET image_url = COALESCE(?, image_url), image_checked_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(imageURL),
		formatTime(checkedAt),
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("set article image: %w", err)
	}
	return nil
}

// SetArticleSummary persists completion output for a summarize job.
func (s *Store) SetArticleSummary(ctx context.Context, id int64, summary, keyPointsJSON string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE articles SET summary = ?, key_points_json = ?, updated_at = ? WHERE id = ?`,
		nullableString(summary),
		nullableString(keyPointsJSON),
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("set article summary: %w", err)
	}
	return nil
}

// SetArticleScore persists completion output for a score job.
func (s *Store) SetArticleScore(ctx context.Context, id int64, score float64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE articles SET score = ?, updated_at = ? WHERE id = ?`,
		score,
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("set article score: %w", err)
	}
	return nil
}

// SetArticleTags persists completion output for an auto_tag job.
func (s *Store) SetArticleTags(ctx context.Context, id int64, tagsJSON string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE articles SET tags_json = ?, updated_at = ? WHERE id = ?`,
		nullableString(tagsJSON),
		formatTime(time.Now().UTC()),
		id,
	); err != nil {
		return fmt.Errorf("set article tags: %w", err)
	}
	return nil
}

// CountArticles returns the total number of article rows.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

// ArticlesPublishedToday lists identifiers of articles whose effective
// published time falls inside the UTC day containing now.
func (s *Store) ArticlesPublishedToday(ctx context.Context, now time.Time) ([]int64, error) {
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM articles
         WHERE archived = 0
           AND COALESCE(published_at, fetched_at) >= ?
           AND COALESCE(published_at, fetched_at) < ?
         ORDER BY id`,
		formatTime(dayStart),
		formatTime(dayEnd),
	)
	if err != nil {
		return nil, fmt.Errorf("articles published today: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentScoredArticles returns the newest articles carrying a score of at
// least minScore, used to rebuild the interest profile.
func (s *Store) RecentScoredArticles(ctx context.Context, minScore float64, limit int) ([]*Article, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+articleColumns+` FROM articles
         WHERE score IS NOT NULL AND score >= ? AND archived = 0
         ORDER BY COALESCE(published_at, fetched_at) DESC LIMIT ?`,
		minScore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent scored articles: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, rows.Err()
}
