package store_test

import (
	"context"
	"testing"
	"time"

	"gazette/internal/store"
	"gazette/internal/testsupport"
)

func TestFindExistingMatchesEitherKey(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	article := testsupport.NewArticle(t, st, "https://example.com/story", "hash-1")

	byURL, err := st.FindExisting(ctx, "https://example.com/story", "other-hash")
	if err != nil {
		t.Fatalf("FindExisting by url: %v", err)
	}
	if byURL == nil || byURL.ID != article.ID {
		t.Fatalf("expected match by canonical url, got %+v", byURL)
	}

	byHash, err := st.FindExisting(ctx, "https://example.com/other", "hash-1")
	if err != nil {
		t.Fatalf("FindExisting by hash: %v", err)
	}
	if byHash == nil || byHash.ID != article.ID {
		t.Fatalf("expected match by content hash, got %+v", byHash)
	}

	miss, err := st.FindExisting(ctx, "https://example.com/none", "no-hash")
	if err != nil {
		t.Fatalf("FindExisting miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected no match, got %+v", miss)
	}
}

func TestSetArticleImageAdvancesCheckTime(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	article := testsupport.NewArticle(t, st, "https://example.com/img", "hash-img")
	checked := time.Now().UTC()

	// Not finding an image still records the attempt.
	if err := st.SetArticleImage(ctx, article.ID, "", checked); err != nil {
		t.Fatalf("SetArticleImage empty: %v", err)
	}
	updated, err := st.GetArticle(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if updated.ImageURL != "" {
		t.Fatalf("expected no image url, got %q", updated.ImageURL)
	}
	if updated.ImageCheckedAt == nil {
		t.Fatal("expected image_checked_at recorded on miss")
	}

	later := checked.Add(time.Hour)
	if err := st.SetArticleImage(ctx, article.ID, "https://cdn.example.com/a.jpg", later); err != nil {
		t.Fatalf("SetArticleImage: %v", err)
	}
	updated, err = st.GetArticle(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if updated.ImageURL != "https://cdn.example.com/a.jpg" {
		t.Fatalf("expected image url, got %q", updated.ImageURL)
	}
}

func TestArticlesPublishedToday(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)

	today := now.Add(-2 * time.Hour)
	yesterday := now.Add(-26 * time.Hour)

	fresh, err := st.CreateArticle(ctx, store.NewArticleParams{
		Title:        "fresh",
		CanonicalURL: "https://example.com/fresh",
		ContentHash:  "hash-fresh",
		PublishedAt:  &today,
		FetchedAt:    now,
	})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	if _, err := st.CreateArticle(ctx, store.NewArticleParams{
		Title:        "stale",
		CanonicalURL: "https://example.com/stale",
		ContentHash:  "hash-stale",
		PublishedAt:  &yesterday,
		FetchedAt:    now,
	}); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	// No published_at: fetched time stands in, which is today.
	undated, err := st.CreateArticle(ctx, store.NewArticleParams{
		Title:        "undated",
		CanonicalURL: "https://example.com/undated",
		ContentHash:  "hash-undated",
		FetchedAt:    now,
	})
	if err != nil {
		t.Fatalf("create undated: %v", err)
	}

	ids, err := st.ArticlesPublishedToday(ctx, now)
	if err != nil {
		t.Fatalf("ArticlesPublishedToday: %v", err)
	}
	want := map[int64]bool{fresh.ID: true, undated.ID: true}
	if len(ids) != len(want) {
		t.Fatalf("expected %d articles, got %v", len(want), ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected article %d in today's set", id)
		}
	}
}

func TestUpdateArticleContentRefreshesEnrichment(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	article := testsupport.NewArticle(t, st, "https://example.com/upd", "hash-upd")
	if err := st.SetArticleSummary(ctx, article.ID, "old summary", "[]"); err != nil {
		t.Fatalf("SetArticleSummary: %v", err)
	}

	if err := st.UpdateArticleContent(ctx, article.ID, "new body", "new extracted text", "https://cdn.example.com/b.jpg"); err != nil {
		t.Fatalf("UpdateArticleContent: %v", err)
	}
	updated, err := st.GetArticle(ctx, article.ID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if updated.ExtractedText != "new extracted text" || updated.ImageURL != "https://cdn.example.com/b.jpg" {
		t.Fatalf("expected refreshed content, got %+v", updated)
	}
	// Enrichment fields stay until a job refreshes them.
	if updated.Summary != "old summary" {
		t.Fatalf("expected summary preserved, got %q", updated.Summary)
	}
}
