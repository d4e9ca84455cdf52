package store_test

import (
	"context"
	"testing"
	"time"

	"gazette/internal/store"
	"gazette/internal/testsupport"
)

func TestOrphanLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	feed := testsupport.NewFeed(t, st, "https://example.com/feed.xml")
	linked := testsupport.NewArticle(t, st, "https://example.com/linked", "hash-linked")
	orphan := testsupport.NewArticle(t, st, "https://example.com/orphan", "hash-orphan")

	if err := st.RecordSource(ctx, linked.ID, feed.ID, "guid-1", "https://example.com/linked", &now); err != nil {
		t.Fatalf("RecordSource: %v", err)
	}

	count, err := st.CountOrphanArticles(ctx)
	if err != nil {
		t.Fatalf("CountOrphanArticles: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 orphan, got %d", count)
	}

	orphans, err := st.ListOrphanArticles(ctx, 10)
	if err != nil {
		t.Fatalf("ListOrphanArticles: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != orphan.ID {
		t.Fatalf("expected orphan %d, got %+v", orphan.ID, orphans)
	}

	deleted, skipped, err := st.DeleteOrphanArticles(ctx, []int64{orphan.ID})
	if err != nil {
		t.Fatalf("DeleteOrphanArticles: %v", err)
	}
	if deleted != 1 || skipped != 0 {
		t.Fatalf("expected 1 deleted, got deleted=%d skipped=%d", deleted, skipped)
	}
	if got, err := st.GetArticle(ctx, orphan.ID); err != nil || got != nil {
		t.Fatalf("expected orphan gone, got %+v (err %v)", got, err)
	}
	if got, err := st.GetArticle(ctx, linked.ID); err != nil || got == nil {
		t.Fatalf("expected linked article kept, got %+v (err %v)", got, err)
	}
}

func TestDeleteOrphanSkipsRunningJob(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	orphan := testsupport.NewArticle(t, st, "https://example.com/busy", "hash-busy")
	if _, err := st.EnqueueJob(ctx, store.JobTypeSummarize, &orphan.ID, 0, now); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := st.ClaimJobs(ctx, "worker-1", now, time.Minute, 1); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}

	deleted, skipped, err := st.DeleteOrphanArticles(ctx, []int64{orphan.ID})
	if err != nil {
		t.Fatalf("DeleteOrphanArticles: %v", err)
	}
	if deleted != 0 || skipped != 1 {
		t.Fatalf("expected running article skipped, got deleted=%d skipped=%d", deleted, skipped)
	}
	if got, err := st.GetArticle(ctx, orphan.ID); err != nil || got == nil {
		t.Fatalf("expected article kept while job runs, got %+v (err %v)", got, err)
	}
}

func TestArchiveArticlesBefore(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	expired, err := st.CreateArticle(ctx, store.NewArticleParams{
		Title:         "old",
		CanonicalURL:  "https://example.com/old",
		ContentHash:   "hash-old",
		RawContent:    "<p>heavy body</p>",
		ExtractedText: "heavy body",
		PublishedAt:   &old,
		FetchedAt:     now,
	})
	if err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := st.SetArticleSummary(ctx, expired.ID, "kept summary", "[]"); err != nil {
		t.Fatalf("SetArticleSummary: %v", err)
	}
	kept, err := st.CreateArticle(ctx, store.NewArticleParams{
		Title:        "recent",
		CanonicalURL: "https://example.com/recent",
		ContentHash:  "hash-recent",
		PublishedAt:  &recent,
		FetchedAt:    now,
	})
	if err != nil {
		t.Fatalf("create recent: %v", err)
	}

	archived, err := st.ArchiveArticlesBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveArticlesBefore: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected 1 archived, got %d", archived)
	}

	gotExpired, err := st.GetArticle(ctx, expired.ID)
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if !gotExpired.Archived {
		t.Fatal("expected old article archived")
	}
	if gotExpired.RawContent != "" || gotExpired.ExtractedText != "" {
		t.Fatalf("expected heavy content nulled, got %+v", gotExpired)
	}
	// Metadata and enrichment survive the tombstone.
	if gotExpired.Title != "old" || gotExpired.Summary != "kept summary" {
		t.Fatalf("expected metadata preserved, got %+v", gotExpired)
	}
	gotKept, err := st.GetArticle(ctx, kept.ID)
	if err != nil {
		t.Fatalf("get kept: %v", err)
	}
	if gotKept.Archived {
		t.Fatal("expected recent article untouched")
	}

	// Re-running is idempotent.
	again, err := st.ArchiveArticlesBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("second ArchiveArticlesBefore: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no rows on rerun, got %d", again)
	}
}

func TestDeleteArticlesBefore(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-72 * time.Hour)

	for _, seed := range []struct {
		url  string
		hash string
	}{
		{"https://example.com/del-1", "hash-del-1"},
		{"https://example.com/del-2", "hash-del-2"},
		{"https://example.com/del-3", "hash-del-3"},
	} {
		if _, err := st.CreateArticle(ctx, store.NewArticleParams{
			Title:        "expired",
			CanonicalURL: seed.url,
			ContentHash:  seed.hash,
			PublishedAt:  &old,
			FetchedAt:    old,
		}); err != nil {
			t.Fatalf("create %s: %v", seed.url, err)
		}
	}
	survivor := testsupport.NewArticle(t, st, "https://example.com/survivor", "hash-survivor")

	deleted, err := st.DeleteArticlesBefore(ctx, now.Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("DeleteArticlesBefore: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	remaining, err := st.CountArticles(ctx)
	if err != nil {
		t.Fatalf("CountArticles: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 article left, got %d", remaining)
	}
	if got, err := st.GetArticle(ctx, survivor.ID); err != nil || got == nil {
		t.Fatalf("expected survivor kept, got %+v (err %v)", got, err)
	}
}
