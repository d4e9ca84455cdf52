package testsupport

import (
	"context"
	"testing"
	"time"

	"gazette/internal/config"
	"gazette/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewFeed inserts a feed for tests using the provided store.
func NewFeed(t testing.TB, st *store.Store, url string) *store.Feed {
	t.Helper()

	feed, err := st.AddFeed(context.Background(), url, "")
	if err != nil {
		t.Fatalf("store.AddFeed: %v", err)
	}
	return feed
}

// NewArticle inserts a minimal article for tests using the provided store.
func NewArticle(t testing.TB, st *store.Store, canonicalURL, contentHash string) *store.Article {
	t.Helper()

	article, err := st.CreateArticle(context.Background(), store.NewArticleParams{
		Title:        "Test Article",
		CanonicalURL: canonicalURL,
		ContentHash:  contentHash,
		FetchedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("store.CreateArticle: %v", err)
	}
	return article
}
