package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	feedIDKey    contextKey = "feed_id"
	articleIDKey contextKey = "article_id"
	runIDKey     contextKey = "run_id"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, jobIDKey)
}

// WithFeedID annotates context with the feed identifier.
func WithFeedID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, feedIDKey, id)
}

// FeedIDFromContext extracts the feed identifier if present.
func FeedIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, feedIDKey)
}

// WithArticleID annotates context with the article identifier.
func WithArticleID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, articleIDKey, id)
}

// ArticleIDFromContext extracts the article identifier if present.
func ArticleIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, articleIDKey)
}

// WithRunID annotates context with the pull run identifier.
func WithRunID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pull run identifier if present.
func RunIDFromContext(ctx context.Context) (int64, bool) {
	return int64FromContext(ctx, runIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func int64FromContext(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}
