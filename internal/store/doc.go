// Package store persists feeds, articles, enrichment jobs, and pull runs in
// SQLite. All timestamps are stored as RFC 3339 text in UTC, status changes
// go through guarded UPDATE statements, and writes retry on SQLITE_BUSY.
package store
