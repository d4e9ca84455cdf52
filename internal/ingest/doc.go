// Package ingest turns polled feed items into deduplicated articles and
// enqueues enrichment jobs, under per-feed and global item budgets.
package ingest
