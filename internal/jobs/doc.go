// Package jobs runs the durable enrichment queue. A Processor claims leased
// batches of due jobs from the store, dispatches them to type-specific
// handlers (summarize, score, auto_tag, image_backfill, refresh_profile),
// and records done/failed outcomes under the shared retry policy. Expired
// leases are reaped before every batch so work lost to a crashed worker is
// recovered automatically.
package jobs
