// Package logging builds the slog loggers used across Gazette.
//
// Two output formats exist: a compact console handler for interactive use
// and a JSON handler for machine consumption. Field name constants keep
// structured keys consistent across subsystems, and WithContext pulls
// correlation identifiers out of a context so a feed, article, job, or pull
// run can be traced through a tick. Handlers swallow their own write
// failures; logging must never disturb primary control flow.
package logging
