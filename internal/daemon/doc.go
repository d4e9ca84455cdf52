// Package daemon coordinates the long-running gazette process.
//
// It wires configuration, the store, the ingestion pipeline, the job
// processor, the pull orchestrator, and the tick coordinator into a single
// lifecycle with flock-based locking to prevent multiple instances. The HTTP
// API exposes tick and pull triggers plus job and feed administration; an
// optional internal scheduler replaces external cron when self-scheduling is
// enabled.
package daemon
