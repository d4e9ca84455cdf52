// Package pull drives operator-triggered pull runs. A run is a single-flight
// row in the store: Start queues it (or reports the one already active), Run
// executes poll-then-process cycles with heartbeats between phases, and
// RecoverStale fails runs whose heartbeat stopped so a crashed daemon never
// blocks the next pull.
package pull
