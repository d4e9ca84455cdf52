// Package tick turns externally scheduled invocations into bounded pipeline
// work. A Resolver maps opaque schedule identifiers (current interval-derived
// strings plus legacy literals) onto jobs/poll/retention buckets, and the
// Coordinator runs each bucket as a background continuation under a
// wall-clock budget.
package tick
