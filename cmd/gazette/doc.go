// Package main hosts the Gazette CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: status inspection, manual pull runs,
// scheduler ticks, and job administration. Feed management falls back to
// direct database access so feeds can be added before the daemon is up.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
