package tick

import (
	"fmt"
	"strings"

	"gazette/internal/config"
)

// Kind is the classification of one schedule tick. A single identifier may
// satisfy more than one bucket when cadences coincide.
type Kind struct {
	Jobs      bool
	Poll      bool
	Retention bool
}

// None reports whether the identifier matched no bucket.
func (k Kind) None() bool {
	return !k.Jobs && !k.Poll && !k.Retention
}

// Legacy identifiers from before the cadences became configurable. External
// schedulers may still send these, so they stay mapped forever.
var legacyIdentifiers = map[string]Kind{
	"*/5 * * * *":  {Jobs: true},
	"*/15 * * * *": {Poll: true},
	"0 3 * * *":    {Retention: true},
	"jobs":         {Jobs: true},
	"poll":         {Poll: true},
	"retention":    {Retention: true},
}

// Resolver classifies opaque schedule identifiers into tick kinds. The
// lookup table holds the identifiers derived from the live configuration
// plus the legacy fixed literals.
type Resolver struct {
	table map[string]Kind
}

// NewResolver builds a resolver for the configured cadences.
func NewResolver(cfg *config.Config) *Resolver {
	table := make(map[string]Kind, len(legacyIdentifiers)+3)
	for identifier, kind := range legacyIdentifiers {
		table[identifier] = kind
	}

	merge := func(identifier string, kind Kind) {
		existing := table[identifier]
		existing.Jobs = existing.Jobs || kind.Jobs
		existing.Poll = existing.Poll || kind.Poll
		existing.Retention = existing.Retention || kind.Retention
		table[identifier] = existing
	}

	jobsMinutes, pollMinutes, retentionHour := 5, 15, 3
	if cfg != nil {
		if cfg.Tick.JobsIntervalMinutes > 0 {
			jobsMinutes = cfg.Tick.JobsIntervalMinutes
		}
		if cfg.Tick.PollIntervalMinutes > 0 {
			pollMinutes = cfg.Tick.PollIntervalMinutes
		}
		if cfg.Tick.RetentionHourUTC >= 0 && cfg.Tick.RetentionHourUTC <= 23 {
			retentionHour = cfg.Tick.RetentionHourUTC
		}
	}
	merge(JobsIdentifier(jobsMinutes), Kind{Jobs: true})
	merge(PollIdentifier(pollMinutes), Kind{Poll: true})
	merge(RetentionIdentifier(retentionHour), Kind{Retention: true})

	return &Resolver{table: table}
}

// Resolve returns the buckets an identifier belongs to. Unknown identifiers
// yield the zero Kind.
func (r *Resolver) Resolve(identifier string) Kind {
	return r.table[strings.TrimSpace(identifier)]
}

// JobsIdentifier returns the schedule string for the jobs cadence.
func JobsIdentifier(minutes int) string {
	return fmt.Sprintf("*/%d * * * *", minutes)
}

// PollIdentifier returns the schedule string for the poll cadence.
func PollIdentifier(minutes int) string {
	return fmt.Sprintf("*/%d * * * *", minutes)
}

// RetentionIdentifier returns the schedule string for the daily retention
// pass.
func RetentionIdentifier(hourUTC int) string {
	return fmt.Sprintf("0 %d * * *", hourUTC)
}
