package store

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of an enrichment job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{
	JobPending,
	JobRunning,
	JobDone,
	JobFailed,
	JobCancelled,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// jobTransitions is the closed transition table for job statuses. Done and
// cancelled are terminal; failed is terminal until an explicit retry.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobCancelled},
	JobRunning: {JobPending, JobDone, JobFailed},
	JobFailed:  {JobPending},
}

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether the status may move to the target status.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, candidate := range jobTransitions[s] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processing will touch the job
// without an explicit admin action.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// jobTransitionSources returns the statuses allowed to move into target,
// in AllJobStatuses order. Guarded UPDATEs derive their WHERE sets from
// this so the transition table stays authoritative.
func jobTransitionSources(target JobStatus) []JobStatus {
	var sources []JobStatus
	for _, from := range allJobStatuses {
		if from.CanTransition(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// JobType identifies the enrichment work a job performs.
type JobType string

const (
	JobTypeSummarize      JobType = "summarize"
	JobTypeScore          JobType = "score"
	JobTypeAutoTag        JobType = "auto_tag"
	JobTypeImageBackfill  JobType = "image_backfill"
	JobTypeRefreshProfile JobType = "refresh_profile"
)

var allJobTypes = []JobType{
	JobTypeSummarize,
	JobTypeScore,
	JobTypeAutoTag,
	JobTypeImageBackfill,
	JobTypeRefreshProfile,
}

// AllJobTypes returns the ordered list of known job types.
func AllJobTypes() []JobType {
	cp := make([]JobType, len(allJobTypes))
	copy(cp, allJobTypes)
	return cp
}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range allJobTypes {
		if t == normalized {
			return normalized, true
		}
	}
	return "", false
}

// Job is one unit of enrichment work persisted in SQLite.
type Job struct {
	ID             int64
	Type           JobType
	ArticleID      *int64
	Status         JobStatus
	Attempts       int
	Priority       int
	RunAfter       time.Time
	LastError      string
	Provider       string
	Model          string
	LockedBy       string
	LockedAt       *time.Time
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunStatus represents the lifecycle of a manual pull run.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

var allRunStatuses = []RunStatus{RunQueued, RunRunning, RunSuccess, RunFailed}

// runTransitions is the closed transition table for pull run statuses.
// Success and failed are terminal.
var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunFailed},
	RunRunning: {RunSuccess, RunFailed},
}

// ParseRunStatus converts a string into a known RunStatus.
func ParseRunStatus(value string) (RunStatus, bool) {
	normalized := RunStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allRunStatuses {
		if s == normalized {
			return normalized, true
		}
	}
	return "", false
}

// CanTransition reports whether the status may move to the target status.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, candidate := range runTransitions[s] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsActive reports whether a run still holds the single-flight slot.
func (s RunStatus) IsActive() bool {
	return s == RunQueued || s == RunRunning
}

// runTransitionSources returns the statuses allowed to move into target,
// in lifecycle order.
func runTransitionSources(target RunStatus) []RunStatus {
	var sources []RunStatus
	for _, from := range allRunStatuses {
		if from.CanTransition(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// activeRunStatuses returns the statuses that hold the single-flight slot.
func activeRunStatuses() []RunStatus {
	var active []RunStatus
	for _, status := range allRunStatuses {
		if status.IsActive() {
			active = append(active, status)
		}
	}
	return active
}

// PullStats aggregates counters across a pull run's cycles.
type PullStats struct {
	FeedCount       int      `json:"feed_count"`
	ArticleCount    int      `json:"article_count"`
	PendingJobs     int      `json:"pending_jobs"`
	FeedsWithErrors int      `json:"feeds_with_errors"`
	DueFeeds        int      `json:"due_feeds"`
	ItemsSeen       int      `json:"items_seen"`
	ItemsProcessed  int      `json:"items_processed"`
	CyclesCompleted int      `json:"cycles_completed"`
	RecentErrors    []string `json:"recent_errors,omitempty"`
}

// maxRecentErrors caps the representative error list carried in run stats.
const maxRecentErrors = 5

// AddError records an error sample, keeping at most maxRecentErrors entries.
func (s *PullStats) AddError(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	if len(s.RecentErrors) >= maxRecentErrors {
		return
	}
	s.RecentErrors = append(s.RecentErrors, message)
}

// PullRun is one execution of the manual ingestion-plus-processing pipeline.
type PullRun struct {
	ID          int64
	Status      RunStatus
	Cycles      int
	TriggeredBy string
	RequestID   string
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	CompletedAt *time.Time
	LastError   string
	StatsJSON   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Feed is a polled syndication source.
type Feed struct {
	ID           int64
	URL          string
	Title        string
	ETag         string
	LastModified string
	NextPollAt   *time.Time
	LastPolledAt *time.Time
	ErrorCount   int
	LastError    string
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Article is a deduplicated content item, unique by canonical URL or content hash.
type Article struct {
	ID             int64
	CanonicalURL   string
	ContentHash    string
	Title          string
	Author         string
	Summary        string
	KeyPointsJSON  string
	TagsJSON       string
	Score          *float64
	RawContent     string
	ExtractedText  string
	ImageURL       string
	ImageCheckedAt *time.Time
	PublishedAt    *time.Time
	FetchedAt      time.Time
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ArticleSource links an article to the feed item it arrived through.
type ArticleSource struct {
	ID          int64
	ArticleID   int64
	FeedID      int64
	ItemGUID    string
	OriginalURL string
	PublishedAt *time.Time
	CreatedAt   time.Time
}
