package store

import (
	"reflect"
	"testing"
)

func TestJobStatusTransitionTable(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobPending:   {JobRunning, JobCancelled},
		JobRunning:   {JobPending, JobDone, JobFailed},
		JobDone:      nil,
		JobFailed:    {JobPending},
		JobCancelled: nil,
	}

	for _, from := range AllJobStatuses() {
		for _, to := range AllJobStatuses() {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRunStatusTransitionTable(t *testing.T) {
	allowed := map[RunStatus][]RunStatus{
		RunQueued:  {RunRunning, RunFailed},
		RunRunning: {RunSuccess, RunFailed},
		RunSuccess: nil,
		RunFailed:  nil,
	}

	for _, from := range allRunStatuses {
		for _, to := range allRunStatuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestJobTransitionSources(t *testing.T) {
	cases := []struct {
		target JobStatus
		want   []JobStatus
	}{
		{JobRunning, []JobStatus{JobPending}},
		{JobDone, []JobStatus{JobRunning}},
		{JobFailed, []JobStatus{JobRunning}},
		{JobCancelled, []JobStatus{JobPending}},
		{JobPending, []JobStatus{JobRunning, JobFailed}},
	}
	for _, tc := range cases {
		if got := jobTransitionSources(tc.target); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("jobTransitionSources(%s) = %v, want %v", tc.target, got, tc.want)
		}
	}
}

func TestRunTransitionSources(t *testing.T) {
	cases := []struct {
		target RunStatus
		want   []RunStatus
	}{
		{RunRunning, []RunStatus{RunQueued}},
		{RunSuccess, []RunStatus{RunRunning}},
		{RunFailed, []RunStatus{RunQueued, RunRunning}},
	}
	for _, tc := range cases {
		if got := runTransitionSources(tc.target); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("runTransitionSources(%s) = %v, want %v", tc.target, got, tc.want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		JobPending:   false,
		JobRunning:   false,
		JobDone:      true,
		JobFailed:    true,
		JobCancelled: true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestActiveRunStatuses(t *testing.T) {
	if got := activeRunStatuses(); !reflect.DeepEqual(got, []RunStatus{RunQueued, RunRunning}) {
		t.Fatalf("activeRunStatuses() = %v", got)
	}
	if RunSuccess.IsActive() || RunFailed.IsActive() {
		t.Fatal("terminal run statuses must not be active")
	}
}

func TestParseJobStatus(t *testing.T) {
	for _, status := range AllJobStatuses() {
		got, ok := ParseJobStatus(string(status))
		if !ok || got != status {
			t.Errorf("ParseJobStatus(%q) = %q, %v", status, got, ok)
		}
	}
	if got, ok := ParseJobStatus("  Pending "); !ok || got != JobPending {
		t.Errorf("ParseJobStatus with padding = %q, %v", got, ok)
	}
	if _, ok := ParseJobStatus("sleeping"); ok {
		t.Error("ParseJobStatus accepted an unknown status")
	}
	if _, ok := ParseJobStatus(""); ok {
		t.Error("ParseJobStatus accepted an empty status")
	}
}

func TestParseJobType(t *testing.T) {
	for _, jobType := range AllJobTypes() {
		got, ok := ParseJobType(string(jobType))
		if !ok || got != jobType {
			t.Errorf("ParseJobType(%q) = %q, %v", jobType, got, ok)
		}
	}
	if got, ok := ParseJobType("SUMMARIZE"); !ok || got != JobTypeSummarize {
		t.Errorf("ParseJobType uppercase = %q, %v", got, ok)
	}
	if _, ok := ParseJobType("mystery"); ok {
		t.Error("ParseJobType accepted an unknown type")
	}
}

func TestParseRunStatus(t *testing.T) {
	for _, status := range allRunStatuses {
		got, ok := ParseRunStatus(string(status))
		if !ok || got != status {
			t.Errorf("ParseRunStatus(%q) = %q, %v", status, got, ok)
		}
	}
	if _, ok := ParseRunStatus("paused"); ok {
		t.Error("ParseRunStatus accepted an unknown status")
	}
}
