package tick

import (
	"testing"

	"gazette/internal/testsupport"
)

func TestResolverClassifiesConfiguredIdentifiers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Tick.JobsIntervalMinutes = 7
	cfg.Tick.PollIntervalMinutes = 30
	cfg.Tick.RetentionHourUTC = 4
	resolver := NewResolver(cfg)

	tests := []struct {
		identifier string
		want       Kind
	}{
		{"*/7 * * * *", Kind{Jobs: true}},
		{"*/30 * * * *", Kind{Poll: true}},
		{"0 4 * * *", Kind{Retention: true}},
		// Legacy literals keep working regardless of configuration.
		{"*/5 * * * *", Kind{Jobs: true}},
		{"*/15 * * * *", Kind{Poll: true}},
		{"0 3 * * *", Kind{Retention: true}},
		{"jobs", Kind{Jobs: true}},
		{"poll", Kind{Poll: true}},
		{"retention", Kind{Retention: true}},
		{"  jobs  ", Kind{Jobs: true}},
		{"*/11 * * * *", Kind{}},
		{"", Kind{}},
	}
	for _, tc := range tests {
		if got := resolver.Resolve(tc.identifier); got != tc.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tc.identifier, got, tc.want)
		}
	}
}

func TestResolverMergesCoincidingCadences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Tick.JobsIntervalMinutes = 15
	cfg.Tick.PollIntervalMinutes = 15
	resolver := NewResolver(cfg)

	got := resolver.Resolve("*/15 * * * *")
	if !got.Jobs || !got.Poll {
		t.Fatalf("expected combined jobs+poll tick, got %+v", got)
	}
}

func TestKindNone(t *testing.T) {
	if !(Kind{}).None() {
		t.Fatal("zero Kind should report None")
	}
	if (Kind{Poll: true}).None() {
		t.Fatal("poll Kind should not report None")
	}
}
