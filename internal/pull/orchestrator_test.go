package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gazette/internal/feed"
	"gazette/internal/ingest"
	"gazette/internal/jobs"
	"gazette/internal/logging"
	"gazette/internal/services/completion"
	"gazette/internal/store"
	"gazette/internal/testsupport"
)

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string, string) (*completion.Result, error) {
	return fixedResult(), nil
}

func (stubCompleter) Summarize(context.Context, string) (*completion.Result, error) {
	return fixedResult(), nil
}

func (stubCompleter) Score(context.Context, string, string) (*completion.Result, error) {
	return fixedResult(), nil
}

func (stubCompleter) Tag(context.Context, string) (*completion.Result, error) {
	return fixedResult(), nil
}

func (stubCompleter) Model() string { return "stub-model" }

func fixedResult() *completion.Result {
	score := 6.0
	return &completion.Result{
		Summary:   "Stub summary.",
		KeyPoints: []string{"point"},
		Tags:      []string{"stub"},
		Score:     &score,
	}
}

type stubPages struct{}

func (stubPages) Fetch(context.Context, string) (*feed.PageExtract, error) {
	return &feed.PageExtract{}, nil
}

func serveRSS(t *testing.T) *httptest.Server {
	t.Helper()
	published := time.Now().UTC().Format(http.TimeFormat)
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Pull Feed</title><link>https://example.com</link>
<item><guid>g1</guid><title>Pull Item</title><link>https://example.com/pull-item</link>
<pubDate>%s</pubDate><description>short body</description></item>
</channel></rss>`, published)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func decodeStats(encoded string, stats *store.PullStats) error {
	return json.Unmarshal([]byte(encoded), stats)
}

func newOrchestrator(t *testing.T, st *store.Store) *Orchestrator {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	pipeline := ingest.NewPipeline(st, cfg, logging.NewNop(), ingest.WithPageFetcher(stubPages{}))
	processor := jobs.NewProcessor(st, stubCompleter{}, cfg, logging.NewNop(), jobs.WithPageFetcher(stubPages{}))
	return NewOrchestrator(st, pipeline, processor, cfg, logging.NewNop())
}

func TestStartSingleFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	orch := newOrchestrator(t, st)

	first, err := orch.Start(ctx, 2, "operator", "req-1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !first.Started {
		t.Fatal("expected first start to create a run")
	}

	second, err := orch.Start(ctx, 2, "operator", "req-2")
	if err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if second.Started {
		t.Fatal("expected second start to join the active run")
	}
	if second.RunID != first.RunID {
		t.Fatalf("expected active run %d, got %d", first.RunID, second.RunID)
	}
}

func TestRunExecutesCyclesAndCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	server := serveRSS(t)

	if _, err := st.AddFeed(ctx, server.URL, ""); err != nil {
		t.Fatalf("add feed: %v", err)
	}

	orch := newOrchestrator(t, st)
	started, err := orch.Start(ctx, 2, "operator", "req-1")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := orch.Run(ctx, started.RunID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	run, err := st.GetRun(ctx, started.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.LastError)
	}
	if run.HeartbeatAt == nil || run.CompletedAt == nil {
		t.Fatalf("expected heartbeat and completion times, got %+v", run)
	}

	var stats store.PullStats
	if run.StatsJSON == "" {
		t.Fatal("expected stats to be recorded")
	}
	if err := decodeStats(run.StatsJSON, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.CyclesCompleted != 2 {
		t.Fatalf("expected 2 cycles, got %d", stats.CyclesCompleted)
	}
	if stats.ItemsSeen == 0 || stats.ArticleCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// The run slot is free again.
	again, err := orch.Start(ctx, 1, "operator", "req-2")
	if err != nil {
		t.Fatalf("Start after completion returned error: %v", err)
	}
	if !again.Started {
		t.Fatal("expected a fresh run after the previous one completed")
	}
}

func TestRunHeartbeatsBetweenSlowFeeds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	published := time.Now().UTC().Format(http.TimeFormat)
	var mu sync.Mutex
	var observed []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Snapshot the run heartbeat as this feed's fetch begins.
		if run, err := st.ActiveRun(context.Background()); err == nil && run != nil && run.HeartbeatAt != nil {
			mu.Lock()
			observed = append(observed, *run.HeartbeatAt)
			mu.Unlock()
		}
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Slow Feed</title><link>https://example.com</link>
<item><guid>%[1]s</guid><title>Item %[1]s</title><link>https://example.com%[1]s</link>
<pubDate>%[2]s</pubDate><description>body</description></item>
</channel></rss>`, r.URL.Path, published)
	}))
	t.Cleanup(server.Close)

	for _, path := range []string{"/a", "/b", "/c"} {
		if _, err := st.AddFeed(ctx, server.URL+path, ""); err != nil {
			t.Fatalf("add feed %s: %v", path, err)
		}
	}

	orch := newOrchestrator(t, st)
	started, err := orch.Start(ctx, 1, "operator", "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := orch.Run(ctx, started.RunID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 3 {
		t.Fatalf("expected 3 feed fetches, got %d", len(observed))
	}
	// Each settled feed refreshes the heartbeat, so later fetches see a
	// newer timestamp than the first even while the pass is still working.
	if !observed[1].After(observed[0]) || !observed[2].After(observed[1]) {
		t.Fatalf("expected heartbeat to advance between feeds, got %v", observed)
	}
}

func TestRunRefusesFinishedRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	orch := newOrchestrator(t, st)

	started, err := orch.Start(ctx, 1, "operator", "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := orch.Run(ctx, started.RunID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := orch.Run(ctx, started.RunID); err == nil {
		t.Fatal("expected rerun of a finished run to fail")
	}
}

func TestRecoverStaleFreesSlot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	orch := newOrchestrator(t, st)

	stuck, err := orch.Start(ctx, 1, "operator", "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	recovered, err := orch.RecoverStale(ctx, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RecoverStale returned error: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != stuck.RunID {
		t.Fatalf("expected run %d recovered, got %v", stuck.RunID, recovered)
	}

	run, err := st.GetRun(ctx, stuck.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}

	fresh, err := orch.Start(ctx, 1, "operator", "")
	if err != nil {
		t.Fatalf("Start after recovery returned error: %v", err)
	}
	if !fresh.Started {
		t.Fatal("expected a fresh run after stale recovery")
	}
}

func TestStatusReturnsLatestRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	orch := newOrchestrator(t, st)

	none, err := orch.Status(ctx, 0)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no run, got %+v", none)
	}

	started, err := orch.Start(ctx, 1, "operator", "")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	latest, err := orch.Status(ctx, 0)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if latest == nil || latest.ID != started.RunID {
		t.Fatalf("expected latest run %d, got %+v", started.RunID, latest)
	}

	byID, err := orch.Status(ctx, started.RunID)
	if err != nil {
		t.Fatalf("Status by id returned error: %v", err)
	}
	if byID == nil || byID.ID != started.RunID {
		t.Fatalf("expected run %d, got %+v", started.RunID, byID)
	}
}
