package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"gazette/internal/store"
	"gazette/internal/testsupport"
)

func apiRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIRequiresBearerToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret"
	st := testsupport.MustOpenStore(t, cfg)
	d := newTestDaemon(t, cfg, st)
	base := "http://" + d.APIAddr()

	resp := apiRequest(t, http.MethodGet, base+"/api/status", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/status", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/status", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon in status document")
	}
}

func TestAPITickAcknowledgesAndClassifies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d := newTestDaemon(t, cfg, st)
	base := "http://" + d.APIAddr()

	resp := apiRequest(t, http.MethodPost, base+"/api/tick", "", tickRequest{Schedule: "jobs"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var ack tickResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !ack.Jobs || ack.Poll || ack.Retention {
		t.Fatalf("unexpected classification %+v", ack)
	}
	d.coordinator.Wait()

	resp = apiRequest(t, http.MethodPost, base+"/api/tick", "", tickRequest{Schedule: "bogus"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for unknown identifier, got %d", resp.StatusCode)
	}
	var unknown tickResponse
	if err := json.NewDecoder(resp.Body).Decode(&unknown); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if unknown.Jobs || unknown.Poll || unknown.Retention {
		t.Fatalf("expected empty classification, got %+v", unknown)
	}
}

func TestAPIPullLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	d := newTestDaemon(t, cfg, st)
	base := "http://" + d.APIAddr()

	resp := apiRequest(t, http.MethodPost, base+"/api/pull", "", pullRequest{Cycles: 1, Trigger: "test"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var started struct {
		Started bool  `json:"started"`
		RunID   int64 `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !started.Started || started.RunID == 0 {
		t.Fatalf("unexpected start result %+v", started)
	}

	waitFor(t, func() bool {
		run, err := st.GetRun(ctx, started.RunID)
		return err == nil && run != nil && run.Status == store.RunSuccess
	})

	resp = apiRequest(t, http.MethodGet, fmt.Sprintf("%s/api/pull/status?run_id=%d", base, started.RunID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var run store.PullRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != started.RunID || run.Status != store.RunSuccess {
		t.Fatalf("unexpected run document %+v", run)
	}
}

func TestAPIJobAdministration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	d := newTestDaemon(t, cfg, st)
	base := "http://" + d.APIAddr()

	article, err := st.CreateArticle(ctx, store.NewArticleParams{
		CanonicalURL:  "https://example.com/admin",
		ContentHash:   "hash-admin",
		Title:         "Admin Article",
		ExtractedText: "body",
		FetchedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	job, err := st.EnqueueJob(ctx, store.JobTypeSummarize, &article.ID, 0, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp := apiRequest(t, http.MethodPost, base+"/api/jobs/force-run", "", map[string]int64{"id": job.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("force-run: expected 200, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/jobs/cancel", "", map[string]int64{"id": job.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/jobs?status=cancelled", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var listed struct {
		Jobs []store.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected job list %+v", listed.Jobs)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/jobs/cancel", "", map[string]int64{"id": 99999})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel missing: expected 404, got %d", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/jobs/clear-finished", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear-finished: expected 200, got %d", resp.StatusCode)
	}
	var cleared struct {
		Affected int64 `json:"affected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
		t.Fatalf("decode cleared: %v", err)
	}
	if cleared.Affected != 1 {
		t.Fatalf("expected 1 cleared job, got %d", cleared.Affected)
	}
}

func TestAPIFeeds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	d := newTestDaemon(t, cfg, st)
	base := "http://" + d.APIAddr()

	if _, err := st.AddFeed(ctx, "https://example.com/a.xml", "Feed A"); err != nil {
		t.Fatalf("add feed: %v", err)
	}

	resp := apiRequest(t, http.MethodGet, base+"/api/feeds", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listed struct {
		Feeds []store.Feed `json:"feeds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode feeds: %v", err)
	}
	if len(listed.Feeds) != 1 || listed.Feeds[0].URL != "https://example.com/a.xml" {
		t.Fatalf("unexpected feeds %+v", listed.Feeds)
	}
}
