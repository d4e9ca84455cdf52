package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gazette/internal/config"
	"gazette/internal/logging"
	"gazette/internal/store"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type tickRequest struct {
	Schedule string `json:"schedule"`
}

type tickResponse struct {
	Schedule  string `json:"schedule"`
	Jobs      bool   `json:"jobs"`
	Poll      bool   `json:"poll"`
	Retention bool   `json:"retention"`
}

type pullRequest struct {
	Cycles    int    `json:"cycles"`
	Trigger   string `json:"trigger"`
	RequestID string `json:"request_id"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.WithComponent(logger, "api-server"),
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	route := func(pattern string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, handler))
	}
	route("/api/tick", srv.handleTick)
	route("/api/pull", srv.handlePull)
	route("/api/pull/status", srv.handlePullStatus)
	route("/api/status", srv.handleStatus)
	route("/api/jobs", srv.handleJobs)
	route("/api/jobs/", srv.handleJobAction)
	route("/api/feeds", srv.handleFeeds)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Args(logging.Error(err))...)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.Args(logging.String("address", listener.Addr().String()))...)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleTick acknowledges with 202 immediately; the coordinator runs the
// classified work in the background.
func (s *apiServer) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req tickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := s.daemon.coordinator.HandleTick(req.Schedule)
	s.writeJSON(w, http.StatusAccepted, tickResponse{
		Schedule:  req.Schedule,
		Jobs:      kind.Jobs,
		Poll:      kind.Poll,
		Retention: kind.Retention,
	})
}

func (s *apiServer) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Trigger == "" {
		req.Trigger = "api"
	}
	result, err := s.daemon.StartPull(r.Context(), req.Cycles, req.Trigger, req.RequestID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusAccepted
	if !result.Started {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

func (s *apiServer) handlePullStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var runID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("run_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid run_id")
			return
		}
		runID = parsed
	}
	run, err := s.daemon.orchestrator.Status(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "no pull run found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []store.JobStatus
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			statuses = append(statuses, store.JobStatus(trimmed))
		}
	}
	jobs, err := s.daemon.store.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJobAction dispatches POST /api/jobs/{action}. Actions that target a
// single job read {"id": N} from the body.
func (s *apiServer) handleJobAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	action := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if action == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "unknown job action")
		return
	}

	var body struct {
		ID int64 `json:"id"`
	}
	if r.Body != nil {
		// A missing or empty body is fine for the bulk actions.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	ctx := r.Context()
	switch action {
	case "retry-failed":
		count, err := s.daemon.store.RetryAllFailed(ctx)
		s.writeJobActionResult(w, count, err)
	case "cancel":
		if body.ID > 0 {
			s.writeJobActionResult(w, 1, s.daemon.store.CancelJob(ctx, body.ID))
			return
		}
		count, err := s.daemon.store.CancelPendingJobs(ctx)
		s.writeJobActionResult(w, count, err)
	case "delete":
		if body.ID <= 0 {
			s.writeError(w, http.StatusBadRequest, "id required")
			return
		}
		s.writeJobActionResult(w, 1, s.daemon.store.DeleteJob(ctx, body.ID))
	case "force-run":
		if body.ID <= 0 {
			s.writeError(w, http.StatusBadRequest, "id required")
			return
		}
		s.writeJobActionResult(w, 1, s.daemon.store.ForceJobRunNow(ctx, body.ID))
	case "clear-finished":
		count, err := s.daemon.store.ClearFinishedJobs(ctx)
		s.writeJobActionResult(w, count, err)
	case "queue-missing":
		count, err := s.daemon.store.QueueMissingToday(ctx, time.Now().UTC(), s.daemon.cfg.Jobs.AutoTag)
		s.writeJobActionResult(w, int64(count), err)
	default:
		s.writeError(w, http.StatusNotFound, "unknown job action")
	}
}

func (s *apiServer) writeJobActionResult(w http.ResponseWriter, affected int64, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]int64{"affected": affected})
	case errors.Is(err, store.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleFeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	feeds, err := s.daemon.store.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
