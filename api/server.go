// Package api is the Control API (§4.11): a small, read-only and
// side-effect-limited JSON-over-HTTP surface in front of the Scheduler,
// the live ticket correlator, and pure VCS read views.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/internal/obsmetrics"
	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/scheduler"
	"github.com/WatchTurm/WatchTurm-control-room/tracker"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// Server routes Control API requests to the scheduler, the live ticket
// rebuild path, and the runbook read views.
type Server struct {
	Scheduler *scheduler.Scheduler
	VCS       vcs.Provider
	Tracker   tracker.Provider // may be nil
	Projects  []schema.ProjectConfig
	Log       *zap.SugaredLogger

	corsOrigin  string
	bearerToken string

	serve   func(*http.Server) error // optional override for tests
	metrics http.Handler
}

// Config carries the fields NewServer needs beyond the already-built
// collaborators.
type Config struct {
	CORSOrigin  string
	BearerToken string
}

// NewServer wires a Server from its already-constructed collaborators
// (§4.10, §4.11). sched may be nil only in tests that don't exercise
// /status, /trigger or /progress.
func NewServer(sched *scheduler.Scheduler, vcsProvider vcs.Provider, trackerProvider tracker.Provider, projects []schema.ProjectConfig, log *zap.SugaredLogger, cfg Config) *Server {
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server{
		Scheduler:   sched,
		VCS:         vcsProvider,
		Tracker:     trackerProvider,
		Projects:    projects,
		Log:         log,
		corsOrigin:  corsOrigin,
		bearerToken: strings.TrimSpace(cfg.BearerToken),
		metrics:     promhttp.HandlerFor(obsmetrics.Registry(), promhttp.HandlerOpts{}),
	}
}

// ServeHTTP implements http.Handler and dispatches to capability
// handlers. CORS is wide open per §4.11: "*" with matching OPTIONS
// pre-flight.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.authorize(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	requestID := requestIDFromRequest(r)
	w.Header().Set("X-Request-ID", requestID)

	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/trigger" && r.Method == http.MethodPost:
		s.handleTrigger(w, r)
	case r.URL.Path == "/progress" && r.Method == http.MethodGet:
		s.handleProgress(w, r)
	case r.URL.Path == "/metrics" && r.Method == http.MethodGet:
		s.metrics.ServeHTTP(w, r)
	case strings.HasPrefix(r.URL.Path, "/ticket/") && r.Method == http.MethodGet:
		s.handleTicket(w, r)
	case strings.HasPrefix(r.URL.Path, "/runbooks/") && r.Method == http.MethodPost:
		s.handleRunbook(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.bearerToken == "" {
		return true
	}
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	return strings.TrimSpace(authz[len(prefix):]) == s.bearerToken
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	logAudit(r, "scheduler.status")
	if s.Scheduler == nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "scheduler not configured", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.Status())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	logAudit(r, "scheduler.trigger")
	if s.Scheduler == nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "scheduler not configured", nil))
		return
	}
	if !s.Scheduler.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	logAudit(r, "scheduler.progress")
	if s.Scheduler == nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "scheduler not configured", nil))
		return
	}
	writeJSON(w, http.StatusOK, s.Scheduler.Progress())
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serve := s.serve
	if serve == nil {
		serve = func(srv *http.Server) error { return srv.ListenAndServe() }
	}
	return serve(srv)
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

// projectForRepo finds the configured project owning an owner/repo pair
// (as a service's code or infra repo), used by the runbook handlers to
// resolve BranchingConfig overrides.
func (s *Server) projectForRepo(owner, repo string) (schema.ProjectConfig, bool) {
	for _, p := range s.Projects {
		if !strings.EqualFold(p.VCSOwner, owner) {
			continue
		}
		for _, svc := range p.Services {
			if svc.CodeRepo == repo || svc.InfraRepo == repo {
				return p, true
			}
		}
	}
	return schema.ProjectConfig{}, false
}
