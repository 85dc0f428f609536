// Command snapshotd is the WatchTurm control room process: it loads the
// per-project configs, resolves credentials, wires whichever integration
// providers are registered under the configured names, and runs the
// Scheduler loop and Control API server side by side until an operator
// signal stops the process (§5).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/WatchTurm/WatchTurm-control-room/api"
	"github.com/WatchTurm/WatchTurm-control-room/ci"
	"github.com/WatchTurm/WatchTurm-control-room/config"
	"github.com/WatchTurm/WatchTurm-control-room/history"
	"github.com/WatchTurm/WatchTurm-control-room/internal/creds"
	"github.com/WatchTurm/WatchTurm-control-room/internal/kustomize"
	"github.com/WatchTurm/WatchTurm-control-room/internal/pipeline"
	"github.com/WatchTurm/WatchTurm-control-room/monitoring"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/scheduler"
	"github.com/WatchTurm/WatchTurm-control-room/snapshot"
	"github.com/WatchTurm/WatchTurm-control-room/tracker"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

func main() {
	var (
		configsDir  = flag.String("configs-dir", "configs", "directory of per-project YAML configs")
		dataDir     = flag.String("data-dir", "data", "directory for snapshots, history and scheduler state")
		listenAddr  = flag.String("listen-address", ":8080", "address the Control API listens on")
		interval    = flag.Duration("interval", scheduler.DefaultInterval, "cadence between automatic runs")
		cooldown    = flag.Duration("cooldown", scheduler.DefaultCooldown, "pause after a manual trigger before automatic runs resume")
		corsOrigin  = flag.String("cors-origin", "*", "Access-Control-Allow-Origin value for the Control API")
		bearerToken = flag.String("bearer-token", "", "if set, required as a Bearer token on every Control API request")
		vcsName     = flag.String("vcs-provider", "github", "registered VCS provider name")
		ciName      = flag.String("ci-provider", "teamcity", "registered CI provider name")
		monName     = flag.String("monitoring-provider", "datadog", "registered monitoring provider name")
		trackerName = flag.String("tracker-provider", "jira", "registered tracker provider name")
	)
	flag.Parse()

	cred := creds.Load()
	log := newLogger(cred.LogLevel)
	defer log.Sync()

	projects, err := config.Load(*configsDir)
	if err != nil {
		log.Fatalw("loading project configs", "err", err)
	}

	vcsProvider, err := mustVCS(*vcsName, cred)
	if err != nil {
		log.Fatalw("vcs provider is required", "provider", *vcsName, "err", err)
	}
	ciProvider := optionalCI(*ciName, cred, log)
	monitoringProvider := optionalMonitoring(*monName, cred, log)
	trackerProvider := optionalTracker(*trackerName, cred, log)

	releaseHistory, err := history.Open(releaseHistoryDir(*dataDir), schema.EventTagChange, cred.ReleaseHistoryRetentionDays, log)
	if err != nil {
		log.Fatalw("opening release history store", "err", err)
	}
	deploymentHistory, err := history.Open(deploymentHistoryDir(*dataDir), schema.EventDeployment, cred.ReleaseHistoryRetentionDays, log)
	if err != nil {
		log.Fatalw("opening deployment history store", "err", err)
	}

	// A legacy single-document release history MUST be converted once
	// (§4.8): no-op when the file isn't there, which covers both a fresh
	// install and a process that already migrated on a prior run.
	if err := releaseHistory.MigrateLegacy(legacyReleaseHistoryPath(*dataDir)); err != nil {
		log.Fatalw("migrating legacy release history", "err", err)
	}

	if cred.ReleaseHistoryBackfill60 && cred.ReleaseHistoryBootstrapDays > 0 {
		if err := bootstrapDeploymentHistory(context.Background(), deploymentHistory, vcsProvider, projects, log); err != nil {
			log.Warnw("deployment history bootstrap/backfill failed", "err", err)
		}
	}

	writer := snapshot.NewAtomicWriter(*dataDir)

	deps := pipeline.Dependencies{
		Projects:          projects,
		VCS:               vcsProvider,
		CI:                ciProvider,
		Monitoring:        monitoringProvider,
		Tracker:           trackerProvider,
		ReleaseHistory:    releaseHistory,
		DeploymentHistory: deploymentHistory,
		Creds:             cred,
		Log:               log,
	}

	runPipeline := func(ctx context.Context) (*schema.Snapshot, error) {
		deps.Previous = loadPrevious(writer, log)
		snap, err := pipeline.Run(ctx, deps)
		if err != nil {
			return nil, err
		}
		if err := writer.Write(snap); err != nil {
			return nil, fmt.Errorf("write snapshot: %w", err)
		}
		return snap, nil
	}

	sched := scheduler.New(*dataDir, *interval, *cooldown, runPipeline, log)
	srv := api.NewServer(sched, vcsProvider, trackerProvider, projects, log, api.Config{
		CORSOrigin:  *corsOrigin,
		BearerToken: *bearerToken,
	})

	var g run.Group

	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return sched.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case sig := <-term:
				log.Infow("received shutdown signal, exiting gracefully", "signal", sig.String())
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	{
		httpServer := &http.Server{
			Addr:              *listenAddr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			log.Infow("control api listening", "addr", *listenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx, httpServer)
		})
	}

	if err := g.Run(); err != nil {
		log.Fatalw("snapshotd exited", "err", err)
	}
}

// newLogger builds the process-wide SugaredLogger, honoring LOG_LEVEL
// (§6) via zap's atomic level; it falls back to info on an unparsable
// value rather than failing startup over a logging preference.
func newLogger(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if level != "" {
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

func releaseHistoryDir(dataDir string) string {
	return dataDir + "/release_history"
}

func deploymentHistoryDir(dataDir string) string {
	return dataDir + "/deployment_history"
}

func legacyReleaseHistoryPath(dataDir string) string {
	return dataDir + "/release_history_legacy.json"
}

// bootstrapDeploymentHistory runs the one-time infra-commit backfill
// (§4.8) on an empty index, or on an index whose oldest event is younger
// than the bootstrap window, building one BootstrapSource per (project,
// env, service) that has an infra repo configured. A source's path is the
// first of kustomize.CandidatePaths for its env; like the Component
// Assembler, a wrong guess just yields no events for that source rather
// than failing startup (Bootstrap's per-commit FetchFile calls fail soft).
func bootstrapDeploymentHistory(ctx context.Context, store *history.Store, vcsProvider vcs.Provider, projects []schema.ProjectConfig, log *zap.SugaredLogger) error {
	idx, exists, err := store.Index()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	now := time.Now()
	if exists && !history.NeedsBackfill(idx, exists, now) {
		return nil
	}

	var sources []history.BootstrapSource
	for _, cfg := range projects {
		for _, env := range cfg.Environments {
			envKey := schema.NormalizeEnvKey(env.Key)
			if envKey == "" {
				continue
			}
			for _, svc := range cfg.Services {
				if svc.InfraRepo == "" || !serviceDeploysToEnv(svc, envKey) {
					continue
				}
				ref := svc.InfraRefOverride
				if ref == "" {
					ref = cfg.DefaultInfraRef
				}
				sources = append(sources, history.BootstrapSource{
					ProjectKey: cfg.Key,
					EnvKey:     envKey,
					EnvName:    env.Name,
					Owner:      cfg.VCSOwner,
					InfraRepo:  svc.InfraRepo,
					Path:       kustomize.CandidatePaths(envKey)[0],
					Ref:        ref,
				})
			}
		}
	}
	if len(sources) == 0 {
		return nil
	}

	events, err := history.Bootstrap(ctx, vcsProvider, sources, now)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	fresh, err := store.Append(events)
	if err != nil {
		return fmt.Errorf("append bootstrap events: %w", err)
	}
	log.Infow("deployment history bootstrapped", "sources", len(sources), "events", len(fresh))
	return nil
}

func serviceDeploysToEnv(svc schema.ServiceConfig, envKey string) bool {
	if len(svc.EnvFilter) == 0 {
		return true
	}
	for _, e := range svc.EnvFilter {
		if schema.NormalizeEnvKey(e) == envKey {
			return true
		}
	}
	return false
}

// mustVCS resolves the required VCS provider; §4.2 treats a missing VCS
// adapter as fatal, unlike CI/Monitoring/Tracker which degrade to
// "integration disabled".
func mustVCS(name string, cred creds.Set) (vcs.Provider, error) {
	ctor, ok := vcs.LookupProvider(name)
	if !ok {
		return nil, fmt.Errorf("no vcs provider registered under %q (have: %v)", name, vcs.Providers())
	}
	return ctor(vcs.Config{Token: cred.GitHubToken})
}

func optionalCI(name string, cred creds.Set, log *zap.SugaredLogger) ci.Provider {
	if cred.TeamCityToken == "" && cred.TeamCityURL == "" {
		return nil
	}
	ctor, ok := ci.LookupProvider(name)
	if !ok {
		log.Warnw("no ci provider registered, ci integration disabled", "provider", name)
		return nil
	}
	p, err := ctor(ci.Config{BaseURL: cred.TeamCityURL, Token: cred.TeamCityToken})
	if err != nil {
		log.Warnw("ci provider construction failed, ci integration disabled", "provider", name, "err", err)
		return nil
	}
	return p
}

func optionalMonitoring(name string, cred creds.Set, log *zap.SugaredLogger) monitoring.Provider {
	if cred.DatadogAPIKey == "" {
		return nil
	}
	ctor, ok := monitoring.LookupProvider(name)
	if !ok {
		log.Warnw("no monitoring provider registered, monitoring integration disabled", "provider", name)
		return nil
	}
	p, err := ctor(monitoring.Config{APIKey: cred.DatadogAPIKey, AppKey: cred.DatadogAppKey, Site: cred.DatadogSite})
	if err != nil {
		log.Warnw("monitoring provider construction failed, monitoring integration disabled", "provider", name, "err", err)
		return nil
	}
	return p
}

func optionalTracker(name string, cred creds.Set, log *zap.SugaredLogger) tracker.Provider {
	if cred.JiraAPIToken == "" {
		return nil
	}
	ctor, ok := tracker.LookupProvider(name)
	if !ok {
		log.Warnw("no tracker provider registered, tracker integration disabled", "provider", name)
		return nil
	}
	p, err := ctor(tracker.Config{BaseURL: cred.JiraBase, Email: cred.JiraEmail, APIToken: cred.JiraAPIToken})
	if err != nil {
		log.Warnw("tracker provider construction failed, tracker integration disabled", "provider", name, "err", err)
		return nil
	}
	return p
}

// loadPrevious reads the last persisted snapshot so the pipeline can diff
// tag/deployment history and apply the ticket correlation persistence
// floor against it (§4.7, §4.8). A missing or corrupt file just means
// this is the first run; it is never fatal.
func loadPrevious(writer *snapshot.AtomicWriter, log *zap.SugaredLogger) *schema.Snapshot {
	data, err := os.ReadFile(writer.Dir + "/" + writer.LatestFileName)
	if err != nil {
		return nil
	}
	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warnw("previous snapshot is unreadable, starting without history context", "err", err)
		return nil
	}
	return &snap
}
