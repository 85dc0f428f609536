// Package scheduler drives the periodic pipeline run, exposing the
// run/cooldown/manual-trigger state machine and the observable progress
// document described in §4.10.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

const (
	// DefaultInterval is the cadence between automatic runs.
	DefaultInterval = 30 * time.Minute
	// DefaultCooldown is the pause after a manually triggered run before
	// the automatic cadence resumes.
	DefaultCooldown = 5 * time.Minute
	// HardTimeout bounds a single pipeline run; the run context is
	// cancelled once exceeded.
	HardTimeout = 1 * time.Hour
	// ShutdownJoinTimeout is how long Run waits for an in-flight run to
	// finish after its context is cancelled.
	ShutdownJoinTimeout = 5 * time.Second

	progressUpdateInterval = 30 * time.Second

	defaultEstimatedRuntimeSeconds = 1200
	minEstimatedRuntimeSeconds     = 60
	maxEstimatedRuntimeSeconds     = 3600
	rollingWindowSize              = 10
	maxRuntimeHistory              = 50
)

// PipelineFunc executes one full pipeline run and returns the produced
// snapshot. The contract matches §4.10: a non-nil error marks the run
// errored, success marks it completed.
type PipelineFunc func(ctx context.Context) (*schema.Snapshot, error)

// Scheduler owns the single active pipeline run and its progress
// document. All exported methods are safe for concurrent use; the
// Control API calls Trigger/Status from request-handling goroutines
// while Run executes in its own goroutine (§5).
type Scheduler struct {
	pipeline PipelineFunc

	interval time.Duration
	cooldown time.Duration
	dataDir  string
	log      *zap.SugaredLogger

	mu                   sync.Mutex
	running              bool
	manualTriggerPending bool
	lastRunAt            time.Time
	runtimes             []float64 // seconds, oldest first, bounded at maxRuntimeHistory
	progress             schema.Progress

	triggerWake chan struct{}
}

// New constructs a Scheduler. dataDir holds the persisted progress and
// runtime-history documents (§6: data/snapshot_progress.json,
// data/snapshot_runtimes.json) so state survives process restarts.
func New(dataDir string, interval, cooldown time.Duration, pipeline PipelineFunc, log *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	s := &Scheduler{
		pipeline:    pipeline,
		interval:    interval,
		cooldown:    cooldown,
		dataDir:     dataDir,
		log:         log,
		triggerWake: make(chan struct{}, 1),
		progress:    schema.Progress{Status: "completed", ProgressPct: 100},
	}

	if prev, ok := s.loadProgress(); ok {
		// A run never legitimately survives a process restart; a
		// stale "running" document from a prior process means that
		// run crashed mid-flight (§4.10).
		if prev.Status == "running" {
			prev.Status = "error"
			prev.Error = "process restarted while a run was in progress"
		}
		s.progress = prev
	}
	s.runtimes = s.loadRuntimes()

	return s
}

// Trigger marks a manual run as pending. It reports ok=false (callers
// should respond 409) if a run is already executing (§4.11).
func (s *Scheduler) Trigger() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.manualTriggerPending = true
	select {
	case s.triggerWake <- struct{}{}:
	default:
	}
	return true
}

// Status summarizes scheduling state for GET /status (§4.11).
type Status struct {
	Running   bool            `json:"running"`
	LastRunAt time.Time       `json:"lastRunAt,omitempty"`
	NextRunAt time.Time       `json:"nextRunAt,omitempty"`
	Progress  schema.Progress `json:"progress"`
}

// Status reports the current scheduling state and the last known
// progress document.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:   s.running,
		LastRunAt: s.lastRunAt,
		Progress:  s.progress,
	}
	if !s.running && !s.lastRunAt.IsZero() {
		st.NextRunAt = s.lastRunAt.Add(s.interval)
	}
	return st
}

// Progress returns the current progress document for GET /progress.
func (s *Scheduler) Progress() schema.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Run executes the scheduling loop until ctx is cancelled. It returns
// nil on a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		manual := s.manualTriggerPending
		lastRun := s.lastRunAt
		s.mu.Unlock()

		if manual {
			s.mu.Lock()
			s.manualTriggerPending = false
			s.mu.Unlock()

			s.executeRun(ctx)

			if !s.sleep(ctx, s.cooldown) {
				return nil
			}

			// The cooldown must be additive on top of the regular cadence
			// (§8 scenario 5: interval=30m, manual trigger at t=0 ⇒ next
			// automatic run no earlier than t=35m), not absorbed into it.
			// Advancing lastRunAt by the cooldown we just slept makes the
			// interval wait below land on lastRunAt+cooldown+interval.
			s.mu.Lock()
			s.lastRunAt = s.lastRunAt.Add(s.cooldown)
			s.mu.Unlock()

			continue
		}

		wait := time.Duration(0)
		if !lastRun.IsZero() {
			wait = time.Until(lastRun.Add(s.interval))
		}
		if wait <= 0 {
			s.executeRun(ctx)
			continue
		}
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
}

// sleep blocks for d, waking early on ctx cancellation or a manual
// trigger, whichever comes first. It returns false if ctx was
// cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.triggerWake:
		return true
	}
}
