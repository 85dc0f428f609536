package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// executeRun runs the pipeline once to completion (or until HardTimeout
// or parent cancellation), maintaining the progress document throughout
// (§4.10).
func (s *Scheduler) executeRun(ctx context.Context) {
	runID := uuid.NewString()
	startedAt := time.Now()
	estimated := s.estimatedRuntimeSeconds()

	s.mu.Lock()
	s.running = true
	s.progress = schema.Progress{
		Status:                  "running",
		StartedAt:               startedAt,
		Step:                    "starting",
		ProgressPct:             0,
		RunID:                   runID,
		EstimatedRuntimeSeconds: estimated,
	}
	s.mu.Unlock()
	s.saveProgress(s.progress)

	runCtx, cancel := context.WithTimeout(ctx, HardTimeout)
	defer cancel()

	done := make(chan struct{})
	go s.tickProgress(runCtx, startedAt, estimated, done)

	snap, err := s.pipeline(runCtx)
	close(done)

	finishedAt := time.Now()
	s.mu.Lock()
	s.running = false
	s.lastRunAt = finishedAt
	if err != nil {
		s.progress = schema.Progress{
			Status:                  "error",
			StartedAt:               startedAt,
			Step:                    "failed",
			ProgressPct:             s.progress.ProgressPct,
			RunID:                   runID,
			EstimatedRuntimeSeconds: estimated,
			Error:                   errorTail(err),
		}
	} else {
		s.progress = schema.Progress{
			Status:                  "completed",
			StartedAt:               startedAt,
			Step:                    "done",
			ProgressPct:             100,
			RunID:                   runID,
			EstimatedRuntimeSeconds: estimated,
		}
		s.recordRuntime(finishedAt.Sub(startedAt).Seconds())
	}
	progressCopy := s.progress
	s.mu.Unlock()

	s.saveProgress(progressCopy)
	if s.log != nil {
		if err != nil {
			s.log.Errorw("pipeline run failed", "runId", runID, "err", err)
		} else {
			s.log.Infow("pipeline run completed", "runId", runID, "projects", len(snap.Projects))
		}
	}
}

// tickProgress updates the progress document's ETA at ≥30s granularity
// until done is closed or runCtx expires (§4.10).
func (s *Scheduler) tickProgress(runCtx context.Context, startedAt time.Time, estimated int, done chan struct{}) {
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-runCtx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startedAt).Seconds()
			eta := int(float64(estimated) - elapsed)
			if eta < 0 {
				eta = 0
			}
			s.mu.Lock()
			s.progress.EtaSeconds = &eta
			etaMinutes := float64(eta) / 60
			s.progress.EtaMinutes = &etaMinutes
			s.progress.ProgressPct = progressPercentFromElapsed(elapsed, estimated)
			progressCopy := s.progress
			s.mu.Unlock()
			s.saveProgress(progressCopy)
		}
	}
}

// progressPercentFromElapsed estimates a run's completion percentage
// from elapsed time against the rolling-average estimate, capped below
// 100 until the run actually finishes.
func progressPercentFromElapsed(elapsedSeconds float64, estimated int) int {
	if estimated <= 0 {
		return 0
	}
	pct := int((elapsedSeconds / float64(estimated)) * 100)
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// estimatedRuntimeSeconds averages the last rollingWindowSize kept
// runtimes, clamped to [minEstimatedRuntimeSeconds,
// maxEstimatedRuntimeSeconds], defaulting to
// defaultEstimatedRuntimeSeconds with no history (§4.10).
func (s *Scheduler) estimatedRuntimeSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.runtimes) == 0 {
		return defaultEstimatedRuntimeSeconds
	}
	window := s.runtimes
	if len(window) > rollingWindowSize {
		window = window[len(window)-rollingWindowSize:]
	}
	var sum float64
	for _, r := range window {
		sum += r
	}
	avg := sum / float64(len(window))

	clamped := int(avg)
	if clamped < minEstimatedRuntimeSeconds {
		clamped = minEstimatedRuntimeSeconds
	}
	if clamped > maxEstimatedRuntimeSeconds {
		clamped = maxEstimatedRuntimeSeconds
	}
	return clamped
}

func (s *Scheduler) recordRuntime(seconds float64) {
	s.mu.Lock()
	s.runtimes = append(s.runtimes, seconds)
	if len(s.runtimes) > maxRuntimeHistory {
		s.runtimes = s.runtimes[len(s.runtimes)-maxRuntimeHistory:]
	}
	runtimes := append([]float64(nil), s.runtimes...)
	s.mu.Unlock()
	s.saveRuntimes(runtimes)
}

// errorTail extracts a short, user-facing tail from a pipeline error,
// matching §4.10's "error with the stderr tail" contract for the
// in-process pipeline path.
func errorTail(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "pipeline run exceeded the 1 hour timeout"
	}
	return err.Error()
}
