package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

const (
	progressFileName = "snapshot_progress.json"
	runtimesFileName = "snapshot_runtimes.json"
)

func (s *Scheduler) progressPath() string { return filepath.Join(s.dataDir, progressFileName) }
func (s *Scheduler) runtimesPath() string { return filepath.Join(s.dataDir, runtimesFileName) }

func (s *Scheduler) loadProgress() (schema.Progress, bool) {
	data, err := os.ReadFile(s.progressPath())
	if err != nil {
		return schema.Progress{}, false
	}
	var p schema.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return schema.Progress{}, false
	}
	return p, true
}

func (s *Scheduler) saveProgress(p schema.Progress) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	if err := writeAtomic(s.progressPath(), data); err != nil && s.log != nil {
		s.log.Warnw("failed to persist progress document", "err", err)
	}
}

func (s *Scheduler) loadRuntimes() []float64 {
	data, err := os.ReadFile(s.runtimesPath())
	if err != nil {
		return nil
	}
	var runtimes []float64
	if err := json.Unmarshal(data, &runtimes); err != nil {
		return nil
	}
	if len(runtimes) > maxRuntimeHistory {
		runtimes = runtimes[len(runtimes)-maxRuntimeHistory:]
	}
	return runtimes
}

func (s *Scheduler) saveRuntimes(runtimes []float64) {
	data, err := json.MarshalIndent(runtimes, "", "  ")
	if err != nil {
		return
	}
	if err := writeAtomic(s.runtimesPath(), data); err != nil && s.log != nil {
		s.log.Warnw("failed to persist runtime history", "err", err)
	}
}

// writeAtomic writes data to path via a tmp file, fsync, then rename,
// falling back to delete-then-rename where atomic replace is refused
// (§4.9, reused here for the scheduler's own state documents).
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return os.Rename(tmp, path)
	}
	return nil
}
