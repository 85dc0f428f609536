package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// minCleanupInterval enforces §4.8's "cleanup runs at most once per 24h".
const minCleanupInterval = 24 * time.Hour

// Retain moves events older than now-retentionDays from the active log
// into a monthly archive file, rewrites the index counters, and updates
// retention.lastCleanup. A no-op (not an error) if the last cleanup ran
// within minCleanupInterval.
func (s *Store) Retain(now time.Time) error {
	idx, _, err := s.Index()
	if err != nil {
		return err
	}
	if !idx.Retention.LastCleanup.IsZero() && now.Sub(idx.Retention.LastCleanup) < minCleanupInterval {
		return nil
	}

	lock := flock.New(s.eventsPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("history: acquire lock for retention: %w", err)
	}
	defer lock.Unlock()

	cutoff := now.AddDate(0, 0, -s.RetentionDays)

	f, err := os.Open(s.eventsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history: open events log: %w", err)
	}

	var kept []schema.DeploymentEvent
	byMonth := map[string][]schema.DeploymentEvent{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev schema.DeploymentEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.At.Before(cutoff) {
			month := ev.At.Format("2006-01")
			byMonth[month] = append(byMonth[month], ev)
			continue
		}
		kept = append(kept, ev)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return fmt.Errorf("history: scan events log: %w", scanErr)
	}

	for month, evs := range byMonth {
		if err := appendArchive(s.archiveDir(), month, evs); err != nil {
			return err
		}
	}

	if err := rewriteActiveLog(s.eventsPath(), kept); err != nil {
		return err
	}

	idx = recomputeIndex(idx.Retention.Days, kept)
	idx.Retention.LastCleanup = now
	return s.writeIndex(idx)
}

func appendArchive(archiveDir, month string, events []schema.DeploymentEvent) error {
	path := filepath.Join(archiveDir, month+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open archive %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("history: write archive %s: %w", path, err)
		}
	}
	return nil
}

// rewriteActiveLog replaces the active log with kept via tmp+rename, the
// same atomicity discipline used for latest.json (§4.8, §5).
func rewriteActiveLog(path string, kept []schema.DeploymentEvent) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open tmp log: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, ev := range kept {
		if err := enc.Encode(ev); err != nil {
			f.Close()
			return fmt.Errorf("history: write tmp log: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmp, path); err2 != nil {
			return fmt.Errorf("history: rename tmp log: %w", err2)
		}
	}
	return nil
}

func recomputeIndex(retentionDays int, events []schema.DeploymentEvent) schema.HistoryIndex {
	idx := schema.HistoryIndex{
		Retention: schema.RetentionState{Days: retentionDays},
		Projects:  map[string]schema.ProjectHistory{},
	}
	for _, ev := range events {
		idx.Stats.TotalEvents++
		if idx.Stats.OldestEvent.IsZero() || ev.At.Before(idx.Stats.OldestEvent) {
			idx.Stats.OldestEvent = ev.At
		}
		if ev.At.After(idx.Stats.NewestEvent) {
			idx.Stats.NewestEvent = ev.At
		}
		proj := idx.Projects[ev.ProjectKey]
		proj.EventCount++
		if proj.FirstEventAt.IsZero() || ev.At.Before(proj.FirstEventAt) {
			proj.FirstEventAt = ev.At
		}
		if ev.At.After(proj.LastEventAt) {
			proj.LastEventAt = ev.At
		}
		if !containsString(proj.Environments, ev.EnvKey) {
			proj.Environments = append(proj.Environments, ev.EnvKey)
		}
		idx.Projects[ev.ProjectKey] = proj
	}
	return idx
}
