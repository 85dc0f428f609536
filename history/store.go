// Package history implements the append-only event stores (§4.8):
// ReleaseHistory and DeploymentHistory share this exact shape and differ
// only in the EventKind they record and the directory they live under.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// DefaultRetentionDays is the fallback retention window (§4.8).
const DefaultRetentionDays = 90

// BootstrapWindowDays bounds how far back bootstrap/backfill reconstructs
// history from infra commits (§4.8).
const BootstrapWindowDays = 60

// maxIndexRetries and the jitter bounds implement §4.8/§5's
// read-modify-write policy for the index document.
const maxIndexRetries = 5

const eventsFileName = "events.jsonl"
const indexFileName = "index.json"

// Store is one append-only event log plus its index document and monthly
// archive directory, rooted at Dir.
type Store struct {
	Dir           string
	Kind          schema.EventKind
	RetentionDays int
	Log           *zap.SugaredLogger

	sleeper func(time.Duration)
}

// Open prepares a Store's directory structure. It does not read the
// index; call Index to load it.
func Open(dir string, kind schema.EventKind, retentionDays int, log *zap.SugaredLogger) (*Store, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0o755); err != nil {
		return nil, fmt.Errorf("history: mkdir %s: %w", dir, err)
	}
	return &Store{Dir: dir, Kind: kind, RetentionDays: retentionDays, Log: log, sleeper: time.Sleep}, nil
}

func (s *Store) eventsPath() string { return filepath.Join(s.Dir, eventsFileName) }
func (s *Store) indexPath() string  { return filepath.Join(s.Dir, indexFileName) }
func (s *Store) archiveDir() string { return filepath.Join(s.Dir, "archive") }

// Index loads the current index document, returning a zero-value index
// (not an error) when none exists yet — the caller treats that as the
// empty-index bootstrap trigger (§4.8).
func (s *Store) Index() (schema.HistoryIndex, bool, error) {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return schema.HistoryIndex{Retention: schema.RetentionState{Days: s.RetentionDays}}, false, nil
	}
	if err != nil {
		return schema.HistoryIndex{}, false, fmt.Errorf("history: read index: %w", err)
	}
	var idx schema.HistoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return schema.HistoryIndex{}, false, fmt.Errorf("history: decode index: %w", err)
	}
	return idx, true, nil
}

// writeIndex persists the index document with tmp+rename atomicity,
// retried with mtime-based conflict detection and jittered backoff
// (§4.8, §5).
func (s *Store) writeIndex(idx schema.HistoryIndex) error {
	before, statErr := os.Stat(s.indexPath())

	for attempt := 0; attempt < maxIndexRetries; attempt++ {
		if statErr == nil {
			if after, err := os.Stat(s.indexPath()); err == nil && !after.ModTime().Equal(before.ModTime()) {
				wait := time.Duration(100+rand.Intn(400)) * time.Millisecond
				s.sleeper(wait)
				before = after
				continue
			}
		}
		return atomicWriteJSON(s.indexPath(), idx)
	}
	return fmt.Errorf("history: index write conflict after %d retries", maxIndexRetries)
}

// Append writes new events to the log, deduplicating by event ID first
// and then by tuple signature (§4.8), in that order. Returns the events
// that were actually appended (fresh, not duplicates).
func (s *Store) Append(events []schema.DeploymentEvent) ([]schema.DeploymentEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	lock := flock.New(s.eventsPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("history: acquire lock: %w", err)
	}
	defer lock.Unlock()

	existingIDs, existingSigs, err := s.loadDedupKeys()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.eventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open events log: %w", err)
	}
	defer f.Close()

	var fresh []schema.DeploymentEvent
	enc := json.NewEncoder(f)
	for _, ev := range events {
		if _, dup := existingIDs[ev.ID]; dup {
			continue
		}
		sig := ev.DedupSignature()
		if _, dup := existingSigs[sig]; dup {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("history: write event: %w", err)
		}
		existingIDs[ev.ID] = struct{}{}
		existingSigs[sig] = struct{}{}
		fresh = append(fresh, ev)
	}

	if len(fresh) > 0 {
		if err := s.updateIndexWithEvents(fresh); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

func (s *Store) loadDedupKeys() (map[string]struct{}, map[string]struct{}, error) {
	ids := map[string]struct{}{}
	sigs := map[string]struct{}{}

	f, err := os.Open(s.eventsPath())
	if os.IsNotExist(err) {
		return ids, sigs, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("history: open events log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev schema.DeploymentEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		ids[ev.ID] = struct{}{}
		sigs[ev.DedupSignature()] = struct{}{}
	}
	return ids, sigs, scanner.Err()
}

// updateIndexWithEvents folds newly appended events into the index
// document's totals, per-project counts and timestamps.
func (s *Store) updateIndexWithEvents(events []schema.DeploymentEvent) error {
	idx, _, err := s.Index()
	if err != nil {
		return err
	}
	if idx.Projects == nil {
		idx.Projects = map[string]schema.ProjectHistory{}
	}
	idx.Retention.Days = s.RetentionDays

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
	idx.GeneratedAt = latestOf(idx.GeneratedAt, events)
	return s.writeIndex(idx)
}

func latestOf(current time.Time, events []schema.DeploymentEvent) time.Time {
	latest := current
	for _, ev := range events {
		if ev.At.After(latest) {
			latest = ev.At
		}
	}
	return latest
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// DeriveEvents implements §4.8's event derivation rule: for every
// (project, env, component) present in both the previous and current
// snapshot with prevTag != curTag and both non-empty, emit one event.
// Timestamps come from the current component's DeployedAt; if absent, the
// caller-supplied fallback (the run's generatedAt) is used and a warning
// returned instead of a dropped event.
func DeriveEvents(kind schema.EventKind, projectKey string, prev, cur *schema.Project, fallbackAt time.Time) ([]schema.DeploymentEvent, []string) {
	if prev == nil || cur == nil {
		return nil, nil
	}
	prevTags := indexComponentTags(prev)
	var events []schema.DeploymentEvent
	var warnings []string

	for _, env := range cur.Environments {
		for _, comp := range env.Components {
			key := env.EnvKey + "|" + comp.ServiceKey
			prevTag, ok := prevTags[key]
			if !ok || prevTag == "" || comp.Tag == "" || prevTag == comp.Tag {
				continue
			}
			at := comp.DeployedAt
			if at.IsZero() {
				at = fallbackAt
				warnings = append(warnings, fmt.Sprintf("missing deployedAt for %s/%s, used run timestamp", env.EnvKey, comp.ServiceKey))
			}
			events = append(events, schema.DeploymentEvent{
				ID:               schema.EventID(false, comp.DeployerCommitSHA, projectKey, env.EnvKey, comp.ServiceKey, comp.Tag, at),
				Kind:             kind,
				ProjectKey:       projectKey,
				EnvKey:           env.EnvKey,
				EnvName:          env.DisplayName,
				Component:        comp.ServiceKey,
				Repo:             comp.Repo,
				FromTag:          prevTag,
				ToTag:            comp.Tag,
				At:               at,
				By:               comp.Deployer,
				CommitURL:        comp.DeployerCommitURL,
				KustomizationURL: comp.KustomizationURL,
			})
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events, warnings
}

func indexComponentTags(p *schema.Project) map[string]string {
	out := map[string]string{}
	for _, env := range p.Environments {
		for _, comp := range env.Components {
			out[env.EnvKey+"|"+comp.ServiceKey] = comp.Tag
		}
	}
	return out
}

func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY, 0o644)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmp, path); err2 != nil {
			return fmt.Errorf("history: rename %s -> %s: %w", tmp, path, err2)
		}
	}
	return nil
}
