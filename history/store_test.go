package history

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, schema.EventDeployment, 90, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestAppendDedupsByID(t *testing.T) {
	s := newTestStore(t)
	ev := schema.DeploymentEvent{
		ID: "a:acme:prod:payments:v2", ProjectKey: "acme", EnvKey: "prod",
		Component: "payments", FromTag: "v1", ToTag: "v2", At: time.Now(),
	}
	fresh1, err := s.Append([]schema.DeploymentEvent{ev})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fresh1) != 1 {
		t.Fatalf("expected 1 fresh event, got %d", len(fresh1))
	}
	fresh2, err := s.Append([]schema.DeploymentEvent{ev})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fresh2) != 0 {
		t.Fatalf("expected duplicate append to be filtered, got %d", len(fresh2))
	}
}

func TestAppendDedupsBySignatureWithDifferentID(t *testing.T) {
	s := newTestStore(t)
	at := time.Now()
	ev1 := schema.DeploymentEvent{ID: "id1", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: at}
	ev2 := schema.DeploymentEvent{ID: "id2", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: at}
	if _, err := s.Append([]schema.DeploymentEvent{ev1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	fresh, err := s.Append([]schema.DeploymentEvent{ev2})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected tuple-signature dedup to filter differently-ID'd duplicate")
	}
}

func TestIndexUpdatesOnAppend(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append([]schema.DeploymentEvent{
		{ID: "1", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: time.Now()},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	idx, exists, err := s.Index()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !exists {
		t.Fatalf("expected index to exist after append")
	}
	if idx.Stats.TotalEvents != 1 {
		t.Fatalf("expected 1 total event, got %d", idx.Stats.TotalEvents)
	}
	if idx.Projects["acme"].EventCount != 1 {
		t.Fatalf("expected 1 project event, got %d", idx.Projects["acme"].EventCount)
	}
}

func TestDeriveEventsOnTagChange(t *testing.T) {
	prev := &schema.Project{
		Environments: []schema.Environment{
			{EnvKey: "prod", Components: []schema.Component{{ServiceKey: "payments", Tag: "v1"}}},
		},
	}
	cur := &schema.Project{
		Environments: []schema.Environment{
			{EnvKey: "prod", Components: []schema.Component{{ServiceKey: "payments", Tag: "v2", DeployedAt: time.Now()}}},
		},
	}
	events, warnings := DeriveEvents(schema.EventTagChange, "acme", prev, cur, time.Now())
	if len(events) != 1 {
		t.Fatalf("expected 1 derived event, got %d", len(events))
	}
	if events[0].FromTag != "v1" || events[0].ToTag != "v2" {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when deployedAt present, got %v", warnings)
	}
}

func TestDeriveEventsNoChangeNoEvent(t *testing.T) {
	prev := &schema.Project{Environments: []schema.Environment{
		{EnvKey: "prod", Components: []schema.Component{{ServiceKey: "payments", Tag: "v1"}}},
	}}
	cur := &schema.Project{Environments: []schema.Environment{
		{EnvKey: "prod", Components: []schema.Component{{ServiceKey: "payments", Tag: "v1"}}},
	}}
	events, _ := DeriveEvents(schema.EventTagChange, "acme", prev, cur, time.Now())
	if len(events) != 0 {
		t.Fatalf("expected no events for unchanged tag, got %d", len(events))
	}
}

func TestRetainMovesOldEventsToArchive(t *testing.T) {
	s := newTestStore(t)
	s.RetentionDays = 30
	old := time.Now().AddDate(0, -2, 0)
	recent := time.Now()
	_, err := s.Append([]schema.DeploymentEvent{
		{ID: "old", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: old},
		{ID: "new", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v2", ToTag: "v3", At: recent},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Retain(time.Now()); err != nil {
		t.Fatalf("retain: %v", err)
	}
	idx, _, err := s.Index()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if idx.Stats.TotalEvents != 1 {
		t.Fatalf("expected 1 event remaining after retention, got %d", idx.Stats.TotalEvents)
	}
	archiveFiles, err := os.ReadDir(s.archiveDir())
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(archiveFiles) != 1 {
		t.Fatalf("expected 1 archive file, got %d", len(archiveFiles))
	}
}

func TestRetainSkipsWithinInterval(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_, err := s.Append([]schema.DeploymentEvent{
		{ID: "1", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: now.AddDate(0, -5, 0)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Retain(now); err != nil {
		t.Fatalf("retain: %v", err)
	}
	if err := s.Retain(now.Add(time.Hour)); err != nil {
		t.Fatalf("retain: %v", err)
	}
	idx, _, _ := s.Index()
	if idx.Stats.TotalEvents != 0 {
		t.Fatalf("expected the first retain call to archive the event, got %d remaining", idx.Stats.TotalEvents)
	}
}
