package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

func TestMigrateLegacyConvertsAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.json")

	legacy := legacyDocument{Projects: map[string]struct {
		Events []schema.DeploymentEvent `json:"events"`
	}{
		"acme": {Events: []schema.DeploymentEvent{
			{ID: "e1", ProjectKey: "acme", EnvKey: "prod", Component: "payments", FromTag: "v1", ToTag: "v2", At: time.Now()},
		}},
	}}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(legacyPath, data, 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	s, err := Open(filepath.Join(dir, "store"), schema.EventTagChange, 90, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.MigrateLegacy(legacyPath); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Fatalf("expected legacy file to be renamed away")
	}
	if _, err := os.Stat(legacyPath + ".bak"); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}

	idx, _, err := s.Index()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if idx.Stats.TotalEvents != 1 {
		t.Fatalf("expected 1 migrated event, got %d", idx.Stats.TotalEvents)
	}
}

func TestMigrateLegacyNoopWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), schema.EventTagChange, 90, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.MigrateLegacy(filepath.Join(dir, "missing.json")); err != nil {
		t.Fatalf("expected no error for missing legacy file, got %v", err)
	}
}
