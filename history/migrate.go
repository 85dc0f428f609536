package history

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// legacyDocument is the old single-file release history shape: one JSON
// document nesting per-project event lists (§4.8 migration).
type legacyDocument struct {
	Projects map[string]struct {
		Events []schema.DeploymentEvent `json:"events"`
	} `json:"projects"`
}

// MigrateLegacy converts a legacy single-document release history file
// into this store's append-only log: read projects[].events[], stream-
// write them to the new log, derive the index from the stream, then
// rename the legacy file to a .bak suffix (§4.8). A no-op if legacyPath
// does not exist.
func (s *Store) MigrateLegacy(legacyPath string) error {
	data, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history: read legacy document: %w", err)
	}

	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("history: decode legacy document: %w", err)
	}

	var all []schema.DeploymentEvent
	for _, proj := range legacy.Projects {
		all = append(all, proj.Events...)
	}

	if _, err := s.Append(all); err != nil {
		return fmt.Errorf("history: migrate legacy events: %w", err)
	}

	if err := os.Rename(legacyPath, legacyPath+".bak"); err != nil {
		return fmt.Errorf("history: rename legacy document: %w", err)
	}
	return nil
}
