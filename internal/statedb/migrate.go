package statedb

import (
	"encoding/json"
	"fmt"
	"os"

	"log/slog"

	"github.com/workdeck/workdeck/internal/workspace"
)

// MigrateLegacyJSON imports a pre-sqlite workspaces.json file into the
// database. It only runs when the workspaces table is empty, and
// renames the source file afterwards so the import happens once.
// Returns the number of workspaces migrated.
func (s *DB) MigrateLegacyJSON(jsonPath string) (int, error) {
	empty, err := s.IsEmpty()
	if err != nil {
		return 0, err
	}
	if !empty {
		return 0, nil
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("statedb: read legacy json: %w", err)
	}

	var f workspace.File
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("statedb: parse legacy json: %w", err)
	}

	if err := s.SaveWorkspaces(f); err != nil {
		return 0, fmt.Errorf("statedb: import legacy json: %w", err)
	}

	if err := os.Rename(jsonPath, jsonPath+".migrated"); err != nil {
		log.Warn("legacy_json_rename_failed", slog.String("error", err.Error()))
	}
	log.Info("legacy_json_migrated",
		slog.String("path", jsonPath),
		slog.Int("workspaces", len(f.Workspaces)))
	return len(f.Workspaces), nil
}
