package main

import (
	"fmt"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/statedb"
	"github.com/workdeck/workdeck/internal/workspace"
)

// openWorkspaceStore opens the state database and loads the workspace
// file for one-shot commands that do not need the full runtime. The
// caller closes both returned handles when done.
func openWorkspaceStore() (*statedb.DB, *bus.Bus, *workspace.Manager, error) {
	db, err := statedb.Open(dbPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate state db: %w", err)
	}
	if _, err := db.MigrateLegacyJSON(legacyWorkspacesPath()); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("import legacy workspaces: %w", err)
	}

	b := bus.New()
	m := workspace.NewManager(db, b)
	if err := m.Load(); err != nil {
		b.Close()
		db.Close()
		return nil, nil, nil, fmt.Errorf("load workspaces: %w", err)
	}
	return db, b, m, nil
}
