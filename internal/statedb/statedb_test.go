package statedb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/workdeck/workdeck/internal/workspace"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleFile() workspace.File {
	return workspace.File{
		Workspaces: []workspace.Workspace{
			{
				ID:          "ws-a",
				ProjectPath: "/home/dev/api",
				ProjectName: "api",
				ActiveTabID: "tab-1",
				Tabs: []workspace.Tab{
					{
						ID:    "tab-1",
						Label: "Claude: fix tests",
						Type:  workspace.TypeClaude,
						Panes: []workspace.Pane{
							{ID: "pane-1", Type: workspace.TypeClaude, SessionID: "sess-1"},
						},
					},
				},
			},
			{
				ID:           "ws-b",
				ProjectPath:  "/home/dev/api",
				ProjectName:  "api",
				WorktreePath: "/home/dev/api/.worktrees/feature",
				Branch:       "feature",
				Tabs: []workspace.Tab{
					{ID: "tab-2", Label: "Shell", Panes: []workspace.Pane{{ID: "pane-2"}}},
				},
			},
		},
		SelectedID: "ws-b",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}

	got, err := db.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 2 {
		t.Fatalf("Expected 2 workspaces, got %d", len(got.Workspaces))
	}
	if got.SelectedID != "ws-b" {
		t.Errorf("SelectedID = %q, want ws-b", got.SelectedID)
	}
	// Snapshot order is preserved via sort_order.
	if got.Workspaces[0].ID != "ws-a" || got.Workspaces[1].ID != "ws-b" {
		t.Errorf("Order lost: %q, %q", got.Workspaces[0].ID, got.Workspaces[1].ID)
	}
	a := got.Workspaces[0]
	if len(a.Tabs) != 1 || len(a.Tabs[0].Panes) != 1 {
		t.Fatalf("Tab tree lost: %+v", a.Tabs)
	}
	if a.Tabs[0].Panes[0].SessionID != "sess-1" {
		t.Errorf("Pane session id lost: %+v", a.Tabs[0].Panes[0])
	}
	b := got.Workspaces[1]
	if b.WorktreePath != "/home/dev/api/.worktrees/feature" || b.Branch != "feature" {
		t.Errorf("Worktree fields lost: %+v", b)
	}
}

func TestSaveRemovesClosedWorkspaces(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}

	f := sampleFile()
	f.Workspaces = f.Workspaces[:1]
	f.SelectedID = "ws-a"
	if err := db.SaveWorkspaces(f); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}

	got, err := db.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 1 || got.Workspaces[0].ID != "ws-a" {
		t.Fatalf("Closed workspace reappeared: %+v", got.Workspaces)
	}
}

func TestSaveEmptySnapshotClearsTable(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}
	if err := db.SaveWorkspaces(workspace.File{}); err != nil {
		t.Fatalf("SaveWorkspaces empty: %v", err)
	}

	empty, err := db.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("Expected empty workspaces table")
	}
}

func TestLoadEmptyDatabase(t *testing.T) {
	db := newTestDB(t)

	got, err := db.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 0 || got.SelectedID != "" {
		t.Errorf("Expected empty file, got %+v", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	got, err := db2.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 2 {
		t.Fatalf("Expected 2 workspaces after reopen, got %d", len(got.Workspaces))
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate #%d: %v", i, err)
		}
	}
	v, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if v != "1" {
		t.Errorf("schema_version = %q, want 1", v)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	db := newTestDB(t)

	if v, err := db.GetMeta("missing"); err != nil || v != "" {
		t.Errorf("GetMeta(missing) = %q, %v", v, err)
	}
	if err := db.SetMeta("k", "v1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta("k", "v2"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	if v, _ := db.GetMeta("k"); v != "v2" {
		t.Errorf("GetMeta = %q, want v2", v)
	}
}

func TestTouchAdvancesLastModified(t *testing.T) {
	db := newTestDB(t)

	before, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if err := db.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if after <= before {
		t.Errorf("LastModified did not advance: %d -> %d", before, after)
	}
}

func TestSaveWorkspacesTouches(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}
	ts, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if ts == 0 {
		t.Error("Expected last_modified set by SaveWorkspaces")
	}
}

func TestHeartbeatLifecycle(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	count, err := db.AliveInstanceCount()
	if err != nil {
		t.Fatalf("AliveInstanceCount: %v", err)
	}
	if count != 1 {
		t.Errorf("AliveInstanceCount = %d, want 1", count)
	}
	if err := db.UnregisterInstance(); err != nil {
		t.Fatalf("UnregisterInstance: %v", err)
	}
	count, _ = db.AliveInstanceCount()
	if count != 0 {
		t.Errorf("AliveInstanceCount after unregister = %d, want 0", count)
	}
}

func TestCleanDeadInstances(t *testing.T) {
	db := newTestDB(t)

	// A stale row from a process that died long ago.
	old := time.Now().Add(-time.Hour).Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO app_instances (pid, started, heartbeat, is_primary) VALUES (99999, ?, ?, 0)",
		old, old,
	); err != nil {
		t.Fatalf("insert stale row: %v", err)
	}

	if err := db.CleanDeadInstances(30 * time.Second); err != nil {
		t.Fatalf("CleanDeadInstances: %v", err)
	}

	var count int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM app_instances").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected stale row removed, %d rows remain", count)
	}
}

func TestElectPrimaryClaimsWhenNoneAlive(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	primary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !primary {
		t.Error("Expected to claim primary")
	}

	// Re-election is stable.
	primary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary again: %v", err)
	}
	if !primary {
		t.Error("Expected to stay primary")
	}
}

func TestElectPrimaryDefersToAliveHolder(t *testing.T) {
	db := newTestDB(t)

	// Another alive process already holds primary.
	now := time.Now().Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO app_instances (pid, started, heartbeat, is_primary) VALUES (88888, ?, ?, 1)",
		now, now,
	); err != nil {
		t.Fatalf("insert primary row: %v", err)
	}
	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}

	primary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if primary {
		t.Error("Expected to defer to alive primary")
	}
}

func TestElectPrimaryTakesOverFromStaleHolder(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().Add(-time.Hour).Unix()
	if _, err := db.DB().Exec(
		"INSERT INTO app_instances (pid, started, heartbeat, is_primary) VALUES (77777, ?, ?, 1)",
		old, old,
	); err != nil {
		t.Fatalf("insert stale primary: %v", err)
	}
	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}

	primary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !primary {
		t.Error("Expected to take over from stale primary")
	}
}

func TestResignPrimary(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterInstance(false); err != nil {
		t.Fatalf("RegisterInstance: %v", err)
	}
	if _, err := db.ElectPrimary(30 * time.Second); err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if err := db.ResignPrimary(); err != nil {
		t.Fatalf("ResignPrimary: %v", err)
	}

	var primaries int
	if err := db.DB().QueryRow(
		"SELECT COUNT(*) FROM app_instances WHERE is_primary = 1",
	).Scan(&primaries); err != nil {
		t.Fatalf("count primaries: %v", err)
	}
	if primaries != 0 {
		t.Errorf("Expected no primaries after resign, got %d", primaries)
	}
}

func TestConcurrentSaves(t *testing.T) {
	db := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.SaveWorkspaces(sampleFile())
		}()
	}
	wg.Wait()

	got, err := db.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 2 {
		t.Errorf("Expected 2 workspaces after concurrent saves, got %d", len(got.Workspaces))
	}
}

func TestMigrateLegacyJSON(t *testing.T) {
	db := newTestDB(t)

	legacy := filepath.Join(t.TempDir(), "workspaces.json")
	data, err := json.Marshal(sampleFile())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(legacy, data, 0644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	n, err := db.MigrateLegacyJSON(legacy)
	if err != nil {
		t.Fatalf("MigrateLegacyJSON: %v", err)
	}
	if n != 2 {
		t.Errorf("Migrated %d workspaces, want 2", n)
	}

	got, err := db.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(got.Workspaces) != 2 || got.SelectedID != "ws-b" {
		t.Errorf("Import incomplete: %+v", got)
	}

	// Source renamed so the import cannot repeat.
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("Expected legacy file renamed away")
	}
	if _, err := os.Stat(legacy + ".migrated"); err != nil {
		t.Errorf("Expected .migrated file: %v", err)
	}
}

func TestMigrateLegacyJSONSkipsWhenPopulated(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveWorkspaces(sampleFile()); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}

	legacy := filepath.Join(t.TempDir(), "workspaces.json")
	stale := workspace.File{Workspaces: []workspace.Workspace{{ID: "old", ProjectPath: "/old", ProjectName: "old"}}}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(legacy, data, 0644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	n, err := db.MigrateLegacyJSON(legacy)
	if err != nil {
		t.Fatalf("MigrateLegacyJSON: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no import into populated db, got %d", n)
	}
	// The untouched legacy file stays where it was.
	if _, err := os.Stat(legacy); err != nil {
		t.Errorf("Legacy file should remain: %v", err)
	}
}

func TestMigrateLegacyJSONMissingFile(t *testing.T) {
	db := newTestDB(t)
	n, err := db.MigrateLegacyJSON(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("MigrateLegacyJSON: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 migrated, got %d", n)
	}
}
