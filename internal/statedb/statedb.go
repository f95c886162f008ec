// Package statedb persists workdeck state in a SQLite database:
// workspace snapshots, app-instance heartbeats with primary election,
// and a small metadata table. WAL mode plus a busy timeout make it safe
// for several workdeck processes to share one file.
package statedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/workspace"
)

var log = logging.ForComponent(logging.CompStorage)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DB wraps the SQLite database. Thread-safe for concurrent use from
// multiple goroutines within one process; multiple OS processes can
// safely read/write via WAL mode + busy timeout.
type DB struct {
	db  *sql.DB
	pid int
}

// Open creates or opens the database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: concurrent readers while writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}
	// Wait up to 5s if another process holds a lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: foreign keys: %w", err)
	}

	return &DB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *DB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *DB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *DB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create meta: %w", err)
	}

	// Tabs/panes are stored as one JSON blob per workspace: the tree
	// is read and written wholesale by the single-writer manager, so
	// per-tab rows would only add join bookkeeping.
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS workspaces (
			id            TEXT PRIMARY KEY,
			project_path  TEXT NOT NULL,
			project_name  TEXT NOT NULL,
			worktree_path TEXT NOT NULL DEFAULT '',
			branch        TEXT NOT NULL DEFAULT '',
			active_tab_id TEXT NOT NULL DEFAULT '',
			sort_order    INTEGER NOT NULL DEFAULT 0,
			tabs          TEXT NOT NULL DEFAULT '[]'
		)
	`); err != nil {
		return fmt.Errorf("statedb: create workspaces: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS app_instances (
			pid        INTEGER PRIMARY KEY,
			started    INTEGER NOT NULL,
			heartbeat  INTEGER NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create app_instances: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// IsEmpty returns true if the workspaces table has no rows.
func (s *DB) IsEmpty() (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM workspaces").Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Workspace snapshot (implements workspace.Store) ---

const selectedKey = "selected_workspace"

// SaveWorkspaces replaces the persisted snapshot in one transaction.
// Rows absent from the snapshot are deleted so closed workspaces don't
// reappear on reload.
func (s *DB) SaveWorkspaces(f workspace.File) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(f.Workspaces) == 0 {
		if _, err := tx.Exec("DELETE FROM workspaces"); err != nil {
			return err
		}
	} else {
		placeholders := make([]string, len(f.Workspaces))
		args := make([]any, len(f.Workspaces))
		for i, w := range f.Workspaces {
			placeholders[i] = "?"
			args[i] = w.ID
		}
		query := "DELETE FROM workspaces WHERE id NOT IN (" + strings.Join(placeholders, ",") + ")"
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO workspaces (
			id, project_path, project_name, worktree_path, branch,
			active_tab_id, sort_order, tabs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, w := range f.Workspaces {
		tabs, err := json.Marshal(w.Tabs)
		if err != nil {
			return fmt.Errorf("statedb: marshal tabs for %s: %w", w.ID, err)
		}
		if _, err := stmt.Exec(
			w.ID, w.ProjectPath, w.ProjectName, w.WorktreePath, w.Branch,
			w.ActiveTabID, i, string(tabs),
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		selectedKey, f.SelectedID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('last_modified', ?)",
		fmt.Sprintf("%d", time.Now().UnixNano()),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadWorkspaces returns the persisted snapshot ordered by sort_order.
// An empty database yields an empty file, not an error.
func (s *DB) LoadWorkspaces() (workspace.File, error) {
	var f workspace.File

	rows, err := s.db.Query(`
		SELECT id, project_path, project_name, worktree_path, branch,
			active_tab_id, tabs
		FROM workspaces ORDER BY sort_order
	`)
	if err != nil {
		return f, err
	}
	defer rows.Close()

	for rows.Next() {
		var w workspace.Workspace
		var tabs string
		if err := rows.Scan(
			&w.ID, &w.ProjectPath, &w.ProjectName, &w.WorktreePath, &w.Branch,
			&w.ActiveTabID, &tabs,
		); err != nil {
			return workspace.File{}, err
		}
		if err := json.Unmarshal([]byte(tabs), &w.Tabs); err != nil {
			return workspace.File{}, fmt.Errorf("statedb: parse tabs for %s: %w", w.ID, err)
		}
		f.Workspaces = append(f.Workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return workspace.File{}, err
	}

	selected, err := s.GetMeta(selectedKey)
	if err != nil {
		return workspace.File{}, err
	}
	f.SelectedID = selected
	return f, nil
}

// --- Heartbeat ---

// RegisterInstance records this process as an active workdeck instance.
func (s *DB) RegisterInstance(isPrimary bool) error {
	now := time.Now().Unix()
	primary := 0
	if isPrimary {
		primary = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO app_instances (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, ?)
	`, s.pid, now, now, primary)
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *DB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE app_instances SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterInstance removes this process from the heartbeat table.
func (s *DB) UnregisterInstance() error {
	_, err := s.db.Exec("DELETE FROM app_instances WHERE pid = ?", s.pid)
	return err
}

// CleanDeadInstances removes entries whose heartbeat is older than timeout.
func (s *DB) CleanDeadInstances(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM app_instances WHERE heartbeat < ?", cutoff)
	return err
}

// AliveInstanceCount returns how many instances have fresh heartbeats.
func (s *DB) AliveInstanceCount() (int, error) {
	var count int
	cutoff := time.Now().Add(-30 * time.Second).Unix()
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM app_instances WHERE heartbeat >= ?", cutoff,
	).Scan(&count)
	return count, err
}

// --- Primary election ---

// ElectPrimary attempts to make this instance the primary — the one
// that runs the poller, git watcher, and hook bridge. Returns true if
// this instance is now (or already was) the primary. Stale primaries
// are cleared and reclaimed atomically.
func (s *DB) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	if _, err := tx.Exec(
		"UPDATE app_instances SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM app_instances WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)

	if err == nil {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	}

	// No alive primary: claim it.
	if _, err := tx.Exec(
		"UPDATE app_instances SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	log.Info("primary_claimed", slog.Int("pid", s.pid))
	return true, nil
}

// ResignPrimary clears the is_primary flag for this process.
func (s *DB) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE app_instances SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the meta table.
func (s *DB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the meta table. Returns "" if not found.
func (s *DB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Touch updates a meta timestamp that other instances can poll to
// detect snapshot changes.
func (s *DB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from meta.
func (s *DB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
