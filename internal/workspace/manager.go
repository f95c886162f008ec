package workspace

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/logging"
)

var wsLog = logging.ForComponent(logging.CompWorkspace)

// Store persists workspace snapshots. An empty snapshot on load means
// "no saved state", not an error.
type Store interface {
	SaveWorkspaces(f File) error
	LoadWorkspaces() (File, error)
}

// Manager is the single writer of the workspace tree. All mutations swap
// the tree wholesale under the mutex; Snapshot returns a deep copy so
// callers can read without holding any lock.
type Manager struct {
	mu    sync.Mutex
	state File
	gen   uint64

	store Store
	bus   *bus.Bus
}

// NewManager creates a Manager wired to an optional store and bus.
// Either may be nil (in-memory only, no events).
func NewManager(store Store, b *bus.Bus) *Manager {
	return &Manager{store: store, bus: b}
}

// Load restores the persisted snapshot. Missing state leaves the tree empty.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	f, err := m.store.LoadWorkspaces()
	if err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}

	m.mu.Lock()
	m.state = cloneFile(f)
	m.gen++
	m.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the current tree.
func (m *Manager) Snapshot() File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFile(m.state)
}

// Generation returns a counter bumped by every mutation. Derived views use
// it to invalidate memos without re-walking the tree.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// mutate runs fn against a private copy of the tree, installs the result,
// persists, and publishes a change event. fn returns false to abort with
// no visible effect.
func (m *Manager) mutate(fn func(f *File) bool) {
	m.mu.Lock()
	next := cloneFile(m.state)
	if !fn(&next) {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.gen++
	persisted := cloneFile(next)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveWorkspaces(persisted); err != nil {
			wsLog.Warn("workspace_save_failed", slog.String("error", err.Error()))
		}
	}
	if m.bus != nil {
		m.bus.PublishWorkspacesChanged(bus.WorkspacesChanged{})
	}
}

// OpenProject returns the workspace for a project path, creating a landing
// workspace (no tabs) and selecting it when none exists. At most one
// workspace exists per (projectPath, worktreePath) pair.
func (m *Manager) OpenProject(projectPath string) Workspace {
	return m.openWorkspace(projectPath, "", "")
}

// OpenWorktree opens (or creates) the workspace bound to a worktree of a
// project.
func (m *Manager) OpenWorktree(projectPath, worktreePath, branch string) Workspace {
	return m.openWorkspace(projectPath, worktreePath, branch)
}

func (m *Manager) openWorkspace(projectPath, worktreePath, branch string) Workspace {
	var result Workspace
	m.mutate(func(f *File) bool {
		for i := range f.Workspaces {
			w := &f.Workspaces[i]
			if w.ProjectPath == projectPath && w.WorktreePath == worktreePath {
				f.SelectedID = w.ID
				result = cloneWorkspace(*w)
				return true
			}
		}
		ws := Workspace{
			ID:           newID(),
			ProjectPath:  projectPath,
			ProjectName:  filepath.Base(projectPath),
			WorktreePath: worktreePath,
			Branch:       branch,
		}
		f.Workspaces = append(f.Workspaces, ws)
		f.SelectedID = ws.ID
		result = cloneWorkspace(ws)
		return true
	})
	return result
}

// CloseWorkspace removes a workspace and everything under it.
func (m *Manager) CloseWorkspace(id string) {
	m.mutate(func(f *File) bool {
		for i := range f.Workspaces {
			if f.Workspaces[i].ID != id {
				continue
			}
			f.Workspaces = append(f.Workspaces[:i], f.Workspaces[i+1:]...)
			if f.SelectedID == id {
				f.SelectedID = ""
				if len(f.Workspaces) > 0 {
					f.SelectedID = f.Workspaces[0].ID
				}
			}
			return true
		}
		return false
	})
}

// Select marks a workspace as the active one.
func (m *Manager) Select(id string) {
	m.mutate(func(f *File) bool {
		for i := range f.Workspaces {
			if f.Workspaces[i].ID == id {
				if f.SelectedID == id {
					return false
				}
				f.SelectedID = id
				return true
			}
		}
		return false
	})
}

// Selected returns the currently selected workspace.
func (m *Manager) Selected() (Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Workspaces {
		if m.state.Workspaces[i].ID == m.state.SelectedID {
			return cloneWorkspace(m.state.Workspaces[i]), true
		}
	}
	return Workspace{}, false
}

// Get returns a workspace by id.
func (m *Manager) Get(id string) (Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Workspaces {
		if m.state.Workspaces[i].ID == id {
			return cloneWorkspace(m.state.Workspaces[i]), true
		}
	}
	return Workspace{}, false
}

// SetActiveTab switches the active tab of a workspace.
func (m *Manager) SetActiveTab(workspaceID, tabID string) {
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		for _, t := range w.Tabs {
			if t.ID == tabID {
				w.ActiveTabID = tabID
				return true
			}
		}
		return false
	})
}

// AddShellTab appends a plain shell tab to a workspace.
func (m *Manager) AddShellTab(workspaceID string) (Tab, bool) {
	var created Tab
	ok := false
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		tab := Tab{
			ID:    newID(),
			Label: nextLabel(w.Tabs, TypeShell),
			Split: "horizontal",
			Type:  TypeShell,
			Panes: []Pane{{ID: newID(), Type: TypeShell}},
		}
		w.Tabs = append(w.Tabs, tab)
		w.ActiveTabID = tab.ID
		created = tab
		ok = true
		return true
	})
	return created, ok
}

// SplitPane adds a shell pane next to an existing pane's tab.
func (m *Manager) SplitPane(workspaceID, tabID string) (Pane, bool) {
	var created Pane
	ok := false
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		for i := range w.Tabs {
			if w.Tabs[i].ID != tabID {
				continue
			}
			created = Pane{ID: newID(), Type: TypeShell}
			w.Tabs[i].Panes = append(w.Tabs[i].Panes, created)
			ok = true
			return true
		}
		return false
	})
	return created, ok
}

// RemovePane removes a pane from its tab. Removing the last pane of the
// active tab is a no-op; removing the last pane of a background tab closes
// the tab.
func (m *Manager) RemovePane(workspaceID, tabID, paneID string) {
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		for i := range w.Tabs {
			tab := &w.Tabs[i]
			if tab.ID != tabID {
				continue
			}
			if len(tab.Panes) == 1 {
				if tab.Panes[0].ID != paneID {
					return false
				}
				if w.ActiveTabID == tabID {
					// Keep the active tab usable.
					return false
				}
				w.Tabs = append(w.Tabs[:i], w.Tabs[i+1:]...)
				return true
			}
			for j := range tab.Panes {
				if tab.Panes[j].ID == paneID {
					tab.Panes = append(tab.Panes[:j], tab.Panes[j+1:]...)
					return true
				}
			}
			return false
		}
		return false
	})
}

// CloseTab removes a tab and its panes.
func (m *Manager) CloseTab(workspaceID, tabID string) {
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		for i := range w.Tabs {
			if w.Tabs[i].ID != tabID {
				continue
			}
			w.Tabs = append(w.Tabs[:i], w.Tabs[i+1:]...)
			if w.ActiveTabID == tabID {
				w.ActiveTabID = ""
				if len(w.Tabs) > 0 {
					w.ActiveTabID = w.Tabs[len(w.Tabs)-1].ID
				}
			}
			return true
		}
		return false
	})
}

// SetPaneSession records a discovered session id on a pane. First write
// wins: a pane's identity never changes once set. Unknown panes are
// ignored (the tab may have closed while the event was in flight).
func (m *Manager) SetPaneSession(paneID, sessionID string) {
	if sessionID == "" {
		return
	}
	m.mutate(func(f *File) bool {
		for wi := range f.Workspaces {
			for ti := range f.Workspaces[wi].Tabs {
				panes := f.Workspaces[wi].Tabs[ti].Panes
				for pi := range panes {
					if panes[pi].ID != paneID {
						continue
					}
					if panes[pi].SessionID != "" {
						return false
					}
					panes[pi].SessionID = sessionID
					wsLog.Debug("pane_session_set",
						slog.String("pane", paneID),
						slog.String("session", sessionID))
					return true
				}
			}
		}
		return false
	})
}

// FindPane locates a pane anywhere in the tree.
func (m *Manager) FindPane(paneID string) (Workspace, Tab, Pane, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for wi := range m.state.Workspaces {
		w := m.state.Workspaces[wi]
		for _, t := range w.Tabs {
			for _, p := range t.Panes {
				if p.ID == paneID {
					return cloneWorkspace(w), t, p, true
				}
			}
		}
	}
	return Workspace{}, Tab{}, Pane{}, false
}

// ProjectPaths returns the deduplicated set of open project paths,
// including worktree paths as separate entries.
func (m *Manager) ProjectPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var paths []string
	for _, w := range m.state.Workspaces {
		p := w.ProjectPath
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}

func findWorkspace(f *File, id string) *Workspace {
	for i := range f.Workspaces {
		if f.Workspaces[i].ID == id {
			return &f.Workspaces[i]
		}
	}
	return nil
}

// nextLabel builds "{Type} {n+1}" counting existing tabs of the same type.
func nextLabel(tabs []Tab, typ SessionType) string {
	count := 0
	for _, t := range tabs {
		if t.Type == typ {
			count++
		}
	}
	return fmt.Sprintf("%s %d", typ.DisplayName(), count+1)
}
