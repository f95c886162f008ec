// Package workspace holds the mutable tree of open projects, their terminal
// tabs, and panes, plus the session lifecycle operations that grow it.
// The tree is copy-on-write: mutation helpers return new structures and the
// Manager swaps them in wholesale, so concurrent readers never observe a
// torn intermediate shape.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionType tags a tab/pane with the kind of process it hosts.
type SessionType string

const (
	TypeShell  SessionType = "shell"
	TypeClaude SessionType = "claude"
	TypeCodex  SessionType = "codex"
)

// DisplayName returns the label prefix for a session type.
func (t SessionType) DisplayName() string {
	switch t {
	case TypeClaude:
		return "Claude"
	case TypeCodex:
		return "Codex"
	case TypeShell:
		return "Shell"
	default:
		return string(t)
	}
}

// IsAgent reports whether the type is a coding-agent CLI (vs a plain shell).
func (t SessionType) IsAgent() bool {
	return t == TypeClaude || t == TypeCodex
}

// Pane is a single terminal surface hosting one process.
type Pane struct {
	ID string `json:"id"`

	// Type tags the pane's process kind; empty for plain shell panes
	// inside an agent tab's split.
	Type SessionType `json:"type,omitempty"`

	// SessionID is the externally assigned agent session id. Absent until
	// discovered (push or poll); set exactly once, immutable afterwards.
	SessionID string `json:"sessionId,omitempty"`

	// StartupCommand is typed into the pane's shell shortly after spawn.
	StartupCommand string `json:"startupCommand,omitempty"`
}

// Tab groups one or more panes under a label.
type Tab struct {
	ID    string      `json:"id"`
	Label string      `json:"label"`
	Split string      `json:"split"`
	Type  SessionType `json:"type,omitempty"`
	Panes []Pane      `json:"panes"`
}

// AIPane returns the pane hosting the tab's agent process: the pane tagged
// with the tab's type, falling back to the first pane for legacy shapes.
func (t Tab) AIPane() (Pane, bool) {
	if len(t.Panes) == 0 {
		return Pane{}, false
	}
	for _, p := range t.Panes {
		if p.Type != "" && p.Type == t.Type {
			return p, true
		}
	}
	return t.Panes[0], true
}

// Workspace is the per-project (or per-worktree) container of tabs.
type Workspace struct {
	ID          string `json:"id"`
	ProjectPath string `json:"projectPath"`
	ProjectName string `json:"projectName"`

	WorktreePath string `json:"worktreePath,omitempty"`
	Branch       string `json:"branch,omitempty"`

	Tabs        []Tab  `json:"terminalTabs"`
	ActiveTabID string `json:"activeTerminalTabId"`
}

// TerminalPath is the directory panes start in: the worktree when the
// workspace is bound to one, the project path otherwise.
func (w Workspace) TerminalPath() string {
	if w.WorktreePath != "" {
		return w.WorktreePath
	}
	return w.ProjectPath
}

// File is the persisted workspace snapshot.
type File struct {
	Workspaces []Workspace `json:"workspaces"`
	SelectedID string      `json:"selectedId,omitempty"`
}

// newID generates a unique id for workspaces, tabs, and panes.
func newID() string {
	return fmt.Sprintf("%s-%d", randomHex(8), time.Now().Unix())
}

func randomHex(length int) string {
	buf := make([]byte, length/2)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// cloneTabs returns a structural copy of a tab slice, sharing nothing
// mutable with the input.
func cloneTabs(tabs []Tab) []Tab {
	out := make([]Tab, len(tabs))
	for i, t := range tabs {
		out[i] = t
		out[i].Panes = append([]Pane(nil), t.Panes...)
	}
	return out
}

func cloneWorkspace(w Workspace) Workspace {
	w.Tabs = cloneTabs(w.Tabs)
	return w
}

func cloneFile(f File) File {
	out := File{SelectedID: f.SelectedID}
	out.Workspaces = make([]Workspace, len(f.Workspaces))
	for i, w := range f.Workspaces {
		out.Workspaces[i] = cloneWorkspace(w)
	}
	return out
}
