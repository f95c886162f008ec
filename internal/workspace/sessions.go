package workspace

import (
	"fmt"
	"log/slog"
	"time"
)

// Session startup instructions are typed into the pane shell after spawn.
// The agent CLIs own their flag syntax; we only compose the command line.
func startCommand(typ SessionType) string {
	switch typ {
	case TypeClaude:
		return "claude"
	case TypeCodex:
		return "codex"
	default:
		return ""
	}
}

func resumeCommand(typ SessionType, sessionID string) string {
	switch typ {
	case TypeClaude:
		return fmt.Sprintf("claude --resume %s", sessionID)
	case TypeCodex:
		return fmt.Sprintf("codex resume %s", sessionID)
	default:
		return ""
	}
}

// StartSession appends an agent tab with a fresh pane (no session id yet)
// and a "new session" startup instruction.
func (m *Manager) StartSession(workspaceID string, typ SessionType) (Tab, bool) {
	var created Tab
	ok := false
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		tab := Tab{
			ID:    newID(),
			Label: nextLabel(w.Tabs, typ),
			Split: "horizontal",
			Type:  typ,
			Panes: []Pane{{
				ID:             newID(),
				Type:           typ,
				StartupCommand: startCommand(typ),
			}},
		}
		w.Tabs = append(w.Tabs, tab)
		w.ActiveTabID = tab.ID
		created = tab
		ok = true
		return true
	})
	return created, ok
}

// ResumeSession appends an agent tab bound to a known session id, with a
// resume startup instruction.
func (m *Manager) ResumeSession(workspaceID, sessionID, label string, typ SessionType) (Tab, bool) {
	var created Tab
	ok := false
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		if label == "" {
			label = nextLabel(w.Tabs, typ)
		}
		tab := Tab{
			ID:    newID(),
			Label: label,
			Split: "horizontal",
			Type:  typ,
			Panes: []Pane{{
				ID:             newID(),
				Type:           typ,
				SessionID:      sessionID,
				StartupCommand: resumeCommand(typ, sessionID),
			}},
		}
		w.Tabs = append(w.Tabs, tab)
		w.ActiveTabID = tab.ID
		created = tab
		ok = true
		return true
	})
	return created, ok
}

// RestartSession replaces a tab with a fresh one (new tab and pane ids) so
// no state from the old process can leak into the new one. A previously
// discovered session id is carried over as a resume; otherwise the restart
// starts fresh.
func (m *Manager) RestartSession(workspaceID, tabID string) (Tab, bool) {
	var created Tab
	ok := false
	m.mutate(func(f *File) bool {
		w := findWorkspace(f, workspaceID)
		if w == nil {
			return false
		}
		for i := range w.Tabs {
			old := w.Tabs[i]
			if old.ID != tabID {
				continue
			}
			aiPane, _ := old.AIPane()
			pane := Pane{ID: newID(), Type: old.Type}
			if aiPane.SessionID != "" {
				pane.SessionID = aiPane.SessionID
				pane.StartupCommand = resumeCommand(old.Type, aiPane.SessionID)
			} else {
				pane.StartupCommand = startCommand(old.Type)
			}
			tab := Tab{
				ID:    newID(),
				Label: old.Label,
				Split: old.Split,
				Type:  old.Type,
				Panes: []Pane{pane},
			}
			w.Tabs[i] = tab
			if w.ActiveTabID == tabID {
				w.ActiveTabID = tab.ID
			}
			created = tab
			ok = true
			return true
		}
		return false
	})
	return created, ok
}

// DiscoveredSession is one entry from an agent CLI's session listing.
type DiscoveredSession struct {
	SessionID string `json:"sessionId"`
	Label     string `json:"label"`
	Timestamp string `json:"timestamp"`
}

// SessionLister lists the agent sessions recorded on disk for a project.
type SessionLister func(projectPath string) ([]DiscoveredSession, error)

// Discovery poll bounds. Integrations with push hooks never need this
// path; it exists for CLIs that only leave session files behind.
const (
	discoveryInterval = 2 * time.Second
	discoveryAttempts = 15
)

// DiscoverSessionID polls an agent CLI's session listing until an id
// appears that was not present at start, then applies it to the pane.
// Listing failures count as "no new session yet". When the attempt budget
// runs out the pane is left unresolved; it stays usable, just unlabeled.
//
// Blocks; callers run it in a goroutine.
func (m *Manager) DiscoverSessionID(paneID, projectPath string, list SessionLister) {
	m.discoverSessionID(paneID, projectPath, list, discoveryInterval, discoveryAttempts)
}

func (m *Manager) discoverSessionID(paneID, projectPath string, list SessionLister, interval time.Duration, attempts int) {
	known := make(map[string]bool)
	if sessions, err := list(projectPath); err == nil {
		for _, s := range sessions {
			known[s.SessionID] = true
		}
	}

	for attempt := 0; attempt < attempts; attempt++ {
		time.Sleep(interval)

		// The pane may have been torn down while we slept.
		if _, _, pane, found := m.FindPane(paneID); !found {
			return
		} else if pane.SessionID != "" {
			// A hook event beat us to it.
			return
		}

		sessions, err := list(projectPath)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if s.SessionID == "" || known[s.SessionID] {
				continue
			}
			m.SetPaneSession(paneID, s.SessionID)
			return
		}
	}

	wsLog.Debug("discovery_exhausted",
		slog.String("pane", paneID),
		slog.String("project", projectPath))
}
