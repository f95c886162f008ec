// Package attention derives the "which agents are waiting on me" view
// from workspace structure and activity state. It is a pure read-side
// projection: nothing here is persisted or pushed, callers pull it.
package attention

import (
	"sync"

	"github.com/workdeck/workdeck/internal/activity"
	"github.com/workdeck/workdeck/internal/workspace"
)

// Entry is one agent tab in the attention view.
type Entry struct {
	TabID          string                `json:"tabId"`
	SessionType    workspace.SessionType `json:"sessionType"`
	NeedsAttention bool                  `json:"needsAttention"`
	Label          string                `json:"label"`
	WorktreePath   string                `json:"worktreePath,omitempty"`
}

// Aggregator computes attention entries grouped by project path. The
// result is memoized against the workspace and activity generation
// counters, so repeated reads between changes cost one map copy.
type Aggregator struct {
	mu         sync.Mutex
	workspaces *workspace.Manager
	activity   *activity.Classifier

	memo      map[string][]Entry
	memoWsGen uint64
	memoActGt uint64
	primed    bool
}

func New(ws *workspace.Manager, act *activity.Classifier) *Aggregator {
	return &Aggregator{workspaces: ws, activity: act}
}

// Snapshot returns the attention entries for every project, keyed by
// project path. Within one project entries follow workspace order, then
// tab order. Non-agent tabs never appear.
func (a *Aggregator) Snapshot() map[string][]Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	wsGen := a.workspaces.Generation()
	actGen := a.activity.Generation()
	if a.primed && wsGen == a.memoWsGen && actGen == a.memoActGt {
		return copyView(a.memo)
	}

	view := make(map[string][]Entry)
	file := a.workspaces.Snapshot()
	for _, w := range file.Workspaces {
		for _, tab := range w.Tabs {
			if !tab.Type.IsAgent() {
				continue
			}
			pane, ok := tab.AIPane()
			if !ok {
				continue
			}
			view[w.ProjectPath] = append(view[w.ProjectPath], Entry{
				TabID:          tab.ID,
				SessionType:    tab.Type,
				NeedsAttention: !a.activity.InProgress(pane.ID),
				Label:          tab.Label,
				WorktreePath:   w.WorktreePath,
			})
		}
	}

	a.memo = view
	a.memoWsGen = wsGen
	a.memoActGt = actGen
	a.primed = true
	return copyView(view)
}

// NeedsAttention reports whether any agent anywhere is waiting.
func (a *Aggregator) NeedsAttention() bool {
	for _, entries := range a.Snapshot() {
		for _, e := range entries {
			if e.NeedsAttention {
				return true
			}
		}
	}
	return false
}

// Project returns the entries for one project path.
func (a *Aggregator) Project(projectPath string) []Entry {
	return a.Snapshot()[projectPath]
}

func copyView(v map[string][]Entry) map[string][]Entry {
	out := make(map[string][]Entry, len(v))
	for k, entries := range v {
		out[k] = append([]Entry(nil), entries...)
	}
	return out
}
