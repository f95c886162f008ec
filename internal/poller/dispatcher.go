package poller

import (
	"sync"
	"time"

	"github.com/workdeck/workdeck/internal/bus"
)

const refreshDebounce = 500 * time.Millisecond

type pendingRefresh struct {
	generation uint64
	source     string
	trigger    string
}

// Dispatcher collapses refresh storms. Git watcher churn, hook events
// and UI pokes for one project within the debounce window become a
// single RequestRefresh; only the newest generation's flush fires.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]*pendingRefresh

	poller *Poller
	window time.Duration
}

func NewDispatcher(p *Poller) *Dispatcher {
	return &Dispatcher{
		pending: make(map[string]*pendingRefresh),
		poller:  p,
		window:  refreshDebounce,
	}
}

// SetWindow overrides the debounce window from user config. Zero keeps
// the default.
func (d *Dispatcher) SetWindow(window time.Duration) {
	if window > 0 {
		d.window = window
	}
}

// Attach subscribes the dispatcher to the events that invalidate a
// project's cached status.
func (d *Dispatcher) Attach(b *bus.Bus) {
	b.SubscribeGitChanged(func(ev bus.GitChanged) {
		d.Request(ev.ProjectPath, "git-watcher", "git-dir-change")
	})
	// A merged PR changes board state downstream of the merge action;
	// re-poll so the cache drops the PR promptly instead of waiting a
	// full slow cycle.
	b.SubscribePRMerged(func(ev bus.PRMerged) {
		d.Request(ev.ProjectPath, "poller", "pr-merged")
	})
}

// Request schedules a debounced refresh for a project. Source and
// trigger exist for the logs; the newest request's pair wins.
func (d *Dispatcher) Request(projectPath, source, trigger string) {
	if projectPath == "" {
		return
	}
	generation := d.enqueue(projectPath, source, trigger)
	time.AfterFunc(d.window, func() { d.flush(projectPath, generation) })
}

func (d *Dispatcher) enqueue(projectPath, source, trigger string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[projectPath]
	if !ok {
		entry = &pendingRefresh{}
		d.pending[projectPath] = entry
	}
	entry.generation++
	entry.source = source
	entry.trigger = trigger
	return entry.generation
}

// flush fires the refresh if this timer belongs to the newest request;
// superseded flushes are dropped on the floor.
func (d *Dispatcher) flush(projectPath string, generation uint64) {
	d.mu.Lock()
	entry, ok := d.pending[projectPath]
	if !ok || entry.generation != generation {
		d.mu.Unlock()
		return
	}
	delete(d.pending, projectPath)
	d.mu.Unlock()

	if d.poller != nil {
		d.poller.RequestRefresh(projectPath)
	}
}
