// Package poller drives the adaptive GitHub refresh loop: tracked
// projects are polled slow (90s) or fast (15s while anything is
// pending), one-shot refreshes can be requested at any time, and every
// successful fetch is diffed against the previous one to surface check
// transitions and freshly merged PRs.
package poller

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/github"
	"github.com/workdeck/workdeck/internal/logging"
)

var pollLog = logging.ForComponent(logging.CompPoller)

const (
	fastPollInterval = 15 * time.Second
	slowPollInterval = 90 * time.Second
	workerTick       = 500 * time.Millisecond
	inFlightBackoff  = 5 * time.Second
)

// StatusFetcher is the gh boundary the poller talks to.
type StatusFetcher interface {
	Available(ctx context.Context) bool
	ProjectStatus(ctx context.Context, path string) (github.ProjectStatus, error)
	PRChecks(ctx context.Context, path string, number int) ([]github.CheckDetail, error)
}

// MergeHandler is invoked once per PR observed transitioning into
// MERGED, with the PR's head branch. It returns the id of whatever
// follow-up it applied, or "" when nothing was configured.
type MergeHandler func(ctx context.Context, projectPath, branch string) (string, error)

type pollEntry struct {
	nextPollAt time.Time
	persistent bool
}

// Poller owns the refresh schedule and the per-project status cache.
type Poller struct {
	fetcher StatusFetcher
	bus     *bus.Bus
	onMerge MergeHandler

	mu       sync.Mutex
	entries  map[string]*pollEntry
	statuses map[string]github.ProjectStatus
	diff     *diffState

	group singleflight.Group

	focusMu     sync.Mutex
	focusCancel context.CancelFunc

	now func() time.Time

	// Overridable in tests.
	tick    time.Duration
	fast    time.Duration
	slow    time.Duration
	backoff time.Duration
}

func New(fetcher StatusFetcher, b *bus.Bus, onMerge MergeHandler) *Poller {
	return &Poller{
		fetcher:  fetcher,
		bus:      b,
		onMerge:  onMerge,
		entries:  make(map[string]*pollEntry),
		statuses: make(map[string]github.ProjectStatus),
		diff:     newDiffState(),
		now:      time.Now,
		tick:     workerTick,
		fast:     fastPollInterval,
		slow:     slowPollInterval,
		backoff:  inFlightBackoff,
	}
}

// SetIntervals overrides the poll cadence from user config. Zero
// values keep the defaults.
func (p *Poller) SetIntervals(fast, slow time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fast > 0 {
		p.fast = fast
	}
	if slow > 0 {
		p.slow = slow
	}
}

// SetTrackedProjects replaces the persistent poll set. Every tracked
// path becomes due immediately; persistent entries that fell off the
// list are dropped along with their diff state, one-shots survive.
func (p *Poller) SetTrackedProjects(paths []string) {
	tracked := make(map[string]bool)
	for _, path := range paths {
		if path = strings.TrimSpace(path); path != "" {
			tracked[path] = true
		}
	}

	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for path, entry := range p.entries {
		if entry.persistent && !tracked[path] {
			delete(p.entries, path)
			delete(p.statuses, path)
		}
	}
	for path := range tracked {
		entry, ok := p.entries[path]
		if !ok {
			entry = &pollEntry{}
			p.entries[path] = entry
		}
		entry.persistent = true
		entry.nextPollAt = now
	}

	active := make(map[string]bool, len(p.entries))
	for path := range p.entries {
		active[path] = true
	}
	p.diff.pruneProjects(active)
}

// RequestRefresh schedules a project due-now. Unknown projects become
// one-shot entries that vanish after a single fetch.
func (p *Poller) RequestRefresh(projectPath string) {
	projectPath = strings.TrimSpace(projectPath)
	if projectPath == "" {
		return
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[projectPath]
	if !ok {
		entry = &pollEntry{persistent: false}
		p.entries[projectPath] = entry
	}
	entry.nextPollAt = now
}

// Status returns the cached status for one project.
func (p *Poller) Status(projectPath string) (github.ProjectStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[projectPath]
	return s, ok
}

// Statuses returns the full status cache.
func (p *Poller) Statuses() map[string]github.ProjectStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]github.ProjectStatus, len(p.statuses))
	for k, v := range p.statuses {
		out[k] = v
	}
	return out
}

// Run drives the worker loop until ctx is cancelled. When gh is
// unavailable the loop parks itself; nothing downstream fires.
func (p *Poller) Run(ctx context.Context) {
	if !p.fetcher.Available(ctx) {
		pollLog.Info("poller_disabled_gh_unavailable")
		return
	}
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, due := range p.takeDue() {
				p.pollProject(ctx, due.path, due.persistent)
			}
		}
	}
}

type dueProject struct {
	path       string
	persistent bool
}

// takeDue collects entries whose deadline passed, pushing each 5s ahead
// so a slow fetch is not re-dispatched by the next tick.
func (p *Poller) takeDue() []dueProject {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	var due []dueProject
	for path, entry := range p.entries {
		if !entry.nextPollAt.After(now) {
			due = append(due, dueProject{path: path, persistent: entry.persistent})
			entry.nextPollAt = now.Add(p.backoff)
		}
	}
	return due
}

// pollProject fetches one project, stores the result, diffs it, and
// reschedules. Failures keep the previous cache entry untouched.
func (p *Poller) pollProject(ctx context.Context, projectPath string, persistent bool) {
	status, err := p.fetchStatus(ctx, projectPath)

	p.mu.Lock()
	entry := p.entries[projectPath]
	if err != nil {
		if entry != nil {
			if persistent {
				entry.nextPollAt = p.now().Add(p.slow)
			} else {
				delete(p.entries, projectPath)
			}
		}
		p.mu.Unlock()
		pollLog.Warn("poll_failed",
			slog.String("project", projectPath),
			slog.String("error", err.Error()))
		return
	}

	p.statuses[projectPath] = status
	transitions := p.diff.checkTransitions(projectPath, status)
	merged := p.diff.mergedPRs(projectPath, status)

	interval := p.slow
	if statusHasPending(status) {
		interval = p.fast
	}
	if entry != nil {
		if persistent {
			entry.nextPollAt = p.now().Add(interval)
		} else {
			delete(p.entries, projectPath)
		}
	}
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.PublishStatusUpdated(bus.StatusUpdated{ProjectPath: projectPath})
		for _, tr := range transitions {
			p.bus.PublishCheckTransition(tr)
		}
	}
	for _, pr := range merged {
		p.handleMerged(ctx, projectPath, pr)
	}
}

// fetchStatus dedups concurrent fetches for one project into a single
// gh call; every waiter sees the same result.
func (p *Poller) fetchStatus(ctx context.Context, projectPath string) (github.ProjectStatus, error) {
	v, err, _ := p.group.Do(projectPath, func() (any, error) {
		status, ferr := p.fetcher.ProjectStatus(ctx, projectPath)
		if ferr != nil {
			return nil, ferr
		}
		return status, nil
	})
	if err != nil {
		return github.ProjectStatus{}, err
	}
	return v.(github.ProjectStatus), nil
}

func (p *Poller) handleMerged(ctx context.Context, projectPath string, pr mergedPR) {
	if p.bus != nil {
		p.bus.PublishPRMerged(bus.PRMerged{
			ProjectPath: projectPath,
			PRNumber:    pr.number,
			Branch:      pr.branch,
		})
	}
	if p.onMerge == nil {
		return
	}
	cardID, err := p.onMerge(ctx, projectPath, pr.branch)
	if err != nil {
		pollLog.Warn("merge_action_failed",
			slog.String("project", projectPath),
			slog.String("branch", pr.branch),
			slog.String("error", err.Error()))
		return
	}
	if cardID != "" {
		pollLog.Info("merge_action_applied",
			slog.String("project", projectPath),
			slog.String("branch", pr.branch),
			slog.String("card", cardID))
	}
}

// statusHasPending reports whether anything in the status is still
// running, which switches the project onto the fast cadence.
func statusHasPending(status github.ProjectStatus) bool {
	for _, branch := range status.BranchRuns {
		if branch.Status.Pending > 0 {
			return true
		}
	}
	for _, checks := range status.PRChecks {
		for _, check := range checks {
			if check.Bucket == "pending" {
				return true
			}
		}
	}
	return false
}

// SetFocus starts a fast loop refreshing one PR's checks every 15s
// while any of them is pending. A new focus replaces the old one.
func (p *Poller) SetFocus(ctx context.Context, projectPath string, prNumber int) {
	p.focusMu.Lock()
	if p.focusCancel != nil {
		p.focusCancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	p.focusCancel = cancel
	p.focusMu.Unlock()

	go p.focusLoop(fctx, projectPath, prNumber)
}

// ClearFocus tears down the focused loop.
func (p *Poller) ClearFocus() {
	p.focusMu.Lock()
	defer p.focusMu.Unlock()
	if p.focusCancel != nil {
		p.focusCancel()
		p.focusCancel = nil
	}
}

func (p *Poller) focusLoop(ctx context.Context, projectPath string, prNumber int) {
	ticker := time.NewTicker(p.fast)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.refreshFocusedChecks(ctx, projectPath, prNumber) {
				return
			}
		}
	}
}

// refreshFocusedChecks refetches one PR's checks and reports whether
// the loop should keep going (something is still pending).
func (p *Poller) refreshFocusedChecks(ctx context.Context, projectPath string, prNumber int) bool {
	key := projectPath + "::" + strconv.Itoa(prNumber)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.fetcher.PRChecks(ctx, projectPath, prNumber)
	})
	if err != nil {
		pollLog.Warn("focused_checks_failed",
			slog.String("project", projectPath),
			slog.Int("pr", prNumber),
			slog.String("error", err.Error()))
		return true
	}
	checks := v.([]github.CheckDetail)

	p.mu.Lock()
	status, ok := p.statuses[projectPath]
	var transitions []bus.CheckTransition
	if ok {
		updated := make(map[int][]github.CheckDetail, len(status.PRChecks)+1)
		for n, c := range status.PRChecks {
			updated[n] = c
		}
		updated[prNumber] = checks
		status.PRChecks = updated
		p.statuses[projectPath] = status
		transitions = p.diff.checkTransitions(projectPath, status)
	}
	p.mu.Unlock()

	if p.bus != nil && ok {
		p.bus.PublishStatusUpdated(bus.StatusUpdated{ProjectPath: projectPath})
		for _, tr := range transitions {
			p.bus.PublishCheckTransition(tr)
		}
	}

	for _, check := range checks {
		if check.Bucket == "pending" {
			return true
		}
	}
	return false
}
