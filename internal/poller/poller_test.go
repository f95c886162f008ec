package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/github"
)

type statusResult struct {
	status github.ProjectStatus
	err    error
}

// fakeFetcher serves a scripted sequence of results; the last one
// repeats. An optional delay simulates slow gh calls.
type fakeFetcher struct {
	mu        sync.Mutex
	available bool
	results   []statusResult
	calls     int
	delay     time.Duration
	checks    []github.CheckDetail
	checkPRs  []int
	checkErr  error
}

func (f *fakeFetcher) Available(context.Context) bool { return f.available }

func (f *fakeFetcher) ProjectStatus(context.Context, string) (github.ProjectStatus, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	if idx < 0 {
		return github.ProjectStatus{}, nil
	}
	r := f.results[idx]
	return r.status, r.err
}

func (f *fakeFetcher) PRChecks(_ context.Context, _ string, prNumber int) ([]github.CheckDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.checkPRs = append(f.checkPRs, prNumber)
	return f.checks, f.checkErr
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) checkedPRs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.checkPRs...)
}

func (f *fakeFetcher) setChecks(checks []github.CheckDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = checks
}

func newTestPoller(f *fakeFetcher, onMerge MergeHandler) *Poller {
	p := New(f, nil, onMerge)
	p.tick = 5 * time.Millisecond
	p.fast = 20 * time.Millisecond
	p.slow = 50 * time.Millisecond
	p.backoff = 10 * time.Millisecond
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestOneShotRefreshFetchesOnceAndDrops(t *testing.T) {
	f := &fakeFetcher{available: true, results: []statusResult{{}}}
	p := newTestPoller(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.RequestRefresh("/repo")
	waitFor(t, func() bool { return f.callCount() >= 1 }, "one-shot refresh never fetched")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.callCount(), "a one-shot entry must not be rescheduled")

	p.mu.Lock()
	_, stillThere := p.entries["/repo"]
	p.mu.Unlock()
	assert.False(t, stillThere)
}

func TestTrackedProjectKeepsPolling(t *testing.T) {
	f := &fakeFetcher{available: true, results: []statusResult{{}}}
	p := newTestPoller(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.SetTrackedProjects([]string{"/repo"})
	waitFor(t, func() bool { return f.callCount() >= 3 }, "tracked project stopped being polled")
}

func TestUnavailableGhParksTheLoop(t *testing.T) {
	f := &fakeFetcher{available: false, results: []statusResult{{}}}
	p := newTestPoller(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.SetTrackedProjects([]string{"/repo"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.callCount())
}

func TestTakeDueBacksOffInFlightEntries(t *testing.T) {
	f := &fakeFetcher{available: true}
	p := newTestPoller(f, nil)
	p.SetTrackedProjects([]string{"/repo"})

	due := p.takeDue()
	require.Len(t, due, 1)
	assert.Empty(t, p.takeDue(), "an in-flight entry must not be re-dispatched")
}

func TestFailureKeepsPriorCache(t *testing.T) {
	first := github.ProjectStatus{PRs: []github.PR{{Number: 1, State: "OPEN"}}}
	second := github.ProjectStatus{PRs: []github.PR{{Number: 1, State: "MERGED"}}}
	f := &fakeFetcher{available: true, results: []statusResult{
		{status: first},
		{err: errors.New("gh timed out")},
		{err: errors.New("gh timed out")},
		{status: second},
	}}
	p := newTestPoller(f, nil)
	p.SetTrackedProjects([]string{"/repo"})
	ctx := context.Background()

	p.pollProject(ctx, "/repo", true)
	got, ok := p.Status("/repo")
	require.True(t, ok)
	assert.Equal(t, first, got)

	p.pollProject(ctx, "/repo", true)
	p.pollProject(ctx, "/repo", true)
	got, _ = p.Status("/repo")
	assert.Equal(t, first, got, "failed fetches must not clobber the cache")

	p.pollProject(ctx, "/repo", true)
	got, _ = p.Status("/repo")
	assert.Equal(t, second, got, "the recovery fetch replaces the cache wholesale")
}

func TestConcurrentFetchesCollapseToOneCall(t *testing.T) {
	f := &fakeFetcher{available: true, delay: 50 * time.Millisecond, results: []statusResult{{}}}
	p := newTestPoller(f, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.fetchStatus(ctx, "/repo")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.callCount(), "concurrent fetches for one project share one gh call")
}

func TestMergeHandlerFiresOncePerMergeEdge(t *testing.T) {
	open := github.ProjectStatus{PRs: []github.PR{{Number: 42, HeadRefName: "feature/x", State: "OPEN"}}}
	merged := github.ProjectStatus{PRs: []github.PR{{Number: 42, HeadRefName: "feature/x", State: "MERGED"}}}
	f := &fakeFetcher{available: true, results: []statusResult{
		{status: open}, {status: open}, {status: merged}, {status: merged},
	}}

	var invocations atomic.Int32
	var gotBranch string
	p := newTestPoller(f, func(_ context.Context, projectPath, branch string) (string, error) {
		invocations.Add(1)
		gotBranch = branch
		return "card-1", nil
	})
	p.SetTrackedProjects([]string{"/repo"})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p.pollProject(ctx, "/repo", true)
	}
	assert.Equal(t, int32(1), invocations.Load())
	assert.Equal(t, "feature/x", gotBranch)
}

func TestFirstObservationMergedDoesNotTriggerAutomation(t *testing.T) {
	merged := github.ProjectStatus{PRs: []github.PR{{Number: 7, HeadRefName: "done", State: "MERGED"}}}
	f := &fakeFetcher{available: true, results: []statusResult{{status: merged}}}

	var invocations atomic.Int32
	p := newTestPoller(f, func(context.Context, string, string) (string, error) {
		invocations.Add(1)
		return "", nil
	})
	p.SetTrackedProjects([]string{"/repo"})

	p.pollProject(context.Background(), "/repo", true)
	assert.Equal(t, int32(0), invocations.Load())
}

func TestPendingStatusPicksFastInterval(t *testing.T) {
	pending := github.ProjectStatus{
		PRChecks: map[int][]github.CheckDetail{1: {{Name: "CI", Bucket: "pending"}}},
	}
	f := &fakeFetcher{available: true, results: []statusResult{{status: pending}, {}}}
	p := newTestPoller(f, nil)

	fixed := time.Unix(5000, 0)
	p.now = func() time.Time { return fixed }
	p.SetTrackedProjects([]string{"/repo"})
	ctx := context.Background()

	p.pollProject(ctx, "/repo", true)
	p.mu.Lock()
	next := p.entries["/repo"].nextPollAt
	p.mu.Unlock()
	assert.Equal(t, fixed.Add(p.fast), next, "pending work polls on the fast cadence")

	p.pollProject(ctx, "/repo", true)
	p.mu.Lock()
	next = p.entries["/repo"].nextPollAt
	p.mu.Unlock()
	assert.Equal(t, fixed.Add(p.slow), next, "settled work polls on the slow cadence")
}

func TestUntrackingPrunesCacheAndDiffState(t *testing.T) {
	open := github.ProjectStatus{PRs: []github.PR{{Number: 1, HeadRefName: "b", State: "OPEN"}}}
	f := &fakeFetcher{available: true, results: []statusResult{{status: open}}}
	p := newTestPoller(f, nil)
	p.SetTrackedProjects([]string{"/repo"})
	p.pollProject(context.Background(), "/repo", true)

	p.SetTrackedProjects(nil)

	_, ok := p.Status("/repo")
	assert.False(t, ok)
	assert.Empty(t, p.diff.prStates)
}

func TestDispatcherCollapsesBurstsToOneRefresh(t *testing.T) {
	f := &fakeFetcher{available: true}
	p := newTestPoller(f, nil)
	d := NewDispatcher(p)
	d.window = 10 * time.Millisecond

	d.Request("/repo", "git-watcher", "git-dir-change")
	d.Request("/repo", "ui", "manual")
	d.Request("/repo", "git-watcher", "git-dir-change")

	waitFor(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.entries) > 0
	}, "debounced refresh never flushed")

	p.mu.Lock()
	entries := len(p.entries)
	p.mu.Unlock()
	assert.Equal(t, 1, entries, "a burst collapses to one scheduled refresh")

	d.mu.Lock()
	pendingLeft := len(d.pending)
	d.mu.Unlock()
	assert.Equal(t, 0, pendingLeft, "the flush consumes the pending entry")
}

func TestFocusEscalatesWhileChecksPending(t *testing.T) {
	initial := github.ProjectStatus{
		PRs:      []github.PR{{Number: 42, State: "OPEN", HeadRefName: "feature/x"}},
		PRChecks: map[int][]github.CheckDetail{42: {{Name: "CI", Bucket: "pending"}}},
	}
	f := &fakeFetcher{
		available: true,
		results:   []statusResult{{status: initial}},
		checks:    []github.CheckDetail{{Name: "CI", Bucket: "pending"}},
	}
	p := newTestPoller(f, nil)
	p.SetTrackedProjects([]string{"/repo"})
	p.pollProject(context.Background(), "/repo", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.SetFocus(ctx, "/repo", 42)
	waitFor(t, func() bool { return f.callCount() >= 3 }, "focused PR checks were not refetched")

	f.setChecks([]github.CheckDetail{{Name: "CI", Bucket: "pass"}})
	waitFor(t, func() bool {
		status, ok := p.Status("/repo")
		return ok && len(status.PRChecks[42]) == 1 && status.PRChecks[42][0].Bucket == "pass"
	}, "settled checks never spliced into the cached status")

	// The fetch that saw everything settled is the loop's last one.
	time.Sleep(3 * p.fast)
	settled := f.callCount()
	time.Sleep(5 * p.fast)
	assert.Equal(t, settled, f.callCount(), "the focus loop must stop once nothing is pending")
}

func TestClearFocusTearsDownTheLoop(t *testing.T) {
	f := &fakeFetcher{available: true, checks: []github.CheckDetail{{Name: "CI", Bucket: "pending"}}}
	p := newTestPoller(f, nil)

	p.SetFocus(context.Background(), "/repo", 42)
	waitFor(t, func() bool { return f.callCount() >= 1 }, "focus loop never started")

	p.ClearFocus()
	time.Sleep(2 * p.fast)
	settled := f.callCount()
	time.Sleep(5 * p.fast)
	assert.Equal(t, settled, f.callCount(), "a cleared focus must stop fetching")
}

func TestNewFocusReplacesThePriorOne(t *testing.T) {
	f := &fakeFetcher{available: true, checks: []github.CheckDetail{{Name: "CI", Bucket: "pending"}}}
	p := newTestPoller(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.SetFocus(ctx, "/repo", 1)
	p.SetFocus(ctx, "/repo", 2)

	waitFor(t, func() bool { return len(f.checkedPRs()) >= 2 }, "replacement focus never fetched")
	for _, pr := range f.checkedPRs() {
		assert.Equal(t, 2, pr, "the replaced focus must not keep fetching")
	}
	p.ClearFocus()
}

func TestMergeEventSchedulesCacheRefresh(t *testing.T) {
	f := &fakeFetcher{available: true}
	p := newTestPoller(f, nil)
	d := NewDispatcher(p)
	d.window = 10 * time.Millisecond

	b := bus.New()
	defer b.Close()
	d.Attach(b)

	b.PublishPRMerged(bus.PRMerged{ProjectPath: "/repo", PRNumber: 42, Branch: "feature/x"})

	waitFor(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, ok := p.entries["/repo"]
		return ok
	}, "a merged PR must schedule a refresh of the project's cache")
}

func TestDispatcherIgnoresEmptyProject(t *testing.T) {
	d := NewDispatcher(nil)
	d.Request("", "ui", "manual")
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.pending)
}
