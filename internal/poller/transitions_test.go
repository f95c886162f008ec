package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workdeck/workdeck/internal/github"
)

func checksStatus(prNumber int, buckets map[string]string) github.ProjectStatus {
	var checks []github.CheckDetail
	for key, bucket := range buckets {
		name, workflow := key, "ci"
		checks = append(checks, github.CheckDetail{Name: name, Workflow: workflow, Bucket: bucket})
	}
	return github.ProjectStatus{
		PRChecks: map[int][]github.CheckDetail{prNumber: checks},
	}
}

func prStatus(number int, branch, state string) github.ProjectStatus {
	return github.ProjectStatus{
		PRs: []github.PR{{Number: number, HeadRefName: branch, State: state}},
	}
}

func TestPendingToPassFiresExactlyOnce(t *testing.T) {
	d := newDiffState()

	// First observation records a baseline and never fires.
	assert.Empty(t, d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending"})))
	// Unchanged pending fires nothing.
	assert.Empty(t, d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending"})))

	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"}))
	require.Len(t, transitions, 1)
	tr := transitions[0]
	assert.Equal(t, "/repo", tr.ProjectPath)
	assert.Equal(t, 1, tr.PRNumber)
	assert.Equal(t, "build", tr.Check)
	assert.Equal(t, "ci", tr.Workflow)
	assert.Equal(t, "pending", tr.From)
	assert.Equal(t, "pass", tr.To)

	// The pass is now the baseline; re-reading it fires nothing.
	assert.Empty(t, d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"})))
}

func TestFirstObservationNeverFires(t *testing.T) {
	d := newDiffState()
	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"}))
	assert.Empty(t, transitions, "a check first seen passing has no edge to report")
}

func TestTerminalToTerminalFires(t *testing.T) {
	d := newDiffState()
	d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "fail"}))

	// A manual re-run flipping fail to pass is worth telling the user.
	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"}))
	require.Len(t, transitions, 1)
	assert.Equal(t, "fail", transitions[0].From)
	assert.Equal(t, "pass", transitions[0].To)
}

func TestTransitionIntoPendingDoesNotFire(t *testing.T) {
	d := newDiffState()
	d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"}))

	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending"}))
	assert.Empty(t, transitions, "a re-run starting is not a verdict")
}

func TestChecksTransitionIndependently(t *testing.T) {
	d := newDiffState()
	d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending", "lint": "pending"}))

	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass", "lint": "pending"}))
	require.Len(t, transitions, 1)
	assert.Equal(t, "build", transitions[0].Check)

	transitions = d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass", "lint": "fail"}))
	require.Len(t, transitions, 1)
	assert.Equal(t, "lint", transitions[0].Check)
}

func TestClosedPRHistoryIsPruned(t *testing.T) {
	d := newDiffState()
	d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending"}))

	// PR 1 disappears from the listing; its history must go with it.
	d.checkTransitions("/repo", github.ProjectStatus{PRChecks: map[int][]github.CheckDetail{}})

	transitions := d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pass"}))
	assert.Empty(t, transitions, "a reappearing PR number starts from a clean baseline")
}

func TestMergedFiresOnExplicitEdgeOnly(t *testing.T) {
	d := newDiffState()

	// OPEN, OPEN, MERGED: exactly one automation trigger.
	assert.Empty(t, d.mergedPRs("/repo", prStatus(42, "feature/x", "OPEN")))
	assert.Empty(t, d.mergedPRs("/repo", prStatus(42, "feature/x", "OPEN")))

	merged := d.mergedPRs("/repo", prStatus(42, "feature/x", "MERGED"))
	require.Len(t, merged, 1)
	assert.Equal(t, 42, merged[0].number)
	assert.Equal(t, "feature/x", merged[0].branch)

	assert.Empty(t, d.mergedPRs("/repo", prStatus(42, "feature/x", "MERGED")))
}

func TestFirstSeenMergedDoesNotFire(t *testing.T) {
	d := newDiffState()
	merged := d.mergedPRs("/repo", prStatus(7, "old-branch", "MERGED"))
	assert.Empty(t, merged, "no recorded prior state, no edge")
}

func TestMergedStateIsolatedPerProject(t *testing.T) {
	d := newDiffState()
	d.mergedPRs("/repo-a", prStatus(1, "shared", "OPEN"))

	// Same PR number under another project has its own history.
	merged := d.mergedPRs("/repo-b", prStatus(1, "shared", "MERGED"))
	assert.Empty(t, merged)

	merged = d.mergedPRs("/repo-a", prStatus(1, "shared", "MERGED"))
	require.Len(t, merged, 1)
}

func TestPruneProjectsDropsDiffState(t *testing.T) {
	d := newDiffState()
	d.checkTransitions("/repo", checksStatus(1, map[string]string{"build": "pending"}))
	d.mergedPRs("/repo", prStatus(1, "b", "OPEN"))

	d.pruneProjects(map[string]bool{"/other": true})

	assert.Empty(t, d.buckets)
	assert.Empty(t, d.prStates)
}

func TestStatusHasPending(t *testing.T) {
	assert.False(t, statusHasPending(github.ProjectStatus{}))

	withRun := github.ProjectStatus{
		BranchRuns: map[string]github.BranchRuns{
			"main": {Status: github.ChecksStatus{Pending: 1}},
		},
	}
	assert.True(t, statusHasPending(withRun))

	withCheck := github.ProjectStatus{
		PRChecks: map[int][]github.CheckDetail{
			42: {{Name: "CI", Bucket: "pending"}},
		},
	}
	assert.True(t, statusHasPending(withCheck))

	allDone := github.ProjectStatus{
		BranchRuns: map[string]github.BranchRuns{
			"main": {Status: github.ChecksStatus{Passing: 2}},
		},
		PRChecks: map[int][]github.CheckDetail{
			42: {{Name: "CI", Bucket: "pass"}},
		},
	}
	assert.False(t, statusHasPending(allDone))
}
