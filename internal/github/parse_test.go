package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteSSH(t *testing.T) {
	remote, err := ParseRemote("git@github.com:user/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "user", remote.Owner)
	assert.Equal(t, "repo", remote.Repo)
	assert.Equal(t, "https://github.com/user/repo", remote.HTMLURL)
}

func TestParseRemoteHTTPS(t *testing.T) {
	remote, err := ParseRemote("https://github.com/user/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "user", remote.Owner)
	assert.Equal(t, "repo", remote.Repo)
	assert.Equal(t, "https://github.com/user/repo", remote.HTMLURL)
}

func TestParseRemoteHTTPSNoGitSuffix(t *testing.T) {
	remote, err := ParseRemote("https://github.com/user/repo")
	require.NoError(t, err)
	assert.Equal(t, "user", remote.Owner)
	assert.Equal(t, "repo", remote.Repo)
}

func TestParseRemoteEnterprise(t *testing.T) {
	remote, err := ParseRemote("https://github.mycompany.com/user/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "https://github.mycompany.com/user/repo", remote.HTMLURL)

	remote, err = ParseRemote("git@github.mycompany.com:user/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "https://github.mycompany.com/user/repo", remote.HTMLURL)
}

func TestParseRemoteHonorsGHHost(t *testing.T) {
	t.Setenv("GH_HOST", "git.corp.example")
	remote, err := ParseRemote("git@git.corp.example:team/service.git")
	require.NoError(t, err)
	assert.Equal(t, "git.corp.example", remote.Host)
}

func TestParseRemoteRejectsNonGitHub(t *testing.T) {
	_, err := ParseRemote("https://gitlab.com/user/repo.git")
	assert.Error(t, err)

	_, err = ParseRemote("git@gitlab.com:user/repo.git")
	assert.Error(t, err)
}

func TestDeriveOverall(t *testing.T) {
	assert.Equal(t, "success", deriveOverall(3, 0, 0).Overall)
	assert.Equal(t, "failure", deriveOverall(2, 1, 0).Overall)
	assert.Equal(t, "pending", deriveOverall(2, 0, 1).Overall)
	// Failing wins over pending.
	assert.Equal(t, "failure", deriveOverall(1, 1, 1).Overall)
	assert.Equal(t, "none", deriveOverall(0, 0, 0).Overall)
	assert.Equal(t, 3, deriveOverall(1, 1, 1).Total)
}

func TestDeriveBranchStatus(t *testing.T) {
	run := func(status, conclusion string) WorkflowRun {
		return WorkflowRun{Name: "CI", Status: status, Conclusion: conclusion}
	}

	assert.Equal(t, "success", deriveBranchStatus([]WorkflowRun{run("completed", "success")}).Overall)
	assert.Equal(t, 1, deriveBranchStatus([]WorkflowRun{run("completed", "skipped")}).Passing)
	assert.Equal(t, "failure", deriveBranchStatus([]WorkflowRun{run("completed", "failure")}).Overall)
	assert.Equal(t, "pending", deriveBranchStatus([]WorkflowRun{run("in_progress", "")}).Overall)
	assert.Equal(t, "none", deriveBranchStatus(nil).Overall)

	mixed := deriveBranchStatus([]WorkflowRun{
		run("completed", "success"),
		run("completed", "failure"),
		run("in_progress", ""),
	})
	assert.Equal(t, "failure", mixed.Overall)
	assert.Equal(t, 1, mixed.Passing)
	assert.Equal(t, 1, mixed.Failing)
	assert.Equal(t, 1, mixed.Pending)
}

func TestGroupRunsByBranchDedupesPerWorkflow(t *testing.T) {
	runs := []WorkflowRun{
		{ID: 1, Name: "CI", HeadBranch: "main", Status: "completed", Conclusion: "success", CreatedAt: "2025-01-01T00:00:00Z"},
		{ID: 2, Name: "CI", HeadBranch: "main", Status: "completed", Conclusion: "failure", CreatedAt: "2025-01-02T00:00:00Z"},
		{ID: 3, Name: "Lint", HeadBranch: "feature", Status: "completed", Conclusion: "success", CreatedAt: "2025-01-01T00:00:00Z"},
	}

	grouped := GroupRunsByBranch(runs)
	require.Len(t, grouped, 2)

	main := grouped["main"]
	require.Len(t, main.Runs, 1)
	assert.Equal(t, int64(2), main.Runs[0].ID, "only the newest CI run survives")
	assert.Equal(t, "failure", main.Status.Overall)

	assert.Equal(t, "success", grouped["feature"].Status.Overall)
}

func TestGroupRunsByBranchEmpty(t *testing.T) {
	assert.Empty(t, GroupRunsByBranch(nil))
}

func TestParsePRsFull(t *testing.T) {
	data := `[{
		"number": 42,
		"title": "Fix bug",
		"state": "OPEN",
		"url": "https://github.com/user/repo/pull/42",
		"isDraft": false,
		"headRefName": "fix-bug",
		"reviewDecision": "APPROVED",
		"statusCheckRollup": [{"conclusion": "SUCCESS"}],
		"mergeStateStatus": "CLEAN"
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)
	require.Len(t, prs, 1)

	pr := prs[0]
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "fix-bug", pr.HeadRefName)
	assert.Equal(t, "APPROVED", pr.ReviewDecision)
	assert.Equal(t, 1, pr.ChecksStatus.Passing)
	assert.True(t, pr.Actions.CanMerge)
	assert.False(t, pr.Actions.CanMarkReady)
	assert.False(t, pr.Actions.CanUpdateBranch)
}

func TestParsePRsMinimal(t *testing.T) {
	data := `[{"number": 1, "state": "MERGED", "isDraft": true, "headRefName": "main"}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)

	pr := prs[0]
	assert.True(t, pr.IsDraft)
	assert.Equal(t, "none", pr.ChecksStatus.Overall)
	// Nothing is actionable on a merged PR.
	assert.False(t, pr.Actions.CanMerge)
	assert.False(t, pr.Actions.CanMarkReady)
	assert.False(t, pr.Actions.CanUpdateBranch)
}

func TestParsePRsDraftOpenCanMarkReady(t *testing.T) {
	data := `[{
		"number": 7,
		"state": "OPEN",
		"isDraft": true,
		"headRefName": "wip",
		"statusCheckRollup": [{"state": "PENDING"}],
		"mergeStateStatus": "BEHIND"
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)

	pr := prs[0]
	assert.False(t, pr.Actions.CanMerge)
	assert.True(t, pr.Actions.CanMarkReady)
	assert.True(t, pr.Actions.CanUpdateBranch)
}

func TestParsePRsBlocksMergeOnPendingOrFailing(t *testing.T) {
	data := `[{
		"number": 8,
		"state": "OPEN",
		"isDraft": false,
		"headRefName": "feature",
		"statusCheckRollup": [{"state": "PENDING"}, {"conclusion": "FAILURE"}],
		"mergeStateStatus": "CLEAN"
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)
	assert.False(t, prs[0].Actions.CanMerge)
}

func TestParsePRsDirtyBlocksMerge(t *testing.T) {
	data := `[{
		"number": 9,
		"state": "OPEN",
		"isDraft": false,
		"headRefName": "conflicted",
		"statusCheckRollup": [{"conclusion": "SUCCESS"}],
		"mergeStateStatus": "DIRTY"
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)
	assert.False(t, prs[0].Actions.CanMerge)
}

func TestParseRollupConclusionWinsOverState(t *testing.T) {
	data := `[{
		"number": 1,
		"state": "OPEN",
		"headRefName": "b",
		"statusCheckRollup": [{"conclusion": "SUCCESS", "state": "FAILURE"}]
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, prs[0].ChecksStatus.Passing)
	assert.Equal(t, 0, prs[0].ChecksStatus.Failing)
}

func TestParseRollupFailureSynonyms(t *testing.T) {
	data := `[{
		"number": 1,
		"state": "OPEN",
		"headRefName": "b",
		"statusCheckRollup": [
			{"conclusion": "TIMED_OUT"},
			{"conclusion": "ACTION_REQUIRED"},
			{"conclusion": "STALE"},
			{"state": "ERROR"}
		]
	}]`
	prs, err := parsePRs([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 4, prs[0].ChecksStatus.Failing)
}
