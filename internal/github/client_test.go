package github

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeRunner answers commands by joined argv prefix.
type fakeRunner struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeRunner) run(_ context.Context, _ string, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	for prefix, err := range f.errs {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return "", errors.New("unexpected command: " + key)
}

func newTestClient(f *fakeRunner) *Client {
	return &Client{
		run:     f.run,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func TestAvailableProbedOnce(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"gh auth status": ""}}
	c := newTestClient(f)

	ctx := context.Background()
	assert.True(t, c.Available(ctx))
	assert.True(t, c.Available(ctx))
	assert.Len(t, f.calls, 1, "auth status probed once per process")
}

func TestAvailableFalseWhenSignedOut(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{"gh auth status": errors.New("not logged in")}}
	c := newTestClient(f)
	assert.False(t, c.Available(context.Background()))
}

func TestProjectStatusWithoutRemoteIsEmpty(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{
		"git remote get-url origin": errors.New("fatal: not a git repository"),
	}}
	c := newTestClient(f)

	status, err := c.ProjectStatus(context.Background(), "/plain/dir")
	require.NoError(t, err)
	assert.Nil(t, status.Remote)
	assert.Empty(t, status.PRs)
	assert.Empty(t, status.BranchRuns)
	assert.Empty(t, status.PRChecks)
}

func TestProjectStatusFetchesChecksForOpenPRsOnly(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{
		"git remote get-url origin": "git@github.com:user/repo.git",
		"gh pr list": `[
			{"number": 1, "state": "OPEN", "headRefName": "feat"},
			{"number": 2, "state": "MERGED", "headRefName": "done"}
		]`,
		"gh run list":    `[]`,
		"gh pr checks 1": `[{"name": "build", "bucket": "pass", "workflow": "CI"}]`,
	}}
	c := newTestClient(f)

	status, err := c.ProjectStatus(context.Background(), "/repo")
	require.NoError(t, err)
	require.NotNil(t, status.Remote)
	assert.Equal(t, "user", status.Remote.Owner)
	require.Len(t, status.PRs, 2)

	require.Contains(t, status.PRChecks, 1)
	assert.NotContains(t, status.PRChecks, 2, "no checks fetch for closed PRs")
	assert.Equal(t, "pass", status.PRChecks[1][0].Bucket)

	for _, call := range f.calls {
		assert.False(t, strings.HasPrefix(call, "gh pr checks 2"), "unexpected call: %s", call)
	}
}

func TestProjectStatusSurfacesHardFailure(t *testing.T) {
	f := &fakeRunner{
		responses: map[string]string{"git remote get-url origin": "git@github.com:u/r.git"},
		errs:      map[string]error{"gh pr list": errors.New("connection reset by peer")},
	}
	c := newTestClient(f)
	_, err := c.ProjectStatus(context.Background(), "/repo")
	assert.Error(t, err)
}

func TestListPRsBenignErrorsYieldEmpty(t *testing.T) {
	for _, msg := range []string{
		"fatal: not a git repository (or any of the parent directories)",
		"no GitHub remotes found",
	} {
		f := &fakeRunner{
			responses: map[string]string{"git remote get-url origin": "git@github.com:u/r.git"},
			errs:      map[string]error{"gh pr list": errors.New(msg)},
		}
		c := newTestClient(f)
		prs, err := c.listPRs(context.Background(), "/repo")
		require.NoError(t, err, msg)
		assert.Empty(t, prs)
	}
}

func TestPRChecksBenignErrorsYieldEmpty(t *testing.T) {
	for _, msg := range []string{
		"no checks reported on the 'feat' branch",
		"no pull requests found for branch",
	} {
		f := &fakeRunner{errs: map[string]error{"gh pr checks": errors.New(msg)}}
		c := newTestClient(f)
		checks, err := c.PRChecks(context.Background(), "/repo", 5)
		require.NoError(t, err, msg)
		assert.Empty(t, checks)
	}
}

func TestPRChecksRealErrorSurfaces(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{"gh pr checks": errors.New("API rate limit exceeded")}}
	c := newTestClient(f)
	_, err := c.PRChecks(context.Background(), "/repo", 5)
	assert.Error(t, err)
}

func TestUpdatePRBranchHitsAPIEndpoint(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{
		"git remote get-url origin": "https://github.com/acme/widgets.git",
		"gh api":                    "",
	}}
	c := newTestClient(f)

	require.NoError(t, c.UpdatePRBranch(context.Background(), "/repo", 12))
	assert.Contains(t, f.calls, "gh api repos/acme/widgets/pulls/12/update-branch -X PUT")
}

func TestMutationCommands(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"gh": ""}}
	c := newTestClient(f)
	ctx := context.Background()

	require.NoError(t, c.RerunWorkflow(ctx, "/repo", 99))
	require.NoError(t, c.MarkPRReady(ctx, "/repo", 7))
	require.NoError(t, c.MergePR(ctx, "/repo", 7))

	assert.Contains(t, f.calls, "gh run rerun 99 --failed")
	assert.Contains(t, f.calls, "gh pr ready 7")
	assert.Contains(t, f.calls, "gh pr merge 7 --squash")
}

func TestLimiterRespectsContext(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"gh": "[]"}}
	c := &Client{run: f.run, limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.gh(ctx, "/repo", "pr", "list")
	assert.Error(t, err)
}
