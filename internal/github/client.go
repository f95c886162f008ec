// Package github wraps the gh CLI. There is no token store here: gh
// owns auth, and when gh is missing or signed out every dependent path
// degrades to "no data" rather than erroring.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/workdeck/workdeck/internal/logging"
)

var ghLog = logging.ForComponent(logging.CompGitHub)

// runFunc executes an external command and returns its trimmed stdout.
// A non-zero exit surfaces as an error whose message is the trimmed
// stderr. Injectable for tests.
type runFunc func(ctx context.Context, dir, name string, args ...string) (string, error)

func execRun(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Client shells out to gh, rate-limited so a burst of refresh requests
// cannot hammer the API.
type Client struct {
	run     runFunc
	limiter *rate.Limiter

	availOnce sync.Once
	available bool
}

func NewClient() *Client {
	return &Client{
		run:     execRun,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// Available reports whether gh is installed and authenticated. Probed
// once per process; a gh install mid-run is picked up on restart.
func (c *Client) Available(ctx context.Context) bool {
	c.availOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		_, err = c.run(ctx, home, "gh", "auth", "status")
		c.available = err == nil
		if !c.available {
			ghLog.Info("gh_unavailable")
		}
	})
	return c.available
}

func (c *Client) gh(ctx context.Context, dir string, args ...string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.run(ctx, dir, "gh", args...)
}

// RemoteFor resolves the GitHub remote of a checkout from its origin URL.
func (c *Client) RemoteFor(ctx context.Context, path string) (Remote, error) {
	url, err := c.run(ctx, path, "git", "remote", "get-url", "origin")
	if err != nil {
		return Remote{}, err
	}
	return ParseRemote(url)
}

// ProjectStatus gathers everything shown for one project: the remote,
// PRs with derived verdicts and actions, workflow runs grouped per
// branch, and pre-fetched checks for every OPEN PR. A project without a
// GitHub remote yields an empty status, not an error; a real gh failure
// surfaces so callers can keep their previous snapshot.
func (c *Client) ProjectStatus(ctx context.Context, path string) (ProjectStatus, error) {
	status := ProjectStatus{
		PRs:        []PR{},
		BranchRuns: map[string]BranchRuns{},
		PRChecks:   map[int][]CheckDetail{},
	}
	remote, err := c.RemoteFor(ctx, path)
	if err != nil {
		return status, nil
	}
	status.Remote = &remote

	prs, err := c.listPRs(ctx, path)
	if err != nil {
		ghLog.Warn("pr_list_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return ProjectStatus{}, err
	}
	status.PRs = prs

	status.BranchRuns = GroupRunsByBranch(c.listRuns(ctx, path))

	for _, pr := range status.PRs {
		if pr.State != "OPEN" {
			continue
		}
		checks, err := c.PRChecks(ctx, path, pr.Number)
		if err != nil {
			continue
		}
		status.PRChecks[pr.Number] = checks
	}
	return status, nil
}

func (c *Client) listPRs(ctx context.Context, path string) ([]PR, error) {
	const fields = "number,title,state,url,isDraft,headRefName,reviewDecision,statusCheckRollup,mergeStateStatus"
	out, err := c.gh(ctx, path, "pr", "list", "--state", "all", "--limit", "100", "--json", fields)
	if err != nil {
		if benignListError(err) {
			return []PR{}, nil
		}
		return nil, err
	}
	if out == "" {
		return []PR{}, nil
	}
	return parsePRs([]byte(out))
}

func (c *Client) listRuns(ctx context.Context, path string) []WorkflowRun {
	const fields = "databaseId,name,displayTitle,headBranch,status,conclusion,url,event,createdAt,updatedAt"
	out, err := c.gh(ctx, path, "run", "list", "--limit", "200", "--json", fields)
	if err != nil || out == "" {
		return nil
	}
	var runs []WorkflowRun
	if jerr := json.Unmarshal([]byte(out), &runs); jerr != nil {
		return nil
	}
	return runs
}

// PRChecks fetches the per-check detail rows for one PR.
func (c *Client) PRChecks(ctx context.Context, path string, number int) ([]CheckDetail, error) {
	const fields = "name,bucket,completedAt,startedAt,link,workflow,description"
	out, err := c.gh(ctx, path, "pr", "checks", strconv.Itoa(number), "--json", fields)
	if err != nil {
		if benignChecksError(err) {
			return []CheckDetail{}, nil
		}
		return nil, err
	}
	if out == "" {
		return []CheckDetail{}, nil
	}
	var checks []CheckDetail
	if jerr := json.Unmarshal([]byte(out), &checks); jerr != nil {
		return nil, jerr
	}
	return checks, nil
}

// benign errors are states, not failures: a plain directory, a repo
// with no GitHub remote, a PR with nothing configured.
func benignListError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not a git repository") ||
		strings.Contains(msg, "no GitHub remotes") ||
		strings.Contains(msg, "no pull requests")
}

func benignChecksError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no checks") ||
		strings.Contains(msg, "no pull requests")
}

// UpdatePRBranch merges the base branch into the PR head via the API.
func (c *Client) UpdatePRBranch(ctx context.Context, path string, number int) error {
	remote, err := c.RemoteFor(ctx, path)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d/update-branch", remote.Owner, remote.Repo, number)
	_, err = c.gh(ctx, path, "api", endpoint, "-X", "PUT")
	return err
}

// RerunWorkflow re-runs only the failed jobs of a workflow run.
func (c *Client) RerunWorkflow(ctx context.Context, path string, runID int64) error {
	_, err := c.gh(ctx, path, "run", "rerun", strconv.FormatInt(runID, 10), "--failed")
	return err
}

// MarkPRReady flips a draft PR to ready for review.
func (c *Client) MarkPRReady(ctx context.Context, path string, number int) error {
	_, err := c.gh(ctx, path, "pr", "ready", strconv.Itoa(number))
	return err
}

// MergePR squash-merges a PR.
func (c *Client) MergePR(ctx context.Context, path string, number int) error {
	_, err := c.gh(ctx, path, "pr", "merge", strconv.Itoa(number), "--squash")
	return err
}
