package github

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
)

// ParseRemote extracts the GitHub coordinates out of a git remote URL.
// SSH ("git@host:owner/repo.git") and HTTP(S) forms are accepted, for
// github.com and enterprise hosts (github.* subdomains plus whatever
// GH_HOST/GITHUB_HOST point at).
func ParseRemote(remoteURL string) (Remote, error) {
	host, owner, repo, err := splitRemote(remoteURL)
	if err != nil {
		return Remote{}, err
	}
	return Remote{
		Host:    host,
		Owner:   owner,
		Repo:    repo,
		HTMLURL: fmt.Sprintf("https://%s/%s/%s", host, owner, repo),
	}, nil
}

func splitRemote(remoteURL string) (host, owner, repo string, err error) {
	// SSH form: user@host:owner/repo(.git)
	if prefix, rest, ok := strings.Cut(remoteURL, ":"); ok && !strings.Contains(prefix, "//") {
		if _, h, ok := strings.Cut(prefix, "@"); ok {
			if !supportedHost(h) {
				return "", "", "", fmt.Errorf("not a GitHub remote: %s", remoteURL)
			}
			rest = strings.TrimSuffix(rest, ".git")
			o, r, ok := strings.Cut(rest, "/")
			if !ok || o == "" || r == "" {
				return "", "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
			}
			return h, o, r, nil
		}
	}

	parsed, perr := url.Parse(remoteURL)
	if perr != nil || parsed.Host == "" {
		return "", "", "", fmt.Errorf("cannot parse remote: %s", remoteURL)
	}
	if !supportedHost(parsed.Hostname()) {
		return "", "", "", fmt.Errorf("not a GitHub remote: %s", remoteURL)
	}
	var segments []string
	for _, s := range strings.Split(parsed.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return "", "", "", fmt.Errorf("cannot parse HTTPS remote: %s", remoteURL)
	}
	return parsed.Hostname(), segments[0], strings.TrimSuffix(segments[1], ".git"), nil
}

func supportedHost(host string) bool {
	h := strings.ToLower(host)
	if h == "github.com" {
		return true
	}
	if strings.HasPrefix(h, "github.") || strings.HasSuffix(h, ".github.com") ||
		strings.Contains(h, ".github.") {
		return true
	}
	if v := os.Getenv("GH_HOST"); v != "" && strings.EqualFold(host, v) {
		return true
	}
	if v := os.Getenv("GITHUB_HOST"); v != "" && strings.EqualFold(host, v) {
		return true
	}
	return false
}

func deriveOverall(passing, failing, pending int) ChecksStatus {
	total := passing + failing + pending
	overall := "none"
	switch {
	case total == 0:
	case failing > 0:
		overall = "failure"
	case pending > 0:
		overall = "pending"
	default:
		overall = "success"
	}
	return ChecksStatus{
		Overall: overall,
		Total:   total,
		Passing: passing,
		Failing: failing,
		Pending: pending,
	}
}

// parseRollup buckets statusCheckRollup contexts. gh mixes check runs
// (conclusion) and commit statuses (state) in one array.
func parseRollup(rollup []json.RawMessage) ChecksStatus {
	var passing, failing, pending int
	for _, raw := range rollup {
		var ctx struct {
			Conclusion string `json:"conclusion"`
			State      string `json:"state"`
		}
		if err := json.Unmarshal(raw, &ctx); err != nil {
			pending++
			continue
		}
		state := ctx.Conclusion
		if state == "" {
			state = ctx.State
		}
		switch strings.ToUpper(state) {
		case "SUCCESS", "NEUTRAL", "SKIPPED":
			passing++
		case "FAILURE", "ERROR", "TIMED_OUT", "CANCELLED", "ACTION_REQUIRED", "STALE":
			failing++
		default:
			pending++
		}
	}
	return deriveOverall(passing, failing, pending)
}

func deriveBranchStatus(runs []WorkflowRun) ChecksStatus {
	var passing, failing, pending int
	for _, run := range runs {
		if run.Status != "completed" {
			pending++
			continue
		}
		switch run.Conclusion {
		case "success", "skipped", "neutral":
			passing++
		case "failure", "cancelled", "timed_out":
			failing++
		default:
			pending++
		}
	}
	return deriveOverall(passing, failing, pending)
}

// GroupRunsByBranch keeps the newest run per workflow on each branch
// and derives the branch verdict from the survivors.
func GroupRunsByBranch(runs []WorkflowRun) map[string]BranchRuns {
	byBranch := make(map[string][]WorkflowRun)
	for _, run := range runs {
		byBranch[run.HeadBranch] = append(byBranch[run.HeadBranch], run)
	}

	result := make(map[string]BranchRuns, len(byBranch))
	for branch, branchRuns := range byBranch {
		sort.SliceStable(branchRuns, func(i, j int) bool {
			return branchRuns[i].CreatedAt > branchRuns[j].CreatedAt
		})
		seen := make(map[string]bool)
		deduped := branchRuns[:0]
		for _, run := range branchRuns {
			if seen[run.Name] {
				continue
			}
			seen[run.Name] = true
			deduped = append(deduped, run)
		}
		result[branch] = BranchRuns{
			Status: deriveBranchStatus(deduped),
			Runs:   deduped,
		}
	}
	return result
}

func derivePRActions(state string, isDraft bool, mergeState string, checks ChecksStatus) PRActions {
	isOpen := state == "OPEN"
	return PRActions{
		CanMerge: isOpen && !isDraft && mergeState != "DIRTY" &&
			checks.Failing == 0 && checks.Pending == 0,
		CanMarkReady:    isOpen && isDraft,
		CanUpdateBranch: isOpen && mergeState == "BEHIND",
	}
}

// parsePRs decodes the `gh pr list` JSON payload, deriving the per-PR
// checks verdict and applicable actions.
func parsePRs(data []byte) ([]PR, error) {
	var raw []struct {
		Number            int               `json:"number"`
		Title             string            `json:"title"`
		State             string            `json:"state"`
		URL               string            `json:"url"`
		IsDraft           bool              `json:"isDraft"`
		HeadRefName       string            `json:"headRefName"`
		ReviewDecision    string            `json:"reviewDecision"`
		StatusCheckRollup []json.RawMessage `json:"statusCheckRollup"`
		MergeStateStatus  string            `json:"mergeStateStatus"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding pr list: %w", err)
	}

	prs := make([]PR, 0, len(raw))
	for _, r := range raw {
		state := r.State
		if state == "" {
			state = "OPEN"
		}
		checks := parseRollup(r.StatusCheckRollup)
		prs = append(prs, PR{
			Number:           r.Number,
			Title:            r.Title,
			State:            state,
			URL:              r.URL,
			IsDraft:          r.IsDraft,
			HeadRefName:      r.HeadRefName,
			ReviewDecision:   r.ReviewDecision,
			ChecksStatus:     checks,
			MergeStateStatus: r.MergeStateStatus,
			Actions:          derivePRActions(state, r.IsDraft, r.MergeStateStatus, checks),
		})
	}
	return prs, nil
}
