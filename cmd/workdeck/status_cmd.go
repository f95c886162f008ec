package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/workdeck/workdeck/internal/git"
	"github.com/workdeck/workdeck/internal/github"
	"github.com/workdeck/workdeck/internal/logging"
)

const statusTimeout = 60 * time.Second

// handleStatus fetches PR and CI status for one project with a fresh
// gh invocation, independent of any running dashboard.
func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	projectFlag := fs.String("project", ".", "project directory to inspect")
	jsonFlag := fs.Bool("json", false, "emit JSON instead of text")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck status [--project <path>] [--json]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	initLogging(false)
	defer logging.Shutdown()

	path, err := filepath.Abs(*projectFlag)
	if err != nil {
		exitErr("resolve path: %v", err)
	}
	if root, rootErr := git.RepoRoot(path); rootErr == nil {
		path = root
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	client := github.NewClient()
	if !client.Available(ctx) {
		exitErr("gh CLI not available or not authenticated (try `gh auth login`)")
	}

	status, err := client.ProjectStatus(ctx, path)
	if err != nil {
		exitErr("fetch status: %v", err)
	}

	if *jsonFlag {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			exitErr("encode status: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	printStatus(path, status)
}

func printStatus(path string, status github.ProjectStatus) {
	if status.Remote != nil {
		fmt.Printf("%s/%s (%s)\n", status.Remote.Owner, status.Remote.Repo, path)
	} else {
		fmt.Printf("%s (no GitHub remote)\n", path)
	}

	if len(status.PRs) == 0 {
		fmt.Println("  no open pull requests")
	}
	for _, pr := range status.PRs {
		state := pr.State
		if pr.IsDraft {
			state = "DRAFT"
		}
		fmt.Printf("  #%d %s [%s] %s\n", pr.Number, pr.Title, state, checksSummary(pr.ChecksStatus))
		if pr.ReviewDecision != "" {
			fmt.Printf("      review: %s\n", pr.ReviewDecision)
		}
		for _, check := range failedOrPendingChecks(status.PRChecks[pr.Number]) {
			mark := "●"
			if check.Bucket == "fail" {
				mark = "✗"
			}
			fmt.Printf("      %s %s\n", mark, check.Name)
		}
	}

	if len(status.BranchRuns) > 0 {
		branches := make([]string, 0, len(status.BranchRuns))
		for branch := range status.BranchRuns {
			branches = append(branches, branch)
		}
		sort.Strings(branches)
		fmt.Println("  branch runs:")
		for _, branch := range branches {
			fmt.Printf("    %s %s\n", branch, checksSummary(status.BranchRuns[branch].Status))
		}
	}
}

func checksSummary(s github.ChecksStatus) string {
	if s.Total == 0 {
		return "no checks"
	}
	return fmt.Sprintf("✓%d ✗%d ●%d", s.Passing, s.Failing, s.Pending)
}

// failedOrPendingChecks keeps the checks worth a line each; passing and
// skipped checks are already covered by the summary counts.
func failedOrPendingChecks(checks []github.CheckDetail) []github.CheckDetail {
	var out []github.CheckDetail
	for _, c := range checks {
		if c.Bucket == "fail" || c.Bucket == "pending" {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket == "fail"
		}
		return out[i].Name < out[j].Name
	})
	return out
}
