package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/workdeck/workdeck/internal/git"
	"github.com/workdeck/workdeck/internal/logging"
)

// handleOpen creates (or selects) a workspace for a project directory.
// With --branch it lands in a dedicated worktree for that branch,
// creating one when none exists.
func handleOpen(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	branchFlag := fs.String("branch", "", "open a worktree for this branch instead of the main checkout")
	copyEnvFlag := fs.Bool("copy-env", true, "copy .env files into a newly created worktree")
	copyAIFlag := fs.Bool("copy-ai-config", true, "copy agent config dirs into a newly created worktree")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck open [--branch <name>] [path]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := "."
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		exitErr("resolve path: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		exitErr("%v", err)
	}
	if !info.IsDir() {
		exitErr("%s is not a directory", abs)
	}
	// Anchor the workspace at the repo root so the same project opened
	// from a subdirectory maps to one workspace.
	if root, rootErr := git.RepoRoot(abs); rootErr == nil {
		abs = root
	}

	initLogging(false)
	defer logging.Shutdown()

	db, b, manager, err := openWorkspaceStore()
	if err != nil {
		exitErr("%v", err)
	}
	defer db.Close()
	defer b.Close()

	if *branchFlag == "" {
		ws := manager.OpenProject(abs)
		fmt.Printf("Workspace ready: %s (%s)\n", ws.ProjectName, abs)
		return
	}

	if !git.IsRepo(abs) {
		exitErr("%s is not a git repository; --branch needs one", abs)
	}
	branch := *branchFlag
	if err := git.ValidateBranchName(branch); err != nil {
		exitErr("invalid branch name: %v", err)
	}

	worktreePath, err := git.WorktreeForBranch(abs, branch)
	if err != nil {
		exitErr("inspect worktrees: %v", err)
	}
	if worktreePath == "" {
		worktreePath, err = git.CreateWorktree(abs, branch, git.CopyOptions{
			EnvFiles: *copyEnvFlag,
			AIConfig: *copyAIFlag,
		})
		if err != nil {
			exitErr("create worktree: %v", err)
		}
		fmt.Printf("Created worktree %s\n", worktreePath)
	}

	ws := manager.OpenWorktree(abs, worktreePath, branch)
	fmt.Printf("Workspace ready: %s @ %s (%s)\n", ws.ProjectName, branch, worktreePath)
}
