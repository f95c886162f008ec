package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/workdeck/workdeck/internal/git"
	"github.com/workdeck/workdeck/internal/logging"
)

func handleWorktree(args []string) {
	if len(args) < 1 {
		printWorktreeUsage()
		os.Exit(1)
	}

	initLogging(false)
	defer logging.Shutdown()

	switch args[0] {
	case "add":
		worktreeAdd(args[1:])
	case "list", "ls":
		worktreeList(args[1:])
	case "remove", "rm":
		worktreeRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown worktree command: %s\n\n", args[0])
		printWorktreeUsage()
		os.Exit(1)
	}
}

func printWorktreeUsage() {
	fmt.Fprintln(os.Stderr, "Usage: workdeck worktree <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  add <branch>      Create a worktree for a branch (new or existing)")
	fmt.Fprintln(os.Stderr, "  list              List the repo's worktrees")
	fmt.Fprintln(os.Stderr, "  remove <branch>   Remove the worktree for a branch")
}

// projectRepoRoot resolves --project to the enclosing repo root.
func projectRepoRoot(project string) string {
	abs, err := filepath.Abs(project)
	if err != nil {
		exitErr("resolve path: %v", err)
	}
	root, err := git.RepoRoot(abs)
	if err != nil {
		exitErr("%s is not inside a git repository", abs)
	}
	return root
}

func worktreeAdd(args []string) {
	fs := flag.NewFlagSet("worktree add", flag.ExitOnError)
	projectFlag := fs.String("project", ".", "project repository")
	copyEnvFlag := fs.Bool("copy-env", true, "copy .env files into the new worktree")
	copyAIFlag := fs.Bool("copy-ai-config", true, "copy agent config dirs into the new worktree")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck worktree add <branch> [--project <path>]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	branch := fs.Arg(0)
	if err := git.ValidateBranchName(branch); err != nil {
		exitErr("invalid branch name: %v", err)
	}

	repoRoot := projectRepoRoot(*projectFlag)

	if existing, err := git.WorktreeForBranch(repoRoot, branch); err == nil && existing != "" {
		fmt.Printf("Worktree already exists: %s\n", existing)
		return
	}

	path, err := git.CreateWorktree(repoRoot, branch, git.CopyOptions{
		EnvFiles: *copyEnvFlag,
		AIConfig: *copyAIFlag,
	})
	if err != nil {
		exitErr("create worktree: %v", err)
	}
	fmt.Printf("Created worktree %s\n", path)
	fmt.Printf("Open it with: workdeck open --branch %s %s\n", branch, repoRoot)
}

func worktreeList(args []string) {
	fs := flag.NewFlagSet("worktree list", flag.ExitOnError)
	projectFlag := fs.String("project", ".", "project repository")
	jsonFlag := fs.Bool("json", false, "emit JSON instead of a table")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck worktree list [--project <path>]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	repoRoot := projectRepoRoot(*projectFlag)
	worktrees, err := git.ListWorktrees(repoRoot)
	if err != nil {
		exitErr("list worktrees: %v", err)
	}

	if *jsonFlag {
		out, err := json.MarshalIndent(worktrees, "", "  ")
		if err != nil {
			exitErr("encode worktrees: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	for _, wt := range worktrees {
		marker := " "
		if wt.IsMain {
			marker = "*"
		}
		branch := wt.Branch
		if branch == "" {
			branch = "(detached)"
		}
		fmt.Printf("%s %-30s %s\n", marker, branch, wt.Path)
	}
}

func worktreeRemove(args []string) {
	fs := flag.NewFlagSet("worktree remove", flag.ExitOnError)
	projectFlag := fs.String("project", ".", "project repository")
	forceFlag := fs.Bool("force", false, "remove even with uncommitted changes")
	deleteBranchFlag := fs.Bool("delete-branch", false, "also delete the branch")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck worktree remove <branch> [--force] [--delete-branch]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	branch := fs.Arg(0)

	repoRoot := projectRepoRoot(*projectFlag)
	worktreePath, err := git.WorktreeForBranch(repoRoot, branch)
	if err != nil {
		exitErr("inspect worktrees: %v", err)
	}
	if worktreePath == "" {
		exitErr("no worktree found for branch %s", branch)
	}

	if !*forceFlag {
		if dirty, err := git.HasUncommittedChanges(worktreePath); err == nil && dirty {
			exitErr("%s has uncommitted changes (use --force to discard)", worktreePath)
		}
	}

	if err := git.RemoveWorktree(repoRoot, worktreePath, *forceFlag); err != nil {
		exitErr("remove worktree: %v", err)
	}
	_ = git.PruneWorktrees(repoRoot)
	fmt.Printf("Removed worktree %s\n", worktreePath)

	if *deleteBranchFlag {
		if err := git.DeleteBranch(repoRoot, branch, *forceFlag); err != nil {
			exitErr("delete branch: %v", err)
		}
		fmt.Printf("Deleted branch %s\n", branch)
	}
}
