// Package git shells out to the git CLI for repository inspection,
// worktree management, and change detection.
package git

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"log/slog"

	"github.com/workdeck/workdeck/internal/logging"
)

var log = logging.ForComponent(logging.CompGit)

// Info describes the repository containing a directory.
type Info struct {
	RepoRoot      string `json:"repoRoot"`
	Branch        string `json:"branch"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	IsWorktree    bool   `json:"isWorktree"`
}

// Worktree is one entry from `git worktree list`.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	IsMain bool   `json:"isMain"`
}

// Branch is one entry from `git branch -a`.
type Branch struct {
	Name    string `json:"name"`
	SHA     string `json:"sha"`
	Current bool   `json:"current"`
	Remote  bool   `json:"remote"`
}

// CopyOptions selects which ignored workspace files get copied into a new
// worktree so agents start with a working environment.
type CopyOptions struct {
	EnvFiles bool `json:"envFiles"`
	AIConfig bool `json:"aiConfig"`
}

// gitOutput runs git in dir and returns trimmed stdout. On failure the
// error carries git's stderr.
func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
				return "", errors.New(msg)
			}
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepo checks if the given directory is inside a git repository.
func IsRepo(dir string) bool {
	_, err := gitOutput(dir, "rev-parse", "--git-dir")
	return err == nil
}

// RepoRoot returns the root directory of the repository containing dir.
func RepoRoot(dir string) (string, error) {
	root, err := gitOutput(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return root, nil
}

// CurrentBranch returns the current branch name, or "HEAD" when detached.
func CurrentBranch(dir string) (string, error) {
	return gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// IsWorktree reports whether dir is a linked worktree (not the main
// working tree). The two are distinguished by the git dir and the git
// common dir diverging.
func IsWorktree(dir string) bool {
	commonDir, err := gitOutput(dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return false
	}
	gitDir, err := gitOutput(dir, "rev-parse", "--git-dir")
	if err != nil {
		return false
	}
	return commonDir != gitDir && commonDir != "."
}

// DefaultBranch returns the default branch for the repo, preferring the
// remote HEAD and falling back to main/master.
func DefaultBranch(repoDir string) (string, error) {
	if ref, err := gitOutput(repoDir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if branch := strings.TrimPrefix(ref, "refs/remotes/origin/"); branch != ref && branch != "" {
			return branch, nil
		}
	}
	if BranchExists(repoDir, "main") {
		return "main", nil
	}
	if BranchExists(repoDir, "master") {
		return "master", nil
	}
	return "", errors.New("could not determine default branch")
}

// GetInfo inspects the repository containing path.
func GetInfo(path string) (Info, error) {
	branch, err := CurrentBranch(path)
	if err != nil {
		return Info{}, err
	}
	root, err := RepoRoot(path)
	if err != nil {
		return Info{}, err
	}
	info := Info{RepoRoot: root, Branch: branch, IsWorktree: IsWorktree(path)}
	// Best effort; shallow clones and remoteless repos have no answer.
	if def, err := DefaultBranch(path); err == nil {
		info.DefaultBranch = def
	}
	return info, nil
}

// BranchExists checks if a local branch exists in the repository.
func BranchExists(repoDir, branchName string) bool {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branchName)
	cmd.Dir = repoDir
	return cmd.Run() == nil
}

// ValidateBranchName validates that a branch name follows git's naming rules.
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return errors.New("branch name cannot have leading or trailing spaces")
	}
	if strings.Contains(name, "..") {
		return errors.New("branch name cannot contain '..'")
	}
	if strings.HasPrefix(name, ".") {
		return errors.New("branch name cannot start with '.'")
	}
	if strings.HasSuffix(name, ".lock") {
		return errors.New("branch name cannot end with '.lock'")
	}
	for _, char := range []string{" ", "\t", "~", "^", ":", "?", "*", "[", "\\"} {
		if strings.Contains(name, char) {
			return fmt.Errorf("branch name cannot contain '%s'", char)
		}
	}
	if strings.Contains(name, "@{") {
		return errors.New("branch name cannot contain '@{'")
	}
	if name == "@" {
		return errors.New("branch name cannot be just '@'")
	}
	return nil
}

// SanitizeBranchName converts a string to a valid branch name.
func SanitizeBranchName(name string) string {
	replacer := strings.NewReplacer(
		" ", "-",
		"..", "-",
		"~", "-",
		"^", "-",
		":", "-",
		"?", "-",
		"*", "-",
		"[", "-",
		"\\", "-",
		"@{", "-",
	)
	sanitized := replacer.Replace(name)
	for strings.HasPrefix(sanitized, ".") {
		sanitized = strings.TrimPrefix(sanitized, ".")
	}
	for strings.HasSuffix(sanitized, ".lock") {
		sanitized = strings.TrimSuffix(sanitized, ".lock")
	}
	sanitized = regexp.MustCompile(`-+`).ReplaceAllString(sanitized, "-")
	return strings.Trim(sanitized, "-")
}

// WorktreePathFor returns where a worktree for the given branch lives:
// under <repo>/.worktrees/ with the branch name made filesystem-safe.
func WorktreePathFor(repoRoot, branchName string) string {
	sanitized := strings.ReplaceAll(branchName, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return filepath.Join(repoRoot, ".worktrees", sanitized)
}

// CreateWorktree adds a worktree for branchName under <repo>/.worktrees/,
// creating the branch when it does not exist, registering .worktrees/ in
// the repo's .gitignore, and copying selected ignored workspace files so
// the new checkout is immediately usable. Returns the worktree path.
func CreateWorktree(repoDir, branchName string, opts CopyOptions) (string, error) {
	if err := ValidateBranchName(branchName); err != nil {
		return "", fmt.Errorf("invalid branch name: %w", err)
	}
	repoRoot, err := RepoRoot(repoDir)
	if err != nil {
		return "", err
	}

	worktreePath := WorktreePathFor(repoRoot, branchName)

	// git worktree add syntax:
	//   new branch:      git worktree add -b <branch> <path>
	//   existing branch: git worktree add <path> <branch>
	var args []string
	if BranchExists(repoDir, branchName) {
		args = []string{"worktree", "add", worktreePath, branchName}
	} else {
		args = []string{"worktree", "add", "-b", branchName, worktreePath}
	}
	if _, err := gitOutput(repoDir, args...); err != nil {
		return "", fmt.Errorf("failed to create worktree: %w", err)
	}

	if err := ensureGitignoreEntry(filepath.Join(repoRoot, ".gitignore"), ".worktrees/"); err != nil {
		log.Warn("gitignore_update_failed",
			slog.String("repo", repoRoot),
			slog.String("error", err.Error()))
	}

	if opts.EnvFiles || opts.AIConfig {
		if err := copyWorkspaceFiles(repoRoot, worktreePath, opts); err != nil {
			log.Warn("worktree_copy_failed",
				slog.String("worktree", worktreePath),
				slog.String("error", err.Error()))
		}
	}

	return worktreePath, nil
}

// ListWorktrees returns the non-bare worktrees of the repository at
// repoDir, main working tree first.
func ListWorktrees(repoDir string) ([]Worktree, error) {
	output, err := gitOutput(repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(output), nil
}

// parseWorktreeList parses `git worktree list --porcelain` output. Bare
// entries are skipped; the first remaining entry is the main worktree.
func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current Worktree
	bare := false

	flush := func() {
		if current.Path != "" && !bare {
			current.IsMain = len(worktrees) == 0
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
		bare = false
	}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "bare":
			bare = true
		case line == "detached":
			current.Branch = ""
		}
	}
	flush()

	return worktrees
}

// WorktreeForBranch returns the worktree path checked out on branchName,
// or "" when none is.
func WorktreeForBranch(repoDir, branchName string) (string, error) {
	worktrees, err := ListWorktrees(repoDir)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branchName {
			return wt.Path, nil
		}
	}
	return "", nil
}

// RemoveWorktree removes a worktree. force discards uncommitted changes.
func RemoveWorktree(repoDir, worktreePath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)
	if _, err := gitOutput(repoDir, args...); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	return nil
}

// DeleteBranch deletes a local branch. force uses -D.
func DeleteBranch(repoDir, branchName string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := gitOutput(repoDir, "branch", flag, branchName); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return nil
}

// PruneWorktrees removes stale worktree references.
func PruneWorktrees(repoDir string) error {
	if _, err := gitOutput(repoDir, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// ListBranches lists local and remote branches. Remote HEAD aliases are
// skipped.
func ListBranches(path string) ([]Branch, error) {
	const format = "%(refname:short)\t%(objectname:short)\t%(HEAD)\t%(refname:rstrip=0)"
	output, err := gitOutput(path, "branch", "-a", "--format="+format)
	if err != nil {
		return nil, err
	}
	return parseBranchList(output), nil
}

func parseBranchList(output string) []Branch {
	var branches []Branch
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) < 4 {
			continue
		}
		name := parts[0]
		if name == "" || strings.HasSuffix(name, "/HEAD") {
			continue
		}
		branches = append(branches, Branch{
			Name:    name,
			SHA:     parts[1],
			Current: parts[2] == "*",
			Remote:  strings.HasPrefix(parts[3], "refs/remotes/"),
		})
	}
	return branches
}

// UpstreamStatus reports how far the current branch has diverged from its
// upstream. hasUpstream is false when no upstream is configured.
func UpstreamStatus(path string) (ahead, behind int, hasUpstream bool) {
	output, err := gitOutput(path, "rev-list", "--left-right", "--count", "@{u}...HEAD")
	if err != nil {
		return 0, 0, false
	}
	parts := strings.Fields(output)
	if len(parts) != 2 {
		return 0, 0, true
	}
	behind, _ = strconv.Atoi(parts[0])
	ahead, _ = strconv.Atoi(parts[1])
	return ahead, behind, true
}

// HasUncommittedChanges checks if the repository at dir has uncommitted changes.
func HasUncommittedChanges(dir string) (bool, error) {
	output, err := gitOutput(dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w", err)
	}
	return output != "", nil
}

// --- workspace file copy ---

var envDefaultFiles = []string{
	".env",
	".env.local",
	".env.development",
	".env.production",
	".env.test",
	".envrc",
	".dev.vars",
}

// isSafeRelativePath rejects absolute paths and any path that could escape
// the repository root.
func isSafeRelativePath(rel string) bool {
	if filepath.IsAbs(rel) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// isRelevantIgnoredPath reports whether a gitignored repo-relative path
// should follow the checkout into a new worktree.
func isRelevantIgnoredPath(relPath string, opts CopyOptions) bool {
	normalized := strings.TrimSuffix(relPath, "/")
	if normalized == "" {
		return false
	}

	if opts.AIConfig {
		if normalized == ".claude" || strings.HasPrefix(normalized, ".claude/") {
			return true
		}
		if normalized == ".codex" || strings.HasPrefix(normalized, ".codex/") {
			return true
		}
		if normalized == ".mcp.json" {
			return true
		}
	}

	name := filepath.Base(normalized)
	return opts.EnvFiles &&
		(name == ".env" || strings.HasPrefix(name, ".env.") || name == ".envrc" || name == ".dev.vars")
}

func listIgnoredPaths(repoRoot string) ([]string, error) {
	output, err := gitOutput(repoRoot,
		"ls-files", "--others", "--ignored", "--exclude-standard", "--directory", "--full-name")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "/")
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// collectCopyCandidates gathers the repo-relative paths worth copying:
// known defaults plus whatever gitignore actually hides.
func collectCopyCandidates(repoRoot string, opts CopyOptions) []string {
	set := map[string]bool{}
	if opts.AIConfig {
		set[".claude"] = true
		set[".codex"] = true
		set[".mcp.json"] = true
	}
	if opts.EnvFiles {
		for _, p := range envDefaultFiles {
			set[p] = true
		}
		if entries, err := os.ReadDir(repoRoot); err == nil {
			for _, entry := range entries {
				if strings.HasPrefix(entry.Name(), ".env.") {
					set[entry.Name()] = true
				}
			}
		}
	}
	if ignored, err := listIgnoredPaths(repoRoot); err == nil {
		for _, rel := range ignored {
			if isRelevantIgnoredPath(rel, opts) {
				set[rel] = true
			}
		}
	}

	candidates := make([]string, 0, len(set))
	for p := range set {
		candidates = append(candidates, p)
	}
	sort.Strings(candidates)
	return candidates
}

func copyWorkspaceFiles(repoRoot, worktreePath string, opts CopyOptions) error {
	for _, relative := range collectCopyCandidates(repoRoot, opts) {
		if !isSafeRelativePath(relative) {
			continue
		}
		source := filepath.Join(repoRoot, relative)
		meta, err := os.Lstat(source)
		if err != nil {
			continue
		}
		destination := filepath.Join(worktreePath, relative)
		if _, err := os.Lstat(destination); err == nil {
			continue
		}

		switch {
		case meta.Mode()&os.ModeSymlink != 0:
			continue
		case meta.IsDir():
			if err := copyDirSkipSymlinks(source, destination); err != nil {
				return fmt.Errorf("failed to copy %s: %w", relative, err)
			}
		case meta.Mode().IsRegular():
			if err := copyFile(source, destination); err != nil {
				return fmt.Errorf("failed to copy %s: %w", relative, err)
			}
		}
	}
	return nil
}

func copyFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDirSkipSymlinks(source, destination string) error {
	entries, err := os.ReadDir(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		src := filepath.Join(source, entry.Name())
		dst := filepath.Join(destination, entry.Name())
		info, err := os.Lstat(src)
		if err != nil {
			continue
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			continue
		case info.IsDir():
			if err := copyDirSkipSymlinks(src, dst); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureGitignoreEntry appends an entry to a .gitignore file unless it is
// already present.
func ensureGitignoreEntry(gitignorePath, entry string) error {
	content := ""
	if data, err := os.ReadFile(gitignorePath); err == nil {
		content = string(data)
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == strings.TrimSpace(entry) {
			return nil
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"
	return os.WriteFile(gitignorePath, []byte(content), 0o644)
}
