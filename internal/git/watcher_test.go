package git

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workdeck/workdeck/internal/bus"
)

func TestProjectFromGitPath(t *testing.T) {
	project, ok := projectFromGitPath("/home/dev/repo/.git/HEAD")
	require.True(t, ok)
	assert.Equal(t, "/home/dev/repo", project)

	project, ok = projectFromGitPath("/home/dev/repo/.git/refs/heads/feature/x")
	require.True(t, ok)
	assert.Equal(t, "/home/dev/repo", project)

	_, ok = projectFromGitPath("/home/dev/plain/file.txt")
	assert.False(t, ok)
}

func TestResolveGitDirPlainRepo(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".git", "refs"), 0o755))

	gitDir, ok := resolveGitDir(project)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(project, ".git"), gitDir)
}

func TestResolveGitDirWorktreeIndirection(t *testing.T) {
	main := t.TempDir()
	mainGit := filepath.Join(main, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(mainGit, "worktrees", "feature"), 0o755))

	worktree := t.TempDir()
	pointer := "gitdir: " + filepath.Join(mainGit, "worktrees", "feature") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte(pointer), 0o644))

	gitDir, ok := resolveGitDir(worktree)
	require.True(t, ok)
	assert.Equal(t, mainGit, gitDir)
}

func TestResolveGitDirMissing(t *testing.T) {
	_, ok := resolveGitDir(t.TempDir())
	assert.False(t, ok)
}

func TestNormalizeProjectPaths(t *testing.T) {
	set := normalizeProjectPaths([]string{"/repo/a", " /repo/a ", "", "   ", "/repo/b"})
	assert.Len(t, set, 2)
	assert.True(t, set["/repo/a"])
	assert.True(t, set["/repo/b"])
}

func TestWatchDiff(t *testing.T) {
	current := []string{"/repo/a", "/repo/b"}
	desired := map[string]bool{"/repo/b": true, "/repo/c": true}

	toWatch, toUnwatch := watchDiff(current, desired)
	assert.Equal(t, []string{"/repo/c"}, toWatch)
	assert.Equal(t, []string{"/repo/a"}, toUnwatch)

	toWatch, toUnwatch = watchDiff([]string{"/repo/a"}, map[string]bool{"/repo/a": true})
	assert.Empty(t, toWatch)
	assert.Empty(t, toUnwatch)
}

func newGitFixture(t *testing.T) string {
	t.Helper()
	project := t.TempDir()
	gitDir := filepath.Join(project, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte("abc\n"), 0o644))
	return project
}

func TestWatcherPublishesDebouncedGitChanged(t *testing.T) {
	project := newGitFixture(t)

	b := bus.New()
	defer b.Close()

	var mu sync.Mutex
	var events []bus.GitChanged
	b.SubscribeGitChanged(func(ev bus.GitChanged) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	w, err := NewWatcher(b)
	require.NoError(t, err)
	defer w.Close()
	w.window = 30 * time.Millisecond

	require.NoError(t, w.Watch(project))

	// A checkout-like burst: HEAD rewrite plus a ref update.
	head := filepath.Join(project, ".git", "HEAD")
	require.NoError(t, os.WriteFile(head, []byte("ref: refs/heads/feature\n"), 0o644))
	ref := filepath.Join(project, ".git", "refs", "heads", "main")
	require.NoError(t, os.WriteFile(ref, []byte("def\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Let any straggler timers fire before counting.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events, "expected a git change event")
	assert.Equal(t, project, events[0].ProjectPath)
	assert.LessOrEqual(t, len(events), 2, "burst should coalesce")
}

func TestWatcherSyncReconcilesWatchedSet(t *testing.T) {
	a := newGitFixture(t)
	c := newGitFixture(t)

	b := bus.New()
	defer b.Close()

	w, err := NewWatcher(b)
	require.NoError(t, err)
	defer w.Close()

	w.Sync([]string{a})
	assert.Equal(t, []string{a}, watchedProjects(w))

	w.Sync([]string{c})
	assert.Equal(t, []string{c}, watchedProjects(w))

	w.Sync(nil)
	assert.Empty(t, watchedProjects(w))
}

func TestWatcherWatchTwiceIsNoop(t *testing.T) {
	project := newGitFixture(t)

	b := bus.New()
	defer b.Close()

	w, err := NewWatcher(b)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(project))
	require.NoError(t, w.Watch(project))
	assert.Equal(t, []string{project}, watchedProjects(w))
}

func TestWatcherWatchMissingRepoFails(t *testing.T) {
	b := bus.New()
	defer b.Close()

	w, err := NewWatcher(b)
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Watch(t.TempDir()))
}

func watchedProjects(w *Watcher) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path := range w.projects {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
