package git

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/platform"
)

// Events from one project are coalesced into a single refresh within this
// window; a checkout touches HEAD and many refs at once.
const watchDebounce = 500 * time.Millisecond

// Watcher observes the .git directories of tracked projects and publishes
// GitChanged when HEAD or any ref moves. Linked worktrees resolve through
// their `gitdir:` pointer to the main repository's .git.
type Watcher struct {
	bus *bus.Bus

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	projects map[string][]string    // project path -> fsnotify watch targets
	pending  map[string]*time.Timer // project path -> debounce timer
	window   time.Duration
	closed   bool
}

func NewWatcher(b *bus.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		bus:      b,
		fsw:      fsw,
		projects: make(map[string][]string),
		pending:  make(map[string]*time.Timer),
		window:   watchDebounce,
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("git_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	project, ok := projectFromGitPath(event.Name)
	if !ok {
		return
	}

	// New ref directories (first push of a namespaced branch) need their
	// own watch; fsnotify does not recurse.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			w.addWatchTarget(project, event.Name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, debouncing := w.pending[project]; debouncing {
		return
	}
	w.pending[project] = time.AfterFunc(w.window, func() {
		w.mu.Lock()
		delete(w.pending, project)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		log.Debug("git_changed", slog.String("project", project))
		w.bus.PublishGitChanged(bus.GitChanged{ProjectPath: project})
	})
}

func (w *Watcher) addWatchTarget(project, target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.fsw.Add(target); err != nil {
		log.Warn("git_watch_add_failed",
			slog.String("target", target),
			slog.String("error", err.Error()))
		return
	}
	w.projects[project] = append(w.projects[project], target)
}

// projectFromGitPath walks up from a path inside .git to the containing
// project directory.
func projectFromGitPath(path string) (string, bool) {
	current := path
	for {
		if filepath.Base(current) == ".git" {
			parent := filepath.Dir(current)
			if parent == current {
				return "", false
			}
			return parent, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// resolveGitDir finds the .git directory for a project path. For linked
// worktrees .git is a file containing "gitdir: <path>" pointing into the
// main repository's .git/worktrees/<name>; the main .git is watched then.
func resolveGitDir(projectPath string) (string, bool) {
	dotGit := filepath.Join(projectPath, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		return dotGit, true
	}

	content, err := os.ReadFile(dotGit)
	if err != nil {
		return "", false
	}
	gitdir, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "gitdir: ")
	if !ok {
		return "", false
	}
	gitdir = strings.TrimSpace(gitdir)
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(projectPath, gitdir)
	}
	// Walk up from .git/worktrees/<name> to the main .git directory.
	for current := gitdir; ; {
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		if filepath.Base(parent) == ".git" {
			return parent, true
		}
		current = parent
	}
}

// Watch starts watching a project's git dir. Watching an already-watched
// project is a no-op.
func (w *Watcher) Watch(projectPath string) error {
	gitDir, ok := resolveGitDir(projectPath)
	if !ok {
		return errors.New("no .git directory found for " + projectPath)
	}

	if warning := platform.WatchWarning(projectPath); warning != "" {
		log.Warn("git_watch_unreliable",
			slog.String("project", projectPath),
			slog.String("reason", warning))
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("watcher closed")
	}
	if _, exists := w.projects[projectPath]; exists {
		w.mu.Unlock()
		return nil
	}
	// Reserve the slot so a concurrent Watch sees it.
	w.projects[projectPath] = nil
	w.mu.Unlock()

	var targets []string

	// HEAD flips on checkout; refs move on commit, fetch, branch and tag.
	head := filepath.Join(gitDir, "HEAD")
	if _, err := os.Stat(head); err == nil {
		targets = append(targets, head)
	}
	refs := filepath.Join(gitDir, "refs")
	filepath.WalkDir(refs, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			targets = append(targets, path)
		}
		return nil
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		delete(w.projects, projectPath)
		return errors.New("watcher closed")
	}
	var added []string
	for _, target := range targets {
		if err := w.fsw.Add(target); err != nil {
			log.Warn("git_watch_add_failed",
				slog.String("target", target),
				slog.String("error", err.Error()))
			continue
		}
		added = append(added, target)
	}
	w.projects[projectPath] = added
	log.Debug("git_watch_started",
		slog.String("project", projectPath),
		slog.Int("targets", len(added)))
	return nil
}

// Unwatch stops watching a project. Unknown projects are a no-op.
func (w *Watcher) Unwatch(projectPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	targets, exists := w.projects[projectPath]
	if !exists {
		return
	}
	delete(w.projects, projectPath)
	if timer, ok := w.pending[projectPath]; ok {
		timer.Stop()
		delete(w.pending, projectPath)
	}
	if w.closed {
		return
	}
	for _, target := range targets {
		w.fsw.Remove(target)
	}
	log.Debug("git_watch_stopped", slog.String("project", projectPath))
}

// Sync reconciles the watched set against the given project paths.
func (w *Watcher) Sync(projectPaths []string) {
	desired := normalizeProjectPaths(projectPaths)

	w.mu.Lock()
	current := make([]string, 0, len(w.projects))
	for path := range w.projects {
		current = append(current, path)
	}
	w.mu.Unlock()

	toWatch, toUnwatch := watchDiff(current, desired)
	for _, path := range toWatch {
		if err := w.Watch(path); err != nil {
			log.Warn("git_watch_failed",
				slog.String("project", path),
				slog.String("error", err.Error()))
		}
	}
	for _, path := range toUnwatch {
		w.Unwatch(path)
	}
}

// Close stops the watcher and cancels pending refreshes.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for project, timer := range w.pending {
		timer.Stop()
		delete(w.pending, project)
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func normalizeProjectPaths(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path != "" {
			set[path] = true
		}
	}
	return set
}

func watchDiff(current []string, desired map[string]bool) (toWatch, toUnwatch []string) {
	have := make(map[string]bool, len(current))
	for _, path := range current {
		have[path] = true
		if !desired[path] {
			toUnwatch = append(toUnwatch, path)
		}
	}
	for path := range desired {
		if !have[path] {
			toWatch = append(toWatch, path)
		}
	}
	return toWatch, toUnwatch
}
