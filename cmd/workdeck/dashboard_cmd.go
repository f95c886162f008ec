package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/workdeck/workdeck/internal/clipboard"
	"github.com/workdeck/workdeck/internal/config"
	"github.com/workdeck/workdeck/internal/discovery"
	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/term"
	"github.com/workdeck/workdeck/internal/ui"
	"github.com/workdeck/workdeck/internal/workspace"
)

// runDashboard wires the full runtime and hands the terminal to the TUI.
func runDashboard() {
	initLogging(os.Getenv("WORKDECK_DEBUG") != "")
	defer logging.Shutdown()

	cfg := config.Load()
	rt, err := newRuntime(cfg, runtimeOptions{})
	if err != nil {
		exitErr("%v", err)
	}

	ctx := context.Background()
	rt.start(ctx)

	ui.InitTheme(resolveTheme(cfg.Theme.Mode))

	scanner := discovery.NewScanner()
	model := ui.NewModel(ui.Deps{
		Workspaces: rt.manager,
		Attention:  rt.aggregator,
		Statuses:   rt.poller.Statuses,
		ListSessions: func(projectPath string, typ workspace.SessionType) ([]workspace.DiscoveredSession, error) {
			return scanner.ListerFor(typ)(projectPath)
		},
		Resume: func(workspaceID, sessionID, label string, typ workspace.SessionType) {
			rt.resumeIntoPane(workspaceID, sessionID, label, typ)
		},
		Start: func(workspaceID string, typ workspace.SessionType) {
			rt.startIntoPane(workspaceID, typ, scanner.ListerFor)
		},
		Restart: func(workspaceID, tabID string) {
			rt.restartIntoPane(workspaceID, tabID, scanner.ListerFor)
		},
		Refresh: func(projectPath string) {
			rt.dispatcher.Request(projectPath, "ui", "manual")
		},
		Focus: func(projectPath string, prNumber int) {
			rt.poller.SetFocus(ctx, projectPath, prNumber)
		},
		Unfocus: rt.poller.ClearFocus,
		Copy: func(text string) (string, error) {
			result, err := clipboard.Copy(text, os.Getenv("TERM") != "dumb")
			if err != nil {
				return "", err
			}
			return result.Method, nil
		},
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	ui.AttachBus(p, rt.bus)

	var themeWatcher *ui.ThemeWatcher
	if cfg.Theme.Mode == "auto" {
		if themeWatcher = ui.NewThemeWatcher(ctx); themeWatcher != nil {
			ui.WatchTheme(p, themeWatcher)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		p.Quit()
	}()

	_, runErr := p.Run()

	if themeWatcher != nil {
		themeWatcher.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rt.shutdown(shutdownCtx)
	cancel()

	if runErr != nil {
		exitErr("dashboard: %v", runErr)
	}
}

// workspaceDir resolves a workspace's terminal directory.
func (r *runtime) workspaceDir(workspaceID string) string {
	for _, w := range r.manager.Snapshot().Workspaces {
		if w.ID == workspaceID {
			return w.TerminalPath()
		}
	}
	return ""
}

func (r *runtime) spawnPane(pane workspace.Pane, dir, event string) bool {
	if err := r.host.Spawn(term.SpawnOptions{
		PaneID:         pane.ID,
		Dir:            dir,
		StartupCommand: pane.StartupCommand,
		HookSocket:     r.hookSocket(),
	}); err != nil {
		logging.ForComponent(logging.CompTerm).Warn(event,
			slog.String("pane", pane.ID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// resumeIntoPane records the resumed session as a new tab and spawns its
// pane shell in the workspace's terminal directory.
func (r *runtime) resumeIntoPane(workspaceID, sessionID, label string, typ workspace.SessionType) {
	tab, ok := r.manager.ResumeSession(workspaceID, sessionID, label, typ)
	if !ok || len(tab.Panes) == 0 {
		return
	}
	r.spawnPane(tab.Panes[0], r.workspaceDir(workspaceID), "resume_spawn_failed")
}

// startIntoPane opens a fresh agent session: a new tab whose pane runs
// the agent's start command. Session-id discovery runs in the
// background so the tab becomes resumable even when no hook integration
// is installed; a hook event arriving first wins the race.
func (r *runtime) startIntoPane(workspaceID string, typ workspace.SessionType, listerFor func(workspace.SessionType) workspace.SessionLister) {
	tab, ok := r.manager.StartSession(workspaceID, typ)
	if !ok || len(tab.Panes) == 0 {
		return
	}
	dir := r.workspaceDir(workspaceID)
	pane := tab.Panes[0]
	if !r.spawnPane(pane, dir, "start_spawn_failed") {
		return
	}
	go r.manager.DiscoverSessionID(pane.ID, dir, listerFor(typ))
}

// restartIntoPane replaces a workspace's agent tab: the old tab's panes
// are killed and the fresh tab resumes the prior session when its id is
// known, otherwise it starts clean and rediscovers.
func (r *runtime) restartIntoPane(workspaceID, tabID string, listerFor func(workspace.SessionType) workspace.SessionLister) {
	var oldPaneIDs []string
	for _, w := range r.manager.Snapshot().Workspaces {
		if w.ID != workspaceID {
			continue
		}
		for _, tab := range w.Tabs {
			if tab.ID == tabID {
				for _, pane := range tab.Panes {
					oldPaneIDs = append(oldPaneIDs, pane.ID)
				}
			}
		}
	}

	tab, ok := r.manager.RestartSession(workspaceID, tabID)
	if !ok || len(tab.Panes) == 0 {
		return
	}
	for _, paneID := range oldPaneIDs {
		_ = r.host.Kill(paneID)
	}

	dir := r.workspaceDir(workspaceID)
	pane := tab.Panes[0]
	if !r.spawnPane(pane, dir, "restart_spawn_failed") {
		return
	}
	if pane.SessionID == "" {
		go r.manager.DiscoverSessionID(pane.ID, dir, listerFor(tab.Type))
	}
}

func resolveTheme(mode string) ui.Theme {
	switch mode {
	case "dark":
		return ui.ThemeDark
	case "light":
		return ui.ThemeLight
	default:
		return ui.DetectTheme()
	}
}
