package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	stdlog "log"
	"log/slog"

	"github.com/workdeck/workdeck/internal/activity"
	"github.com/workdeck/workdeck/internal/attention"
	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/config"
	"github.com/workdeck/workdeck/internal/git"
	"github.com/workdeck/workdeck/internal/github"
	"github.com/workdeck/workdeck/internal/hooks"
	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/notify"
	"github.com/workdeck/workdeck/internal/platform"
	"github.com/workdeck/workdeck/internal/poller"
	"github.com/workdeck/workdeck/internal/statedb"
	"github.com/workdeck/workdeck/internal/term"
	"github.com/workdeck/workdeck/internal/trello"
	"github.com/workdeck/workdeck/internal/web"
	"github.com/workdeck/workdeck/internal/workspace"
)

const (
	heartbeatInterval = 10 * time.Second
	electionTimeout   = 30 * time.Second
)

// runtimeOptions selects which parts of the graph a command needs.
type runtimeOptions struct {
	// withWeb starts the dashboard server when the config enables it.
	withWeb bool
}

// runtime is the wired application graph shared by the TUI and the
// watch daemon.
type runtime struct {
	cfg *config.Config
	db  *statedb.DB
	bus *bus.Bus

	manager    *workspace.Manager
	classifier *activity.Classifier
	aggregator *attention.Aggregator
	host       *term.Host
	bridge     *hooks.Bridge
	watcher    *git.Watcher
	gh         *github.Client
	poller     *poller.Poller
	dispatcher *poller.Dispatcher
	transition *notify.Transition
	push       *web.PushService
	webServer  *web.Server
	hub        *web.Hub

	primary bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// newRuntime opens storage, elects a primary, and wires the graph.
// Background loops start in start().
func newRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	db, err := statedb.Open(dbPath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	if _, err := db.MigrateLegacyJSON(legacyWorkspacesPath()); err != nil {
		logging.ForComponent(logging.CompStorage).Warn("legacy_migration_failed",
			slog.String("error", err.Error()))
	}

	_ = db.RegisterInstance(false)
	_ = db.CleanDeadInstances(electionTimeout)
	primary, err := db.ElectPrimary(electionTimeout)
	if err != nil {
		primary = false
	}

	r := &runtime{
		cfg:     cfg,
		db:      db,
		bus:     bus.New(),
		primary: primary,
		done:    make(chan struct{}),
	}

	r.manager = workspace.NewManager(db, r.bus)
	if err := r.manager.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load workspaces: %w", err)
	}

	r.classifier = activity.New(r.manager, r.bus)
	r.classifier.Attach(r.bus)
	r.aggregator = attention.New(r.manager, r.classifier)
	r.host = term.NewHost(r.bus, r.classifier, cfg.Terminal.Shell)
	r.host.SetScrollbackLimit(cfg.Terminal.ScrollbackLines)
	r.gh = github.NewClient()

	merge := r.mergeHandler()
	r.poller = poller.New(r.gh, r.bus, merge)
	r.poller.SetIntervals(cfg.FastInterval(), cfg.SlowInterval())
	r.dispatcher = poller.NewDispatcher(r.poller)
	r.dispatcher.SetWindow(cfg.RefreshDebounce())
	r.dispatcher.Attach(r.bus)

	// Single-instance surfaces: only the primary owns the hook socket,
	// the git watcher, notification delivery, and the web server.
	if r.primary {
		if platform.SupportsUnixSockets() {
			r.bridge = hooks.NewBridge(r.bus)
		} else {
			logging.ForComponent(logging.CompHooks).Warn("hook_bridge_skipped",
				slog.String("platform", platform.Detect().String()))
		}

		watcher, err := git.NewWatcher(r.bus)
		if err != nil {
			logging.ForComponent(logging.CompGit).Warn("git_watcher_unavailable",
				slog.String("error", err.Error()))
		} else {
			r.watcher = watcher
		}

		var push notify.Sender
		if cfg.Notifications.Push {
			svc, err := web.NewPushService(web.DefaultDir())
			if err != nil {
				logging.ForComponent(logging.CompWeb).Warn("push_service_unavailable",
					slog.String("error", err.Error()))
			} else {
				r.push = svc
				push = svc
			}
		}
		r.transition = notify.NewTransition(notify.DefaultDir(), notify.NewDesktop(), push,
			config.Load, r.aggregator)
		r.transition.Attach(r.bus)

		if opts.withWeb && cfg.Web.Enabled {
			r.hub = web.NewHub()
			r.hub.Attach(r.bus)
			r.webServer = web.NewServer(cfg.Web.Addr, web.Deps{
				Workspaces: r.manager,
				Attention:  r.aggregator,
				Statuses:   r.poller.Statuses,
				Push:       r.push,
			}, r.hub)
		}
	}

	return r, nil
}

// start launches the background loops and returns immediately.
func (r *runtime) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	if r.bridge != nil {
		if err := r.bridge.Start(); err != nil {
			logging.ForComponent(logging.CompHooks).Warn("hook_bridge_failed",
				slog.String("error", err.Error()))
			r.bridge = nil
		}
	}

	projects := r.manager.ProjectPaths()
	if r.watcher != nil {
		r.watcher.Sync(projects)
	}
	r.poller.SetTrackedProjects(projects)
	r.bus.SubscribeWorkspacesChanged(func(bus.WorkspacesChanged) {
		paths := r.manager.ProjectPaths()
		r.poller.SetTrackedProjects(paths)
		if r.watcher != nil {
			r.watcher.Sync(paths)
		}
	})

	go r.poller.Run(ctx)
	go r.heartbeatLoop(ctx)
}

func (r *runtime) heartbeatLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.db.Heartbeat()
			_ = r.db.CleanDeadInstances(electionTimeout)
			if !r.primary {
				// A crashed primary leaves its claim behind; take over.
				if claimed, err := r.db.ElectPrimary(electionTimeout); err == nil && claimed {
					r.primary = true
					logging.ForComponent(logging.CompStorage).Info("promoted_to_primary")
				}
			}
		}
	}
}

// mergeHandler applies the project's configured Trello merge action.
func (r *runtime) mergeHandler() poller.MergeHandler {
	automation := trello.NewAutomation(trello.NewConfigStore())
	return func(ctx context.Context, projectPath, branch string) (string, error) {
		return automation.ApplyMergeAction(ctx, projectPath, branch)
	}
}

// hookSocket returns the socket exported to spawned panes, empty when
// this instance does not own the bridge.
func (r *runtime) hookSocket() string {
	if r.bridge == nil {
		return ""
	}
	return r.bridge.Path()
}

// shutdown tears the graph down in reverse dependency order.
func (r *runtime) shutdown(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	if r.webServer != nil {
		_ = r.webServer.Shutdown(ctx)
	}
	if r.host != nil {
		r.host.Close()
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	if r.bridge != nil {
		_ = r.bridge.Close()
	}
	r.bus.Close()

	select {
	case <-r.done:
	case <-time.After(time.Second):
	}

	if r.primary {
		_ = r.db.ResignPrimary()
	}
	_ = r.db.UnregisterInstance()
	_ = r.db.Close()
}

func dbPath() string {
	return filepath.Join(config.Home(), "state.db")
}

func legacyWorkspacesPath() string {
	return filepath.Join(config.Home(), "workspaces.json")
}

func initLogging(debug bool) {
	logging.Init(logging.Config{
		Debug:        debug,
		LogDir:       config.Home(),
		Level:        "debug",
		Format:       "json",
		PprofEnabled: os.Getenv("WORKDECK_PPROF") != "",
	})
	// Stray stdlib log output, ours or a dependency's, would land on
	// stderr and corrupt the TUI; route it through the structured
	// pipeline instead.
	stdlog.SetFlags(0)
	stdlog.SetOutput(logging.NewBridgeWriter("stdlib"))
}

func exitErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
