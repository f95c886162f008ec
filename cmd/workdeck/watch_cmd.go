package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"log/slog"

	"github.com/workdeck/workdeck/internal/config"
	"github.com/workdeck/workdeck/internal/logging"
)

// handleWatch runs the daemon in the foreground: polling, hook bridge,
// git watcher, notifications, and (when enabled) the web dashboard.
func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	webFlag := fs.Bool("web", false, "serve the web dashboard even if the config leaves it off")
	debugFlag := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: workdeck watch [--web] [--debug]")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	initLogging(*debugFlag || os.Getenv("WORKDECK_DEBUG") != "")
	defer logging.Shutdown()

	cfg := config.Load()
	if *webFlag {
		cfg.Web.Enabled = true
	}

	rt, err := newRuntime(cfg, runtimeOptions{withWeb: true})
	if err != nil {
		exitErr("%v", err)
	}

	rt.start(context.Background())

	if rt.webServer != nil {
		go func() {
			if err := rt.webServer.Start(); err != nil {
				logging.ForComponent(logging.CompWeb).Error("web_server_failed",
					slog.String("error", err.Error()))
			}
		}()
		fmt.Printf("workdeck watch: web dashboard on http://%s\n", rt.webServer.Addr())
	}
	role := "secondary"
	if rt.primary {
		role = "primary"
	}
	fmt.Printf("workdeck watch: running (%s instance, ctrl-c to stop)\n", role)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh

	// SIGQUIT is the live-debugging exit: persist the in-memory ring of
	// recent log records before going down.
	if sig == syscall.SIGQUIT {
		dumpPath := filepath.Join(config.Home(), "crash-dump.log")
		if err := logging.DumpRingBuffer(dumpPath); err != nil {
			fmt.Fprintf(os.Stderr, "workdeck watch: ring buffer dump failed: %v\n", err)
		} else {
			fmt.Printf("workdeck watch: recent log records dumped to %s\n", dumpPath)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rt.shutdown(shutdownCtx)
	cancel()
}
