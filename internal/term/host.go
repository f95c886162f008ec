// Package term hosts per-pane PTY sessions. Each pane runs a login
// shell under a pseudo-terminal; output is drained by a reader
// goroutine and coalesced by an emitter goroutine before being
// published on the bus, so a pane streaming heavy output never floods
// subscribers with tiny events.
package term

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"log/slog"

	"github.com/creack/pty"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/logging"
)

var log = logging.ForComponent(logging.CompTerm)

const (
	readBufferSize = 32 * 1024
	dataChannelCap = 256
	startupDelay   = 300 * time.Millisecond
	exitTailLines  = 5
)

// ActivitySink receives local-input and viewport signals from the host.
// *activity.Classifier satisfies it.
type ActivitySink interface {
	TrackPane(paneID string)
	RemovePane(paneID string)
	Keystroke(paneID, data string)
	ViewportChanged(paneID string)
}

// SpawnOptions configures one pane.
type SpawnOptions struct {
	PaneID         string
	Dir            string // working directory for the shell
	Cols           uint16
	Rows           uint16
	StartupCommand string // written to the pane after a short delay
	HookSocket     string // exported as WORKDECK_HOOK_SOCKET when set
}

type pane struct {
	mu     sync.Mutex
	pty    *os.File
	cmd    *exec.Cmd
	scroll *scrollback
	closed bool
}

func (p *pane) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.pty.Close()
}

// Host manages PTY sessions with per-pane locking so operations on one
// pane never block another. The map lock is only held briefly for
// insert/remove/lookup, never during I/O.
type Host struct {
	bus         *bus.Bus
	activity    ActivitySink
	shell       string // config override, empty = inherit $SHELL
	scrollLimit int

	mu    sync.Mutex
	panes map[string]*pane
}

func NewHost(b *bus.Bus, sink ActivitySink, shellOverride string) *Host {
	return &Host{
		bus:         b,
		activity:    sink,
		shell:       shellOverride,
		scrollLimit: defaultScrollbackLines,
		panes:       make(map[string]*pane),
	}
}

// SetScrollbackLimit overrides the per-pane retained-line cap from user
// config. Zero or negative keeps the default.
func (h *Host) SetScrollbackLimit(lines int) {
	if lines > 0 {
		h.scrollLimit = lines
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		if shell := os.Getenv("COMSPEC"); shell != "" {
			return shell
		}
		return "powershell.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/zsh"
}

func (h *Host) get(paneID string) *pane {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.panes[paneID]
}

func (h *Host) remove(paneID string) *pane {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.panes[paneID]
	delete(h.panes, paneID)
	return p
}

// Spawn starts a shell for the pane and begins streaming its output as
// terminal:data events. The pane exists until the shell exits or Kill
// is called; either way a single terminal:exit event is published.
func (h *Host) Spawn(opts SpawnOptions) error {
	if opts.PaneID == "" {
		return fmt.Errorf("pane id required")
	}
	shell := h.shell
	if shell == "" {
		shell = defaultShell()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command(shell)
	} else {
		cmd = exec.Command(shell, "-l")
	}
	cmd.Dir = opts.Dir
	env := append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"WORKDECK_PANE_ID="+opts.PaneID,
	)
	if os.Getenv("LANG") == "" {
		env = append(env, "LANG=en_US.UTF-8")
	}
	if opts.HookSocket != "" {
		env = append(env, "WORKDECK_HOOK_SOCKET="+opts.HookSocket)
	}
	cmd.Env = env

	size := &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return fmt.Errorf("spawn shell: %w", err)
	}

	p := &pane{pty: ptmx, cmd: cmd, scroll: newScrollback(h.scrollLimit)}

	h.mu.Lock()
	if _, exists := h.panes[opts.PaneID]; exists {
		h.mu.Unlock()
		p.close()
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		return fmt.Errorf("pane already exists: %s", opts.PaneID)
	}
	h.panes[opts.PaneID] = p
	h.mu.Unlock()

	h.activity.TrackPane(opts.PaneID)
	log.Info("pane_spawned",
		slog.String("pane", opts.PaneID),
		slog.String("shell", shell),
		slog.String("dir", opts.Dir))

	// Reader drains the PTY as fast as possible; the emitter coalesces
	// and publishes at a controlled rate (same two-goroutine split as
	// Alacritty's output pipeline). The channel closing is the only
	// shutdown signal between them.
	dataCh := make(chan string, dataChannelCap)
	go readLoop(ptmx, dataCh)
	go func() {
		pump(dataCh, func(data string) {
			// Chunks arrive far too often to log individually; the
			// aggregator folds them into a periodic summary line.
			logging.Aggregate(logging.CompTerm, "terminal_data",
				slog.String("pane", opts.PaneID),
				slog.Int("last_chunk_bytes", len(data)))
			p.scroll.Append(data)
			h.bus.PublishTerminalData(bus.TerminalData{PaneID: opts.PaneID, Data: data})
		})
		h.reap(opts.PaneID, p)
	}()

	if opts.StartupCommand != "" {
		paneID, startup := opts.PaneID, opts.StartupCommand
		go func() {
			time.Sleep(startupDelay)
			_ = h.Write(paneID, startup+"\n")
		}()
	}
	return nil
}

// Write reports the input to the activity sink, then sends it to the
// pane's PTY.
func (h *Host) Write(paneID, data string) error {
	p := h.get(paneID)
	if p == nil {
		return fmt.Errorf("pane not found: %s", paneID)
	}
	h.activity.Keystroke(paneID, data)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pane closed: %s", paneID)
	}
	if _, err := p.pty.Write([]byte(data)); err != nil {
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

// Resize changes the pane's terminal size and records a viewport
// change so redraw churn is not misread as fresh activity.
func (h *Host) Resize(paneID string, cols, rows uint16) error {
	p := h.get(paneID)
	if p == nil {
		return fmt.Errorf("pane not found: %s", paneID)
	}
	h.activity.ViewportChanged(paneID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pane closed: %s", paneID)
	}
	if err := pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	return nil
}

// Kill terminates the pane's shell. A no-op when the pane has already
// been cleaned up by the reader side. The exit event is published by
// the emitter goroutine once the reader drains.
func (h *Host) Kill(paneID string) error {
	p := h.remove(paneID)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	proc := p.cmd.Process
	p.mu.Unlock()
	if proc != nil {
		_ = proc.Kill()
	}
	p.close()
	return nil
}

// Close kills every pane.
func (h *Host) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.panes))
	for id := range h.panes {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		_ = h.Kill(id)
	}
}

// reap runs once per pane, after the emitter has flushed the last of
// the reader's output.
func (h *Host) reap(paneID string, p *pane) {
	h.mu.Lock()
	if h.panes[paneID] == p {
		delete(h.panes, paneID)
	}
	h.mu.Unlock()

	p.close()
	code := exitCode(p.cmd.Wait())
	h.activity.RemovePane(paneID)
	log.Info("pane_exited",
		slog.String("pane", paneID),
		slog.Int("code", code))
	if code != 0 {
		if tail := p.scroll.Tail(exitTailLines); tail != "" {
			log.Debug("pane_exit_tail",
				slog.String("pane", paneID),
				slog.String("tail", tail))
		}
	}
	h.bus.PublishTerminalExit(bus.TerminalExit{PaneID: paneID, ExitCode: code})
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
	}
	// Killed by signal or wait failure.
	return 1
}
