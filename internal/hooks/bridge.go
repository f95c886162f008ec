// Package hooks receives agent lifecycle events over a local socket and
// installs the agent-side configuration that makes the agents send them.
package hooks

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"

	"log/slog"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/config"
	"github.com/workdeck/workdeck/internal/logging"
)

var log = logging.ForComponent(logging.CompHooks)

const socketName = "claude-hooks.sock"

// SocketPath returns where the hook bridge listens.
func SocketPath() string {
	return filepath.Join(config.Home(), socketName)
}

// envelope is one line on the hook socket. Exactly one of Hook (claude)
// or Codex is set.
type envelope struct {
	PaneID string          `json:"pane_id"`
	Hook   json.RawMessage `json:"hook"`
	Codex  json.RawMessage `json:"codex"`
}

// claudePayload is the subset of a claude hook body the classifier needs.
type claudePayload struct {
	SessionID      string `json:"session_id"`
	HookEventName  string `json:"hook_event_name"`
	Source         string `json:"source"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	Message        string `json:"message"`
}

type codexPayload struct {
	ThreadID    string `json:"thread-id"`
	ThreadIDAlt string `json:"thread_id"`
	Event       string `json:"event"`
}

// decodeEnvelope turns one socket line into a typed bus event. The second
// return distinguishes claude from codex.
func decodeEnvelope(line []byte) (bus.ClaudeHook, bus.CodexNotify, bool, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return bus.ClaudeHook{}, bus.CodexNotify{}, false, err
	}
	if env.PaneID == "" {
		return bus.ClaudeHook{}, bus.CodexNotify{}, false, errors.New("missing pane_id")
	}

	if env.Hook != nil {
		var p claudePayload
		if err := json.Unmarshal(env.Hook, &p); err != nil {
			return bus.ClaudeHook{}, bus.CodexNotify{}, false, err
		}
		return bus.ClaudeHook{
			PaneID:         env.PaneID,
			SessionID:      p.SessionID,
			EventName:      p.HookEventName,
			Source:         p.Source,
			CWD:            p.CWD,
			TranscriptPath: p.TranscriptPath,
			Message:        p.Message,
		}, bus.CodexNotify{}, true, nil
	}

	if env.Codex != nil {
		var p codexPayload
		if err := json.Unmarshal(env.Codex, &p); err != nil {
			return bus.ClaudeHook{}, bus.CodexNotify{}, false, err
		}
		sessionID := p.ThreadID
		if sessionID == "" {
			sessionID = p.ThreadIDAlt
		}
		return bus.ClaudeHook{}, bus.CodexNotify{
			PaneID:    env.PaneID,
			SessionID: sessionID,
			Event:     p.Event,
		}, false, nil
	}

	return bus.ClaudeHook{}, bus.CodexNotify{}, false, errors.New("envelope carries neither hook nor codex")
}

// Bridge owns the unix socket agents report into. Lines are decoded and
// published as ClaudeHook / CodexNotify events; malformed lines are logged
// and dropped so a broken hook script cannot wedge the listener.
type Bridge struct {
	bus  *bus.Bus
	path string

	mu       sync.Mutex
	listener net.Listener
}

func NewBridge(b *bus.Bus) *Bridge {
	return &Bridge{bus: b, path: SocketPath()}
}

// Path returns the socket path; empty until Start succeeds.
func (br *Bridge) Path() string {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.listener == nil {
		return ""
	}
	return br.path
}

// Start binds the socket, replacing any stale file from a previous run.
func (br *Bridge) Start() error {
	if err := os.MkdirAll(filepath.Dir(br.path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(br.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	listener, err := net.Listen("unix", br.path)
	if err != nil {
		return err
	}

	br.mu.Lock()
	br.listener = listener
	br.mu.Unlock()

	go br.acceptLoop(listener)
	log.Info("hook_bridge_listening", slog.String("socket", br.path))
	return nil
}

func (br *Bridge) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("hook_accept_failed", slog.String("error", err.Error()))
			continue
		}
		go br.handleConn(conn)
	}
}

func (br *Bridge) handleConn(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 16*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		claude, codex, isClaude, err := decodeEnvelope(line)
		if err != nil {
			log.Warn("invalid_hook_payload", slog.String("error", err.Error()))
			continue
		}
		if isClaude {
			log.Debug("claude_hook",
				slog.String("pane", claude.PaneID),
				slog.String("event", claude.EventName))
			br.bus.PublishClaudeHook(claude)
		} else {
			log.Debug("codex_notify",
				slog.String("pane", codex.PaneID),
				slog.String("event", codex.Event))
			br.bus.PublishCodexNotify(codex)
		}
	}
}

// Close shuts the listener down and removes the socket file.
func (br *Bridge) Close() error {
	br.mu.Lock()
	listener := br.listener
	br.listener = nil
	br.mu.Unlock()
	if listener == nil {
		return nil
	}
	err := listener.Close()
	os.Remove(br.path)
	return err
}
