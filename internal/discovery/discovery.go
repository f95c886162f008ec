// Package discovery scans the session logs that agent CLIs leave on disk,
// so a pane started without hook integration can still be resumed later.
package discovery

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"

	"github.com/workdeck/workdeck/internal/logging"
	"github.com/workdeck/workdeck/internal/workspace"
)

var log = logging.ForComponent(logging.CompDiscovery)

// Session lines can carry whole transcript chunks.
const maxLineBytes = 4 * 1024 * 1024

// Scanner reads the JSONL session files written by the claude and codex CLIs.
type Scanner struct {
	claudeDir string // ~/.claude
	codexDir  string // ~/.codex/sessions
}

func NewScanner() *Scanner {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Scanner{
		claudeDir: filepath.Join(home, ".claude"),
		codexDir:  filepath.Join(home, ".codex", "sessions"),
	}
}

// ListerFor adapts the scanner to workspace.Manager.DiscoverSessionID for
// the given agent type. Returns nil for non-agent types.
func (s *Scanner) ListerFor(t workspace.SessionType) workspace.SessionLister {
	switch t {
	case workspace.TypeClaude:
		return s.ClaudeSessions
	case workspace.TypeCodex:
		return s.CodexSessions
	default:
		return nil
	}
}

// ClaudeSessions lists sessions recorded under
// ~/.claude/projects/<encoded-path>/*.jsonl, newest first. The claude CLI
// encodes the project path by replacing every "/" with "-".
func (s *Scanner) ClaudeSessions(projectPath string) ([]workspace.DiscoveredSession, error) {
	encoded := strings.ReplaceAll(projectPath, "/", "-")
	dir := filepath.Join(s.claudeDir, "projects", encoded)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []workspace.DiscoveredSession
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".jsonl")
		if id == "" {
			continue
		}
		if sess, ok := parseClaudeSession(filepath.Join(dir, entry.Name()), id); ok {
			sessions = append(sessions, sess)
		}
	}

	sortNewestFirst(sessions)
	log.Debug("claude_sessions_scanned",
		slog.String("project", projectPath),
		slog.Int("found", len(sessions)))
	return sessions, nil
}

// parseClaudeSession pulls the timestamp from the first entry and labels the
// session with its first real user message.
func parseClaudeSession(path, id string) (workspace.DiscoveredSession, bool) {
	f, err := os.Open(path)
	if err != nil {
		return workspace.DiscoveredSession{}, false
	}
	defer f.Close()

	var label, timestamp string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		var obj map[string]any
		if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
			continue
		}
		if timestamp == "" {
			if ts, ok := obj["timestamp"].(string); ok {
				timestamp = ts
			}
		}
		if asString(obj["type"]) != "user" {
			continue
		}
		if isMeta, _ := obj["isMeta"].(bool); isMeta {
			continue
		}

		var content any
		if msg, ok := obj["message"].(map[string]any); ok {
			content = msg["content"]
		}
		raw, ok := extractText(content)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(raw)
		if skippableUserMessage(trimmed) {
			continue
		}
		label = truncateLabel(trimmed)
		break
	}

	if label == "" {
		label = fallbackLabel(id)
	}
	return workspace.DiscoveredSession{SessionID: id, Label: label, Timestamp: timestamp}, true
}

func sortNewestFirst(sessions []workspace.DiscoveredSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Timestamp > sessions[j].Timestamp
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
