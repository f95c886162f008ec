package discovery

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"log/slog"

	"github.com/workdeck/workdeck/internal/workspace"
)

// Codex rollout files interleave large tool output after the prompt, so the
// scan stops early once metadata and a label candidate have had a chance to
// appear.
const codexMaxScanLines = 200

// CodexSessions lists sessions under ~/.codex/sessions/**/*.jsonl whose
// recorded cwd matches projectPath, newest first. The directory nests by
// date (year/month/day/file), hence the depth cap of four.
func (s *Scanner) CodexSessions(projectPath string) ([]workspace.DiscoveredSession, error) {
	canonical := canonicalPath(projectPath)
	files := collectJSONLFiles(s.codexDir, 4)

	var sessions []workspace.DiscoveredSession
	for _, path := range files {
		if sess, ok := parseCodexSession(path, canonical); ok {
			sessions = append(sessions, sess)
		}
	}

	sortNewestFirst(sessions)
	log.Debug("codex_sessions_scanned",
		slog.String("project", projectPath),
		slog.Int("files", len(files)),
		slog.Int("matched", len(sessions)))
	return sessions, nil
}

func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// collectJSONLFiles walks dir up to maxDepth levels deep and returns every
// .jsonl file found.
func collectJSONLFiles(dir string, maxDepth int) []string {
	if maxDepth == 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var results []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			results = append(results, collectJSONLFiles(path, maxDepth-1)...)
		} else if strings.HasSuffix(entry.Name(), ".jsonl") {
			results = append(results, path)
		}
	}
	return results
}

// codexMetaCandidates returns the places a rollout file may stash its
// session metadata, in lookup order.
func codexMetaCandidates(obj map[string]any) []map[string]any {
	var out []map[string]any
	item, _ := obj["item"].(map[string]any)
	if item != nil {
		if m, ok := item["meta"].(map[string]any); ok {
			out = append(out, m)
		}
	}
	if m, ok := obj["meta"].(map[string]any); ok {
		out = append(out, m)
	}
	if item != nil {
		if m, ok := item["payload"].(map[string]any); ok {
			out = append(out, m)
		}
	}
	if m, ok := obj["payload"].(map[string]any); ok {
		out = append(out, m)
	}
	return out
}

func isCodexMetaRow(obj map[string]any, lineIndex int) bool {
	if lineIndex == 0 {
		return true
	}
	if asString(obj["type"]) == "session_meta" {
		return true
	}
	if item, ok := obj["item"].(map[string]any); ok {
		return asString(item["type"]) == "session_meta"
	}
	return false
}

// parseCodexSession parses one rollout file. It returns false when the file
// belongs to a different project or carries no usable session id.
func parseCodexSession(path, canonicalProject string) (workspace.DiscoveredSession, bool) {
	f, err := os.Open(path)
	if err != nil {
		return workspace.DiscoveredSession{}, false
	}
	defer f.Close()

	var sessionID, timestamp, label string
	cwdMatches := false

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	i := -1
	for sc.Scan() {
		i++
		if i > codexMaxScanLines {
			break
		}
		var obj map[string]any
		if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
			continue
		}

		if isCodexMetaRow(obj, i) {
			for _, meta := range codexMetaCandidates(obj) {
				if cwd, ok := meta["cwd"].(string); ok {
					if canonicalPath(cwd) != canonicalProject {
						return workspace.DiscoveredSession{}, false
					}
					cwdMatches = true
				}
				if sessionID == "" {
					if id, ok := meta["id"].(string); ok {
						sessionID = id
					}
				}
				if timestamp == "" {
					switch ts := meta["timestamp"].(type) {
					case string:
						timestamp = ts
					case float64:
						timestamp = strconv.FormatFloat(ts, 'f', -1, 64)
					}
				}
			}

			// Older rollouts keep metadata at the top level.
			if sessionID == "" {
				if id, ok := obj["id"].(string); ok {
					sessionID = id
				}
			}
			if timestamp == "" {
				if ts, ok := obj["timestamp"].(string); ok {
					timestamp = ts
				}
			}
			if !cwdMatches {
				if cwd, ok := obj["cwd"].(string); ok {
					if canonicalPath(cwd) != canonicalProject {
						return workspace.DiscoveredSession{}, false
					}
					cwdMatches = true
				}
			}
		}

		// The first row is metadata only; never a label candidate.
		if i == 0 {
			continue
		}

		raw, ok := extractCodexUserMessage(obj)
		if !ok {
			continue
		}
		trimmed := stripCodexRequestPrefix(raw)
		if len(trimmed) <= minUserMessageLen || isCodexBootstrapMessage(trimmed) {
			continue
		}
		label = truncateLabel(trimmed)
		break
	}

	if !cwdMatches {
		return workspace.DiscoveredSession{}, false
	}
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}
	if sessionID == "" {
		return workspace.DiscoveredSession{}, false
	}
	if label == "" {
		label = fallbackLabel(sessionID)
	}
	return workspace.DiscoveredSession{SessionID: sessionID, Label: label, Timestamp: timestamp}, true
}

// extractCodexUserMessage pulls user prompt text out of a rollout event.
// Codex has used several envelope shapes across releases; each is tried in
// turn.
func extractCodexUserMessage(obj map[string]any) (string, bool) {
	// { "type": "response_item", "payload": { "role": "user", "type": "message", "content": [...] } }
	if asString(obj["type"]) == "response_item" {
		if payload, ok := obj["payload"].(map[string]any); ok {
			if asString(payload["role"]) == "user" && asString(payload["type"]) == "message" {
				return extractText(payload["content"])
			}
		}
	}

	// { "type": "user", "message": { "content": ... } }
	if asString(obj["type"]) == "user" {
		var content any
		if msg, ok := obj["message"].(map[string]any); ok {
			content = msg["content"]
		}
		return extractText(content)
	}

	// { "item": { "role": "user", "content": [...] } }
	if item, ok := obj["item"].(map[string]any); ok {
		if asString(item["role"]) == "user" {
			return extractText(item["content"])
		}
	}

	// { "role": "user", "content": ... }
	if asString(obj["role"]) == "user" {
		return extractText(obj["content"])
	}

	// { "type": "event_msg", "payload": { "type": "user_message", "text": ... } }
	if asString(obj["type"]) == "event_msg" {
		if payload, ok := obj["payload"].(map[string]any); ok {
			if asString(payload["type"]) == "user_message" {
				if text, ok := payload["text"].(string); ok {
					return text, true
				}
			}
		}
	}

	return "", false
}

// stripCodexRequestPrefix removes the boilerplate header some frontends
// prepend to the actual prompt.
func stripCodexRequestPrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, prefix := range []string{
		"## My request for Codex:\r\n",
		"## My request for Codex:\n",
		"## My request for Codex:",
	} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return trimmed
}

// isCodexBootstrapMessage reports whether a user-role message is really
// injected context rather than something the user typed.
func isCodexBootstrapMessage(text string) bool {
	line := strings.TrimSpace(firstLine(text))
	if line == "" {
		return true
	}
	for _, prefix := range []string{
		"# AGENTS.md instructions for ",
		"# AGENTS",
		"# CLAUDE.md",
		"<environment_context>",
		"<permissions instructions>",
		"<app-context>",
		"<collaboration_mode>",
		"<INSTRUCTIONS>",
		"Warning: apply_patch was requested via exec_command.",
	} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
