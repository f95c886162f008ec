package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/workdeck/workdeck/internal/config"
)

// Scope selects which claude settings file an install targets.
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeUserLocal    Scope = "user-local"
	ScopeProject      Scope = "project"
	ScopeProjectLocal Scope = "project-local"
)

// hookCommand is one command entry inside a claude settings hook matcher.
type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// hookMatcher is one entry in a settings hook event list.
type hookMatcher struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []hookCommand `json:"hooks"`
}

// ClaudeInstaller wires the hook forwarder into claude's settings.json.
// Unrelated settings are preserved verbatim via RawMessage.
type ClaudeInstaller struct {
	claudeDir string // ~/.claude
	command   string // what the hook invokes
}

func NewClaudeInstaller() *ClaudeInstaller {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &ClaudeInstaller{
		claudeDir: filepath.Join(home, ".claude"),
		command:   "workdeck hook claude",
	}
}

func (in *ClaudeInstaller) settingsPath(scope Scope, projectPath string) string {
	base := projectPath
	if base == "" {
		base = "."
	}
	switch scope {
	case ScopeUserLocal:
		return filepath.Join(in.claudeDir, "settings.local.json")
	case ScopeProject:
		return filepath.Join(base, ".claude", "settings.json")
	case ScopeProjectLocal:
		return filepath.Join(base, ".claude", "settings.local.json")
	default:
		return filepath.Join(in.claudeDir, "settings.json")
	}
}

// hookedEvents are the claude lifecycle events the classifier consumes.
// Notification is restricted to the prompts that actually need a human.
var hookedEvents = []struct {
	event   string
	matcher string
}{
	{"SessionStart", ""},
	{"UserPromptSubmit", ""},
	{"Stop", ""},
	{"Notification", "permission_prompt|elicitation_dialog"},
	{"SessionEnd", ""},
}

// Install adds the hook entries to the chosen settings file, creating it
// when absent. Re-running against an installed file is a no-op.
func (in *ClaudeInstaller) Install(scope Scope, projectPath string) error {
	path := in.settingsPath(scope, projectPath)

	settings := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	hooksSection := map[string][]json.RawMessage{}
	if raw, ok := settings["hooks"]; ok {
		if err := json.Unmarshal(raw, &hooksSection); err != nil {
			return fmt.Errorf("parse hooks section of %s: %w", path, err)
		}
	}

	changed := false
	for _, he := range hookedEvents {
		if containsCommand(hooksSection[he.event], in.command) {
			continue
		}
		entry, err := json.Marshal(hookMatcher{
			Matcher: he.matcher,
			Hooks:   []hookCommand{{Type: "command", Command: in.command}},
		})
		if err != nil {
			return err
		}
		hooksSection[he.event] = append(hooksSection[he.event], entry)
		changed = true
	}
	if !changed {
		return nil
	}

	rawHooks, err := json.Marshal(hooksSection)
	if err != nil {
		return err
	}
	settings["hooks"] = rawHooks

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	log.Info("claude_hooks_installed", slog.String("path", path))
	return config.AtomicWrite(path, append(out, '\n'))
}

// Installed reports whether every hooked event already invokes the
// forwarder in the given settings file.
func (in *ClaudeInstaller) Installed(scope Scope, projectPath string) bool {
	data, err := os.ReadFile(in.settingsPath(scope, projectPath))
	if err != nil {
		return false
	}
	var settings struct {
		Hooks map[string][]json.RawMessage `json:"hooks"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return false
	}
	for _, he := range hookedEvents {
		if !containsCommand(settings.Hooks[he.event], in.command) {
			return false
		}
	}
	return true
}

func containsCommand(entries []json.RawMessage, command string) bool {
	needle, _ := json.Marshal(command)
	for _, entry := range entries {
		if bytes.Contains(entry, needle) {
			return true
		}
	}
	return false
}
