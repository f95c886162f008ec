package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/workdeck/workdeck/internal/config"
)

const notifyScriptName = "workdeck-codex-notify-bridge.sh"

// notifyScriptBody forwards the codex notify argument through the hook
// socket. It leans on the workdeck binary so the script itself stays
// trivial; exiting 0 unconditionally keeps a broken bridge from ever
// failing the agent.
const notifyScriptBody = `#!/usr/bin/env bash
[ -z "$WORKDECK_HOOK_SOCKET" ] && exit 0
[ -z "$WORKDECK_PANE_ID" ] && exit 0
[ -z "$1" ] && exit 0
printf '%s' "$1" | workdeck hook codex >/dev/null 2>&1
exit 0
`

// CodexInstaller patches ~/.codex/config.toml to call the notify bridge.
type CodexInstaller struct {
	codexDir string // ~/.codex
}

func NewCodexInstaller() *CodexInstaller {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &CodexInstaller{codexDir: filepath.Join(home, ".codex")}
}

func (in *CodexInstaller) scriptPath() string {
	return filepath.Join(in.codexDir, notifyScriptName)
}

// ensureScript installs the bridge script, rewriting only when the
// content drifted so repeated setup runs leave mtimes alone.
func ensureScript(path, body string) error {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == body {
		return os.Chmod(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return err
	}
	return os.Chmod(path, 0o755)
}

func tomlEscape(value string) string {
	return strings.ReplaceAll(strings.ReplaceAll(value, `\`, `\\`), `"`, `\"`)
}

// ensureNotifyLine rewrites the top-level notify key to invoke the bridge
// script, replacing an existing notify or appending one. Every other line
// is preserved byte for byte. The bool reports whether content changed.
func ensureNotifyLine(content, scriptPath string) (string, bool) {
	if strings.Contains(content, scriptPath) {
		return content, false
	}
	notifyLine := fmt.Sprintf("notify = [\"bash\", \"%s\"]", tomlEscape(scriptPath))

	hadTrailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	replaced := false
	for i, line := range lines {
		// Only a top-level notify key counts; indented ones belong to tables.
		if !replaced && strings.TrimLeft(line, " \t") == line && strings.HasPrefix(line, "notify =") {
			lines[i] = notifyLine
			replaced = true
		}
	}
	if replaced {
		updated := strings.Join(lines, "\n")
		if hadTrailingNewline {
			updated += "\n"
		}
		return updated, true
	}

	updated := content
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	return updated + notifyLine + "\n", true
}

// Install writes the bridge script and points config.toml's notify at it.
// The patched config must still parse as TOML before it is written back.
func (in *CodexInstaller) Install() error {
	if err := os.MkdirAll(in.codexDir, 0o755); err != nil {
		return err
	}
	script := in.scriptPath()
	if err := ensureScript(script, notifyScriptBody); err != nil {
		return err
	}

	configPath := filepath.Join(in.codexDir, "config.toml")
	content := ""
	if data, err := os.ReadFile(configPath); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return err
	}

	updated, changed := ensureNotifyLine(content, script)
	if !changed {
		return nil
	}

	var parsed map[string]any
	if err := toml.Unmarshal([]byte(updated), &parsed); err != nil {
		return fmt.Errorf("patched codex config does not parse: %w", err)
	}

	log.Info("codex_notify_installed", slog.String("path", configPath))
	return config.AtomicWrite(configPath, []byte(updated))
}

// Installed reports whether config.toml already routes notify through the
// bridge script.
func (in *CodexInstaller) Installed() bool {
	data, err := os.ReadFile(filepath.Join(in.codexDir, "config.toml"))
	if err != nil {
		return false
	}
	if _, err := os.Stat(in.scriptPath()); err != nil {
		return false
	}
	return strings.Contains(string(data), in.scriptPath())
}
