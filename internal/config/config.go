// Package config loads and saves workdeck configuration: the TOML user
// config at ~/.workdeck/config.toml plus helpers for the JSON files the
// integrations keep under the same home directory.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/workdeck/workdeck/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// ConfigFileName is the TOML config file for user preferences.
const ConfigFileName = "config.toml"

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Poll controls the GitHub status poller cadence.
	Poll PollSettings `toml:"poll"`

	// Notifications controls check-transition and attention notifications.
	Notifications NotificationSettings `toml:"notifications"`

	// Terminal controls pane shell behavior.
	Terminal TerminalSettings `toml:"terminal"`

	// Theme sets the color scheme: "auto" (default), "dark", or "light".
	Theme ThemeSettings `toml:"theme"`

	// Web controls the local dashboard server.
	Web WebSettings `toml:"web"`
}

// PollSettings defines GitHub poller intervals.
type PollSettings struct {
	// SlowIntervalSecs is the background poll interval for tracked projects (default: 90)
	SlowIntervalSecs int `toml:"slow_interval_secs"`

	// FastIntervalSecs is the focused-checks poll interval while runs are pending (default: 15)
	FastIntervalSecs int `toml:"fast_interval_secs"`

	// DebounceMillis is the window for collapsing burst refresh requests (default: 500)
	DebounceMillis int `toml:"debounce_millis"`
}

// NotificationSettings defines notification delivery toggles.
type NotificationSettings struct {
	// Enabled gates all notification delivery (default: true)
	Enabled *bool `toml:"enabled"`

	// Desktop enables native desktop notifications (default: true)
	Desktop *bool `toml:"desktop"`

	// Push enables web push delivery to subscribed browsers (default: false)
	Push bool `toml:"push"`
}

// TerminalSettings defines pane shell behavior.
type TerminalSettings struct {
	// Shell overrides $SHELL for new panes (empty = inherit)
	Shell string `toml:"shell"`

	// ScrollbackLines caps retained output per pane (default: 10000)
	ScrollbackLines int `toml:"scrollback_lines"`
}

// ThemeSettings defines TUI appearance.
type ThemeSettings struct {
	// Mode is "auto", "dark", or "light" (default: "auto")
	Mode string `toml:"mode"`
}

// WebSettings defines the local dashboard server.
type WebSettings struct {
	// Enabled starts the web server with `workdeck watch` (default: false)
	Enabled bool `toml:"enabled"`

	// Addr is the listen address (default: "127.0.0.1:9483")
	Addr string `toml:"addr"`
}

// Defaults applied when fields are missing or zero.
const (
	defaultSlowIntervalSecs = 90
	defaultFastIntervalSecs = 15
	defaultDebounceMillis   = 500
	defaultScrollbackLines  = 10000
	defaultWebAddr          = "127.0.0.1:9483"
)

// Home returns the workdeck home directory, honoring WORKDECK_HOME.
func Home() string {
	if dir := os.Getenv("WORKDECK_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".workdeck")
	}
	return filepath.Join(home, ".workdeck")
}

var (
	cached   *Config
	cachedMu sync.Mutex
)

// Load reads the user config, returning defaults when the file is missing.
// The result is cached for the process lifetime; use Reload to force a re-read.
func Load() *Config {
	cachedMu.Lock()
	defer cachedMu.Unlock()
	if cached != nil {
		return cached
	}
	cached = loadFromDisk()
	return cached
}

// Reload drops the cache and re-reads the config file.
func Reload() *Config {
	cachedMu.Lock()
	defer cachedMu.Unlock()
	cached = loadFromDisk()
	return cached
}

func loadFromDisk() *Config {
	cfg := &Config{}
	path := filepath.Join(Home(), ConfigFileName)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			configLog.Warn("config_parse_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Poll.SlowIntervalSecs <= 0 {
		c.Poll.SlowIntervalSecs = defaultSlowIntervalSecs
	}
	if c.Poll.FastIntervalSecs <= 0 {
		c.Poll.FastIntervalSecs = defaultFastIntervalSecs
	}
	if c.Poll.DebounceMillis <= 0 {
		c.Poll.DebounceMillis = defaultDebounceMillis
	}
	if c.Terminal.ScrollbackLines <= 0 {
		c.Terminal.ScrollbackLines = defaultScrollbackLines
	}
	if c.Theme.Mode == "" {
		c.Theme.Mode = "auto"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = defaultWebAddr
	}
}

// SlowInterval returns the background poll interval.
func (c *Config) SlowInterval() time.Duration {
	return time.Duration(c.Poll.SlowIntervalSecs) * time.Second
}

// FastInterval returns the focused-checks poll interval.
func (c *Config) FastInterval() time.Duration {
	return time.Duration(c.Poll.FastIntervalSecs) * time.Second
}

// RefreshDebounce returns the refresh-collapse window.
func (c *Config) RefreshDebounce() time.Duration {
	return time.Duration(c.Poll.DebounceMillis) * time.Millisecond
}

// NotificationsEnabled reports whether notification delivery is on.
func (c *Config) NotificationsEnabled() bool {
	if c.Notifications.Enabled == nil {
		return true
	}
	return *c.Notifications.Enabled
}

// DesktopNotificationsEnabled reports whether desktop delivery is on.
func (c *Config) DesktopNotificationsEnabled() bool {
	if !c.NotificationsEnabled() {
		return false
	}
	if c.Notifications.Desktop == nil {
		return true
	}
	return *c.Notifications.Desktop
}

// Save writes the config atomically to ~/.workdeck/config.toml.
func (c *Config) Save() error {
	dir := Home()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return AtomicWrite(filepath.Join(dir, ConfigFileName), buf.Bytes())
}

// AtomicWrite writes data to path via a temp file and rename so readers
// never observe a partial file.
func AtomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// EncodeProjectPath encodes a project path for use as a filename,
// replacing path separators with '-' (the same scheme claude uses for
// ~/.claude/projects directories).
func EncodeProjectPath(projectPath string) string {
	out := make([]byte, len(projectPath))
	for i := 0; i < len(projectPath); i++ {
		c := projectPath[i]
		if c == '/' || c == '\\' || c == ':' {
			c = '-'
		}
		out[i] = c
	}
	return string(out)
}
