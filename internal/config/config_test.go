package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHomeHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WORKDECK_HOME", dir)
	if got := Home(); got != dir {
		t.Errorf("Home() = %q, want %q", got, dir)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("WORKDECK_HOME", t.TempDir())
	cfg := Reload()

	if cfg.Poll.SlowIntervalSecs != defaultSlowIntervalSecs {
		t.Errorf("SlowIntervalSecs = %d, want %d", cfg.Poll.SlowIntervalSecs, defaultSlowIntervalSecs)
	}
	if cfg.Poll.FastIntervalSecs != defaultFastIntervalSecs {
		t.Errorf("FastIntervalSecs = %d, want %d", cfg.Poll.FastIntervalSecs, defaultFastIntervalSecs)
	}
	if !cfg.NotificationsEnabled() {
		t.Error("notifications should default to enabled")
	}
	if !cfg.DesktopNotificationsEnabled() {
		t.Error("desktop notifications should default to enabled")
	}
	if cfg.Theme.Mode != "auto" {
		t.Errorf("Theme.Mode = %q, want auto", cfg.Theme.Mode)
	}
	if cfg.Web.Addr != defaultWebAddr {
		t.Errorf("Web.Addr = %q, want %q", cfg.Web.Addr, defaultWebAddr)
	}
}

func TestLoadParsesTOMLSections(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WORKDECK_HOME", dir)

	content := `
[poll]
slow_interval_secs = 30
fast_interval_secs = 5

[notifications]
enabled = false

[web]
enabled = true
addr = "127.0.0.1:9999"
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Reload()
	if cfg.Poll.SlowIntervalSecs != 30 {
		t.Errorf("SlowIntervalSecs = %d, want 30", cfg.Poll.SlowIntervalSecs)
	}
	if cfg.Poll.FastIntervalSecs != 5 {
		t.Errorf("FastIntervalSecs = %d, want 5", cfg.Poll.FastIntervalSecs)
	}
	if cfg.NotificationsEnabled() {
		t.Error("notifications should be disabled")
	}
	if cfg.DesktopNotificationsEnabled() {
		t.Error("desktop delivery must follow the master toggle")
	}
	if !cfg.Web.Enabled || cfg.Web.Addr != "127.0.0.1:9999" {
		t.Errorf("web settings = %+v", cfg.Web)
	}
	// Unset sections still get defaults.
	if cfg.Poll.DebounceMillis != defaultDebounceMillis {
		t.Errorf("DebounceMillis = %d, want default", cfg.Poll.DebounceMillis)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	t.Setenv("WORKDECK_HOME", t.TempDir())
	cfg := Reload()
	cfg.Poll.SlowIntervalSecs = 120
	cfg.Theme.Mode = "dark"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := Reload()
	if got.Poll.SlowIntervalSecs != 120 {
		t.Errorf("SlowIntervalSecs = %d after reload, want 120", got.Poll.SlowIntervalSecs)
	}
	if got.Theme.Mode != "dark" {
		t.Errorf("Theme.Mode = %q after reload, want dark", got.Theme.Mode)
	}
}

func TestAtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.json")
	if err := AtomicWrite(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestEncodeProjectPath(t *testing.T) {
	cases := map[string]string{
		"/Users/jake/project": "-Users-jake-project",
		"C:\\work\\repo":      "C--work-repo",
		"plain":               "plain",
	}
	for in, want := range cases {
		if got := EncodeProjectPath(in); got != want {
			t.Errorf("EncodeProjectPath(%q) = %q, want %q", in, got, want)
		}
	}
}
