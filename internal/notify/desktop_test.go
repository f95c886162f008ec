package notify

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runCapture struct {
	name string
	args []string
}

func capturingDesktop(goos string) (*Desktop, *runCapture) {
	rec := &runCapture{}
	d := &Desktop{
		goos: goos,
		run: func(name string, args ...string) error {
			rec.name = name
			rec.args = args
			return nil
		},
	}
	return d, rec
}

func TestDesktopDarwinUsesOsascript(t *testing.T) {
	d, rec := capturingDesktop("darwin")
	require.NoError(t, d.Notify("Title here", "body text"))
	assert.Equal(t, "osascript", rec.name)
	require.Len(t, rec.args, 2)
	assert.Equal(t, "-e", rec.args[0])
	assert.Contains(t, rec.args[1], `"body text"`)
	assert.Contains(t, rec.args[1], `"Title here"`)
}

func TestDesktopLinuxUsesNotifySend(t *testing.T) {
	if _, err := exec.LookPath("notify-send"); err != nil {
		t.Skip("notify-send not installed")
	}
	d, rec := capturingDesktop("linux")
	require.NoError(t, d.Notify("t", "b"))
	assert.Equal(t, "notify-send", rec.name)
	assert.Equal(t, []string{"t", "b"}, rec.args)
}

func TestDesktopWindowsBuildsToast(t *testing.T) {
	d, rec := capturingDesktop("windows")
	require.NoError(t, d.Notify("ti'tle", "body"))
	assert.Equal(t, "powershell", rec.name)
	script := rec.args[len(rec.args)-1]
	assert.Contains(t, script, "ToastNotificationManager")
	assert.Contains(t, script, "ti''tle")
	assert.Contains(t, script, "body")
}

func TestDesktopUnsupportedPlatform(t *testing.T) {
	d, _ := capturingDesktop("plan9")
	assert.Error(t, d.Notify("t", "b"))
}

func TestPsEscapeDoublesSingleQuotes(t *testing.T) {
	assert.Equal(t, "it''s", psEscape("it's"))
	assert.Equal(t, "plain", psEscape("plain"))
}
