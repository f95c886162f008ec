// Package clipboard copies text to the system clipboard, preferring the
// platform's native tool and falling back to the OSC 52 escape sequence
// for terminals on remote or toolless hosts.
package clipboard

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/workdeck/workdeck/internal/platform"
)

// Result says how a copy landed.
type Result struct {
	Method string // pbcopy, clip.exe, wl-copy, xclip, xsel, or osc52
	Bytes  int
}

// Copy puts text on the clipboard. allowOSC52 permits the escape
// sequence fallback; callers disable it for terminals known to ignore
// OSC 52, where the sequence would print as garbage.
func Copy(text string, allowOSC52 bool) (*Result, error) {
	if text == "" {
		return nil, fmt.Errorf("nothing to copy")
	}

	method, err := copyNative(text)
	if err == nil {
		return &Result{Method: method, Bytes: len(text)}, nil
	}

	if allowOSC52 {
		if err := copyOSC52(text); err != nil {
			return nil, fmt.Errorf("osc52 copy: %w", err)
		}
		return &Result{Method: "osc52", Bytes: len(text)}, nil
	}

	return nil, fmt.Errorf("no clipboard tool found (install pbcopy, xclip, xsel, or wl-copy)")
}

func copyNative(text string) (string, error) {
	switch platform.Detect() {
	case platform.MacOS:
		return "pbcopy", pipeTo(text, "pbcopy")
	case platform.WSL1, platform.WSL2:
		return "clip.exe", pipeTo(text, "clip.exe")
	case platform.Linux:
		// Wayland before X11.
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if _, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", pipeTo(text, "wl-copy")
			}
		}
		if _, err := exec.LookPath("xclip"); err == nil {
			return "xclip", pipeTo(text, "xclip", "-selection", "clipboard")
		}
		if _, err := exec.LookPath("xsel"); err == nil {
			return "xsel", pipeTo(text, "xsel", "--clipboard", "--input")
		}
		return "", fmt.Errorf("no clipboard tool on PATH")
	default:
		return "", fmt.Errorf("unsupported platform %s", platform.Detect())
	}
}

func pipeTo(text, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// copyOSC52 writes the escape sequence straight to the controlling
// terminal so stdout redirection cannot swallow it.
func copyOSC52(text string) error {
	seq := osc52Sequence(base64.StdEncoding.EncodeToString([]byte(text)), os.Getenv("TMUX") != "")
	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open /dev/tty: %w", err)
	}
	defer tty.Close()
	_, err = tty.WriteString(seq)
	return err
}

// osc52Sequence builds the OSC 52 set-clipboard sequence, wrapped in a
// DCS passthrough when running under tmux.
func osc52Sequence(encoded string, inTmux bool) string {
	osc := "\x1b]52;c;" + encoded + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}
