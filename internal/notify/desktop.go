// Package notify delivers user-facing notifications for check
// transitions and attention flips: native desktop popups plus a
// deduplicating gate with persisted delivery state.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Sender delivers one notification. Implementations are best-effort;
// callers log failures and move on.
type Sender interface {
	Notify(title, body string) error
}

// Desktop sends native desktop notifications: osascript on darwin,
// notify-send on linux, a powershell toast on windows.
type Desktop struct {
	goos string
	run  func(name string, args ...string) error
}

func NewDesktop() *Desktop {
	return &Desktop{
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

func (d *Desktop) Notify(title, body string) error {
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return d.run("osascript", "-e", script)
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return d.run("notify-send", title, body)
	case "windows":
		return d.run("powershell", "-NoProfile", "-NonInteractive", "-Command", toastScript(title, body))
	default:
		return fmt.Errorf("desktop notifications not supported on %s", d.goos)
	}
}

func toastScript(title, body string) string {
	const tmpl = `$x = [Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02);` +
		`$t = $x.GetElementsByTagName('text');` +
		`$t.Item(0).AppendChild($x.CreateTextNode('%s')) > $null;` +
		`$t.Item(1).AppendChild($x.CreateTextNode('%s')) > $null;` +
		`[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('workdeck').Show([Windows.UI.Notifications.ToastNotification]::new($x))`
	return fmt.Sprintf(tmpl, psEscape(title), psEscape(body))
}

func psEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(out)
}
