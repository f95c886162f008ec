package ui

import (
	"context"
	"sync"

	"log/slog"

	dark "github.com/thiagokokada/dark-mode-go"
)

// DetectTheme asks the OS for its current appearance. Falls back to
// dark when the platform cannot answer.
func DetectTheme() Theme {
	isDark, err := dark.IsDarkMode()
	if err != nil {
		log.Debug("theme_detect_failed", slog.String("error", err.Error()))
		return ThemeDark
	}
	if isDark {
		return ThemeDark
	}
	return ThemeLight
}

// ThemeWatcher follows OS appearance changes and exposes them on a
// channel the dashboard turns into messages.
type ThemeWatcher struct {
	changes   chan Theme
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewThemeWatcher starts watching. Returns nil when the platform has
// no appearance change feed; the caller keeps the startup theme.
func NewThemeWatcher(parent context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parent)

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		log.Warn("theme_watcher_unavailable", slog.String("error", err.Error()))
		return nil
	}

	w := &ThemeWatcher{
		changes: make(chan Theme, 1),
		closeCh: make(chan struct{}),
	}
	go w.loop(ctx, cancel, events, errs)
	return w
}

func (w *ThemeWatcher) loop(ctx context.Context, cancel context.CancelFunc, events <-chan bool, errs <-chan error) {
	defer cancel()
	for {
		select {
		case <-w.closeCh:
			return
		case isDark, ok := <-events:
			if !ok {
				return
			}
			theme := ThemeLight
			if isDark {
				theme = ThemeDark
			}
			// Keep only the newest change if the consumer lags.
			select {
			case w.changes <- theme:
			default:
				select {
				case <-w.changes:
				default:
				}
				select {
				case w.changes <- theme:
				default:
				}
			}
		case err, ok := <-errs:
			if ok && err != nil {
				log.Warn("theme_watcher_error", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Changes delivers theme switches, newest wins.
func (w *ThemeWatcher) Changes() <-chan Theme {
	return w.changes
}

// Close stops the watcher. Safe to call twice.
func (w *ThemeWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
}
