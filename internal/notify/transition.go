package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/config"
	"github.com/workdeck/workdeck/internal/logging"
)

var log = logging.ForComponent(logging.CompNotify)

const (
	// dedupWindow suppresses repeat deliveries for the same key. CI
	// re-runs flap; one popup per flap direction per 90s is plenty.
	dedupWindow = 90 * time.Second

	stateFileName = "state.json"
	logFileName   = "deliveries.jsonl"
)

// AttentionSource reports whether any agent is waiting on the user.
// *attention.Aggregator satisfies it.
type AttentionSource interface {
	NeedsAttention() bool
}

type dedupState struct {
	LastSent map[string]time.Time `json:"lastSent"`
}

type deliveryRecord struct {
	Timestamp time.Time `json:"ts"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
}

// Transition gates and dedups notification delivery for check
// transitions and attention flips. Dedup state survives restarts via an
// atomically-saved JSON file; every delivery is appended to a JSONL log
// in the same directory.
type Transition struct {
	dir       string
	desktop   Sender
	push      Sender // optional, nil when web push is off
	settings  func() *config.Config
	attention AttentionSource

	mu       sync.Mutex
	lastSent map[string]time.Time
	waiting  bool

	now func() time.Time // injectable for tests
}

// NewTransition loads persisted dedup state from dir (created on first
// save). Either sender may be nil.
func NewTransition(dir string, desktop, push Sender, settings func() *config.Config, attn AttentionSource) *Transition {
	t := &Transition{
		dir:       dir,
		desktop:   desktop,
		push:      push,
		settings:  settings,
		attention: attn,
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}
	t.loadState()
	return t
}

// Attach subscribes the notifier to the bus events it consumes.
func (t *Transition) Attach(b *bus.Bus) {
	b.SubscribeCheckTransition(t.HandleCheckTransition)
	b.SubscribeAttentionChanged(t.HandleAttentionChanged)
}

// HandleCheckTransition notifies on a CI check moving between buckets.
func (t *Transition) HandleCheckTransition(ev bus.CheckTransition) {
	cfg := t.settings()
	if !cfg.NotificationsEnabled() {
		return
	}
	key := fmt.Sprintf("%s|%d|%s|%s>%s", ev.ProjectPath, ev.PRNumber, ev.Check, ev.From, ev.To)
	title := fmt.Sprintf("PR #%d: %s %s", ev.PRNumber, ev.Check, ev.To)
	body := fmt.Sprintf("%s: %s went %s (was %s)", filepath.Base(ev.ProjectPath), ev.Check, ev.To, ev.From)
	t.deliver(cfg, key, title, body)
}

// HandleAttentionChanged notifies when the aggregate attention state
// rises from "all busy" to "someone is waiting". Falling edges and
// repeats inside the dedup window stay silent.
func (t *Transition) HandleAttentionChanged(bus.AttentionChanged) {
	cfg := t.settings()
	if !cfg.NotificationsEnabled() || t.attention == nil {
		return
	}
	waiting := t.attention.NeedsAttention()

	t.mu.Lock()
	rising := waiting && !t.waiting
	t.waiting = waiting
	t.mu.Unlock()

	if !rising {
		return
	}
	t.deliver(cfg, "attention", "Agent waiting", "An agent session is waiting for your input")
}

func (t *Transition) deliver(cfg *config.Config, key, title, body string) {
	now := t.now()

	t.mu.Lock()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < dedupWindow {
		t.mu.Unlock()
		log.Debug("notification_deduped", slog.String("key", key))
		return
	}
	t.lastSent[key] = now
	t.saveStateLocked(now)
	t.appendLogLocked(deliveryRecord{Timestamp: now, Key: key, Title: title, Body: body})
	t.mu.Unlock()

	log.Info("notification_sent",
		slog.String("key", key),
		slog.String("title", title))

	if t.desktop != nil && cfg.DesktopNotificationsEnabled() {
		if err := t.desktop.Notify(title, body); err != nil {
			log.Warn("desktop_notify_failed", slog.String("error", err.Error()))
		}
	}
	if t.push != nil && cfg.Notifications.Push {
		if err := t.push.Notify(title, body); err != nil {
			log.Warn("push_notify_failed", slog.String("error", err.Error()))
		}
	}
}

func (t *Transition) loadState() {
	data, err := os.ReadFile(filepath.Join(t.dir, stateFileName))
	if err != nil {
		return
	}
	var st dedupState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn("notify_state_parse_failed", slog.String("error", err.Error()))
		return
	}
	if st.LastSent != nil {
		t.lastSent = st.LastSent
	}
}

// saveStateLocked persists dedup state, dropping entries already
// outside the window so the file cannot grow unbounded.
func (t *Transition) saveStateLocked(now time.Time) {
	kept := make(map[string]time.Time, len(t.lastSent))
	for k, ts := range t.lastSent {
		if now.Sub(ts) < dedupWindow {
			kept[k] = ts
		}
	}
	t.lastSent = kept

	data, err := json.MarshalIndent(dedupState{LastSent: kept}, "", "  ")
	if err != nil {
		return
	}
	if err := config.AtomicWrite(filepath.Join(t.dir, stateFileName), append(data, '\n')); err != nil {
		log.Warn("notify_state_save_failed", slog.String("error", err.Error()))
	}
}

func (t *Transition) appendLogLocked(rec deliveryRecord) {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		log.Warn("notify_log_failed", slog.String("error", err.Error()))
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(t.dir, logFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("notify_log_failed", slog.String("error", err.Error()))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn("notify_log_failed", slog.String("error", err.Error()))
	}
}

// DefaultDir is where dedup state and the delivery log live.
func DefaultDir() string {
	return filepath.Join(config.Home(), "notifications")
}
