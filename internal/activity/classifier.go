// Package activity classifies per-pane agent activity as IDLE or
// IN_PROGRESS by fusing two signal sources: explicit lifecycle hooks
// (authoritative when the integration provides them) and output
// heuristics over the raw terminal stream (for everything else).
package activity

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/logging"
)

var actLog = logging.ForComponent(logging.CompActivity)

// State is a pane's coarse activity state.
type State string

const (
	Idle       State = "IDLE"
	InProgress State = "IN_PROGRESS"
)

// Heuristic windows. Chunks inside these windows are treated as local
// echo or redraw churn, not agent output.
const (
	viewportWindow = 350 * time.Millisecond
	typingWindow   = 1200 * time.Millisecond
	echoWindow     = 250 * time.Millisecond
	echoMaxLen     = 4

	quiescenceTimeout = 2 * time.Second
	fallbackTimeout   = 90 * time.Second
)

// SessionSink receives session ids discovered in hook payloads.
type SessionSink interface {
	SetPaneSession(paneID, sessionID string)
}

type paneState struct {
	state State

	lastKeystroke    time.Time
	lastKeystrokeLen int
	lastEnter        time.Time
	lastViewport     time.Time

	quiescence *time.Timer
	fallback   *time.Timer
}

func (p *paneState) stopTimers() {
	if p.quiescence != nil {
		p.quiescence.Stop()
		p.quiescence = nil
	}
	if p.fallback != nil {
		p.fallback.Stop()
		p.fallback = nil
	}
}

// Classifier tracks activity state for every live pane. All methods are
// safe for concurrent use; events referencing panes it does not track
// are dropped.
type Classifier struct {
	mu    sync.Mutex
	panes map[string]*paneState
	gen   uint64

	sessions SessionSink
	bus      *bus.Bus

	now func() time.Time

	// Overridable in tests.
	quiescence time.Duration
	fallback   time.Duration
}

func New(sessions SessionSink, b *bus.Bus) *Classifier {
	return &Classifier{
		panes:      make(map[string]*paneState),
		sessions:   sessions,
		bus:        b,
		now:        time.Now,
		quiescence: quiescenceTimeout,
		fallback:   fallbackTimeout,
	}
}

// Attach subscribes the classifier to the event streams it consumes.
func (c *Classifier) Attach(b *bus.Bus) {
	b.SubscribeTerminalData(func(ev bus.TerminalData) { c.Output(ev.PaneID, ev.Data) })
	b.SubscribeClaudeHook(c.HandleClaudeHook)
	b.SubscribeCodexNotify(c.HandleCodexNotify)
}

// TrackPane registers a pane in IDLE. Tracking an already tracked pane
// is a no-op.
func (c *Classifier) TrackPane(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.panes[paneID]; ok {
		return
	}
	c.panes[paneID] = &paneState{state: Idle}
}

// RemovePane forgets a pane and tears down any of its pending timers.
func (c *Classifier) RemovePane(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	p.stopTimers()
	delete(c.panes, paneID)
}

// State returns a pane's current state. Unknown panes read as IDLE.
func (c *Classifier) State(paneID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.panes[paneID]; ok {
		return p.state
	}
	return Idle
}

// InProgress reports whether a pane is currently IN_PROGRESS.
func (c *Classifier) InProgress(paneID string) bool {
	return c.State(paneID) == InProgress
}

// Generation returns a counter bumped on every state transition.
// Derived views use it to invalidate memos.
func (c *Classifier) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// setStateLocked transitions a pane and publishes when the state
// actually moved. Caller holds c.mu.
func (c *Classifier) setStateLocked(paneID string, p *paneState, next State) {
	if p.state == next {
		return
	}
	p.state = next
	c.gen++
	actLog.Debug("activity_transition",
		slog.String("pane", paneID),
		slog.String("state", string(next)))
	if c.bus != nil {
		c.bus.PublishAttentionChanged(bus.AttentionChanged{})
	}
}

// Keystroke records local input for a pane. Enter force-sets
// IN_PROGRESS immediately (the user just submitted), backed by a
// fallback timer so a lost completion signal cannot pin the pane
// IN_PROGRESS forever.
func (c *Classifier) Keystroke(paneID, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	now := c.now()
	p.lastKeystroke = now
	p.lastKeystrokeLen = len(data)
	if !strings.ContainsAny(data, "\r\n") {
		return
	}
	p.lastEnter = now
	p.stopTimers()
	c.setStateLocked(paneID, p, InProgress)
	p.fallback = time.AfterFunc(c.fallback, func() { c.expireFallback(paneID) })
}

// ViewportChanged records a resize or visibility resume; output shortly
// after is redraw churn.
func (c *Classifier) ViewportChanged(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.panes[paneID]; ok {
		p.lastViewport = c.now()
	}
}

// Output classifies one chunk of terminal output. Noise leaves state
// untouched; genuine activity sets IN_PROGRESS and restarts the
// quiescence timer whose expiry reverts to IDLE.
func (c *Classifier) Output(paneID, chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	if !c.genuineLocked(p, chunk) {
		return
	}
	c.setStateLocked(paneID, p, InProgress)
	if p.quiescence != nil {
		p.quiescence.Stop()
	}
	p.quiescence = time.AfterFunc(c.quiescence, func() { c.expireQuiescence(paneID) })
}

func (c *Classifier) genuineLocked(p *paneState, chunk string) bool {
	if strings.TrimSpace(chunk) == "" {
		return false
	}
	now := c.now()
	if now.Sub(p.lastViewport) < viewportWindow {
		return false
	}
	// Typing without having pressed Enter yet: prompt redraw, not the
	// agent working.
	if now.Sub(p.lastKeystroke) < typingWindow && p.lastEnter.Before(p.lastKeystroke) {
		return false
	}
	// Echo of a short keystroke. A large paste echoes back more than a
	// few characters, so the suppression only applies when the input
	// itself was short.
	if now.Sub(p.lastKeystroke) < echoWindow && p.lastKeystrokeLen <= echoMaxLen &&
		len(chunk) <= echoMaxLen && !strings.ContainsAny(chunk, "\r\n") {
		return false
	}
	return true
}

func (c *Classifier) expireQuiescence(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	p.quiescence = nil
	c.setStateLocked(paneID, p, Idle)
}

func (c *Classifier) expireFallback(paneID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	p.fallback = nil
	actLog.Debug("fallback_expired", slog.String("pane", paneID))
	c.setStateLocked(paneID, p, Idle)
}

// forceLocked applies an authoritative hook verdict: timers armed by
// the heuristics are cancelled so they cannot undo it later.
func (c *Classifier) force(paneID string, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.panes[paneID]
	if !ok {
		return
	}
	p.stopTimers()
	if next == InProgress {
		p.fallback = time.AfterFunc(c.fallback, func() { c.expireFallback(paneID) })
	}
	c.setStateLocked(paneID, p, next)
}

// HandleClaudeHook applies a claude lifecycle hook event.
func (c *Classifier) HandleClaudeHook(ev bus.ClaudeHook) {
	if ev.SessionID != "" && c.sessions != nil {
		c.sessions.SetPaneSession(ev.PaneID, ev.SessionID)
	}
	switch ev.EventName {
	case "UserPromptSubmit":
		c.force(ev.PaneID, InProgress)
	case "Stop", "SessionStart":
		c.force(ev.PaneID, Idle)
	case "Notification":
		if awaitingInput(ev.Message) {
			c.force(ev.PaneID, Idle)
		}
	}
}

// HandleCodexNotify applies a codex notify event.
func (c *Classifier) HandleCodexNotify(ev bus.CodexNotify) {
	if ev.SessionID != "" && c.sessions != nil {
		c.sessions.SetPaneSession(ev.PaneID, ev.SessionID)
	}
	if strings.HasPrefix(ev.Event, "agent-turn-complete") {
		c.force(ev.PaneID, Idle)
	}
}

// awaitingInput reports whether a notification message signals that the
// agent stopped to wait for the user.
func awaitingInput(message string) bool {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "waiting for your input"):
		return true
	case strings.Contains(m, "permission"):
		return true
	case strings.Contains(m, "elicitation"):
		return true
	}
	return false
}
