package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/workdeck/workdeck/internal/bus"
)

type recordingSink struct {
	mu    sync.Mutex
	calls [][2]string
}

func (s *recordingSink) SetPaneSession(paneID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, [2]string{paneID, sessionID})
}

// newTestClassifier returns a classifier with a controllable clock and
// timers short enough to observe in tests.
func newTestClassifier(sink SessionSink) (*Classifier, *time.Time) {
	c := New(sink, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.quiescence = 20 * time.Millisecond
	c.fallback = 20 * time.Millisecond
	return c, &now
}

func TestHookPromptSubmitForcesInProgress(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.fallback = time.Hour
	c.TrackPane("p1")

	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "UserPromptSubmit"})
	if c.State("p1") != InProgress {
		t.Errorf("state = %s, want IN_PROGRESS", c.State("p1"))
	}

	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "Stop"})
	if c.State("p1") != Idle {
		t.Errorf("state = %s, want IDLE", c.State("p1"))
	}
}

func TestHookStopIsIdempotent(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.TrackPane("p1")
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "UserPromptSubmit"})

	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "Stop"})
	gen := c.Generation()
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "Stop"})

	if c.State("p1") != Idle {
		t.Errorf("state = %s, want IDLE", c.State("p1"))
	}
	if c.Generation() != gen {
		t.Error("replayed Stop must not bump the generation")
	}
}

func TestNotificationMatchesAwaitingInputPhrasing(t *testing.T) {
	cases := []struct {
		message string
		idle    bool
	}{
		{"Claude needs your permission to use Bash", true},
		{"Claude is waiting for your input", true},
		{"Elicitation dialog opened", true},
		{"Compacting conversation", false},
		{"", false},
	}
	for _, tc := range cases {
		c, _ := newTestClassifier(nil)
		c.fallback = time.Hour
		c.TrackPane("p1")
		c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "UserPromptSubmit"})

		c.HandleClaudeHook(bus.ClaudeHook{
			PaneID: "p1", EventName: "Notification", Message: tc.message,
		})
		want := InProgress
		if tc.idle {
			want = Idle
		}
		if got := c.State("p1"); got != want {
			t.Errorf("message %q: state = %s, want %s", tc.message, got, want)
		}
	}
}

func TestCodexTurnCompleteForcesIdle(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.fallback = time.Hour
	c.TrackPane("p1")
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "UserPromptSubmit"})

	c.HandleCodexNotify(bus.CodexNotify{PaneID: "p1", Event: "agent-turn-complete"})
	if c.State("p1") != Idle {
		t.Errorf("state = %s, want IDLE", c.State("p1"))
	}
}

func TestSessionIDForwardedIndependentOfState(t *testing.T) {
	sink := &recordingSink{}
	c, _ := newTestClassifier(sink)
	c.TrackPane("p1")

	// An event name the classifier does not act on still carries identity.
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", SessionID: "s-1", EventName: "PreToolUse"})
	c.HandleCodexNotify(bus.CodexNotify{PaneID: "p1", SessionID: "s-2", Event: "agent-turn-started"})

	if len(sink.calls) != 2 {
		t.Fatalf("sink calls = %d, want 2", len(sink.calls))
	}
	if sink.calls[0] != [2]string{"p1", "s-1"} || sink.calls[1] != [2]string{"p1", "s-2"} {
		t.Errorf("unexpected sink calls: %v", sink.calls)
	}
	if c.State("p1") != Idle {
		t.Error("identity updates must not transition state")
	}
}

func TestEventsForUnknownPanesAreDropped(t *testing.T) {
	c, _ := newTestClassifier(nil)
	gen := c.Generation()

	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "gone", EventName: "UserPromptSubmit"})
	c.Output("gone", "real output")
	c.Keystroke("gone", "\r")
	c.ViewportChanged("gone")

	if c.Generation() != gen {
		t.Error("unknown-pane events must not transition anything")
	}
	if c.State("gone") != Idle {
		t.Error("unknown panes read as IDLE")
	}
}

func TestWhitespaceOutputIsNoise(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.TrackPane("p1")

	c.Output("p1", "   \r\n\t ")
	if c.State("p1") != Idle {
		t.Error("whitespace-only chunks must not wake the pane")
	}
}

func TestOutputAfterViewportChangeIsNoise(t *testing.T) {
	c, now := newTestClassifier(nil)
	c.TrackPane("p1")

	c.ViewportChanged("p1")
	*now = now.Add(100 * time.Millisecond)
	c.Output("p1", "full screen redraw")
	if c.State("p1") != Idle {
		t.Error("output inside the viewport window is redraw churn")
	}

	*now = now.Add(viewportWindow)
	c.Output("p1", "actual agent output")
	if c.State("p1") != InProgress {
		t.Error("output after the window is genuine")
	}
}

func TestOutputWhileTypingIsNoise(t *testing.T) {
	c, now := newTestClassifier(nil)
	c.TrackPane("p1")

	c.Keystroke("p1", "a")
	*now = now.Add(500 * time.Millisecond)
	c.Output("p1", "prompt line redrawn with the typed text")
	if c.State("p1") != Idle {
		t.Error("output while typing without Enter is noise")
	}

	*now = now.Add(typingWindow)
	c.Output("p1", "agent output well after typing stopped")
	if c.State("p1") != InProgress {
		t.Error("typing window must expire")
	}
}

func TestShortEchoAfterKeystrokeIsNoise(t *testing.T) {
	c, now := newTestClassifier(nil)
	c.quiescence = time.Hour
	c.fallback = time.Hour
	c.TrackPane("p1")

	// Enter first so the typing-without-submit rule does not apply.
	c.Keystroke("p1", "x\r")
	if c.State("p1") != InProgress {
		t.Fatal("Enter must force IN_PROGRESS")
	}

	*now = now.Add(100 * time.Millisecond)
	c.Keystroke("p1", "y\r")
	gen := c.Generation()

	*now = now.Add(50 * time.Millisecond)
	c.Output("p1", "y")
	if c.Generation() != gen {
		t.Error("short echo must not restart anything")
	}

	// A long chunk inside the echo window is not echo.
	c.Output("p1", "a longer burst of output")
	if c.State("p1") != InProgress {
		t.Error("long chunks are genuine even right after a keystroke")
	}
}

func TestPastedInputEchoIsGenuine(t *testing.T) {
	c, now := newTestClassifier(nil)
	c.quiescence = time.Hour
	c.fallback = time.Hour
	c.TrackPane("p1")

	// A paste arrives as one large keystroke chunk. Its echo lands
	// inside the echo window but may be rendered in short bursts, so
	// the short-chunk suppression must not apply.
	c.Keystroke("p1", "func main() { fmt.Println(42) }\r")
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "Stop"})
	if c.State("p1") != Idle {
		t.Fatal("Stop must force IDLE")
	}

	*now = now.Add(50 * time.Millisecond)
	c.Output("p1", "func")
	if c.State("p1") != InProgress {
		t.Error("echo after a long keystroke is genuine output")
	}
}

func TestGenuineOutputRevertsAfterQuiescence(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.TrackPane("p1")

	c.Output("p1", "agent is streaming tokens")
	if c.State("p1") != InProgress {
		t.Fatal("genuine output must set IN_PROGRESS")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.State("p1") != Idle {
		if time.Now().After(deadline) {
			t.Fatal("quiescence timer never reverted to IDLE")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnterFallbackBoundsStaleness(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.TrackPane("p1")

	c.Keystroke("p1", "do the thing\r")
	if c.State("p1") != InProgress {
		t.Fatal("Enter must force IN_PROGRESS")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.State("p1") != Idle {
		if time.Now().After(deadline) {
			t.Fatal("fallback timer never reverted to IDLE")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHookOverridesPendingQuiescence(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.fallback = time.Hour
	c.TrackPane("p1")

	// Arm a short quiescence timer via heuristic output, then let an
	// authoritative hook take over before it fires.
	c.Output("p1", "streaming")
	c.HandleClaudeHook(bus.ClaudeHook{PaneID: "p1", EventName: "UserPromptSubmit"})

	time.Sleep(100 * time.Millisecond)
	if c.State("p1") != InProgress {
		t.Error("a cancelled quiescence timer must not undo the hook verdict")
	}
}

func TestRemovePaneStopsTimers(t *testing.T) {
	c, _ := newTestClassifier(nil)
	c.TrackPane("p1")
	c.Output("p1", "streaming")
	c.Keystroke("p1", "\r")

	c.RemovePane("p1")
	gen := c.Generation()

	time.Sleep(100 * time.Millisecond)
	if c.Generation() != gen {
		t.Error("timers of a removed pane must not fire transitions")
	}
}
