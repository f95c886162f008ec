package term

import (
	"strings"
	"sync"
)

const (
	defaultScrollbackLines = 10000

	// A pane may stream forever without a newline (progress bars);
	// force a line break so the partial cannot grow unbounded.
	maxPartialBytes = 64 * 1024
)

// scrollback retains a pane's most recent output lines. Chunks arrive
// in arbitrary splits; the buffer reassembles lines and keeps the tail
// up to the configured cap.
type scrollback struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial string
}

func newScrollback(limit int) *scrollback {
	if limit <= 0 {
		limit = defaultScrollbackLines
	}
	return &scrollback{limit: limit}
}

func (s *scrollback) Append(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial += data
	for {
		idx := strings.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		s.lines = append(s.lines, strings.TrimRight(s.partial[:idx], "\r"))
		s.partial = s.partial[idx+1:]
	}
	if len(s.partial) > maxPartialBytes {
		s.lines = append(s.lines, s.partial)
		s.partial = ""
	}
	if over := len(s.lines) - s.limit; over > 0 {
		s.lines = append([]string(nil), s.lines[over:]...)
	}
}

// Tail returns up to n of the most recent complete lines.
func (s *scrollback) Tail(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.lines) {
		n = len(s.lines)
	}
	if n <= 0 {
		return ""
	}
	return strings.Join(s.lines[len(s.lines)-n:], "\n")
}

func (s *scrollback) lineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}
