package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter adapts slog as an io.Writer so stray stdlib log.Printf output
// (including from dependencies) flows through the structured logging system
// instead of hitting stderr and corrupting the TUI.
type BridgeWriter struct {
	logger    *slog.Logger
	component string
}

// NewBridgeWriter creates a writer that forwards writes to slog.
// The defaultComponent is used when no [CATEGORY] prefix is found.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{
		logger:    Logger(),
		component: defaultComponent,
	}
}

// Write implements io.Writer. Each write is treated as one log line.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}

	// slog adds its own timestamp; drop any stdlib log prefix.
	msg = stripLogTimestamp(msg)

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = strings.ToLower(msg[1:idx])
			msg = msg[idx+2:]
		}
	}

	bw.logger.Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp removes the time prefix added by log.SetFlags(log.Ltime|log.Lmicroseconds).
func stripLogTimestamp(s string) string {
	// "15:04:05.000000 "
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	// "15:04:05 "
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}
