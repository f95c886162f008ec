package discovery

import (
	"strings"
	"unicode/utf8"
)

const (
	labelMaxLen       = 80
	minUserMessageLen = 5
)

// skippableUserMessage reports whether a user message is too short or looks
// like a system/meta message rather than a real prompt.
func skippableUserMessage(trimmed string) bool {
	return trimmed == "" ||
		len(trimmed) <= minUserMessageLen ||
		strings.HasPrefix(trimmed, "<") ||
		strings.HasPrefix(trimmed, "[Request interrupted") ||
		strings.HasPrefix(trimmed, "Base directory")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "\r")
}

// truncateLabel keeps the first line of text, capped at labelMaxLen bytes.
func truncateLabel(text string) string {
	line := firstLine(text)
	if len(line) <= labelMaxLen {
		return line
	}
	cut := labelMaxLen - 3
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "..."
}

func fallbackLabel(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return "Session " + sessionID
}

// extractText pulls message text out of a content field, which may be a
// plain string, an array of content blocks, or a single block object.
func extractText(content any) (string, bool) {
	switch c := content.(type) {
	case string:
		return c, true
	case []any:
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			blockType, hasType := block["type"].(string)
			if hasType && blockType != "text" && blockType != "input_text" {
				continue
			}
			if text, ok := block["text"].(string); ok {
				return text, true
			}
		}
		return "", false
	case map[string]any:
		text, ok := c["text"].(string)
		return text, ok
	default:
		return "", false
	}
}
