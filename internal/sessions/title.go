package sessions

import "strings"

// maxTitleLen is the auto-title truncation length: 80 chars.
const maxTitleLen = 80

// DeriveTitle produces a session's auto-title from a user message's
// content: first line, whitespace-collapsed, truncated to maxTitleLen
// with an ellipsis if cut.
func DeriveTitle(content string) string {
	firstLine := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		firstLine = content[:idx]
	}
	collapsed := strings.Join(strings.Fields(firstLine), " ")
	if len(collapsed) <= maxTitleLen {
		return collapsed
	}
	// Truncate on a rune boundary, leaving room for the ellipsis.
	runes := []rune(collapsed)
	if len(runes) <= maxTitleLen {
		return collapsed
	}
	return string(runes[:maxTitleLen-1]) + "…"
}
