package gateway

import "strings"

// RawCompletion is what a concrete provider hands back before gateway-level
// normalization: it may carry thinking content in any of three shapes,
// never more than one populated at a time by a well-behaved provider.
type RawCompletion struct {
	Content         string
	ReasoningField  string // dedicated "reasoning" field on the message
	ThinkingField   string // dedicated "thinking" field on the message
	// Content may additionally embed a <think>...</think> block if neither
	// dedicated field is populated.
}

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// ExtractThinking probes three locations in priority order: (a)
// a dedicated reasoning field, (b) a dedicated thinking field, (c) the
// first <think>...</think> block in content, which is then stripped.
// Extraction failure is non-fatal — the returned thinking string is simply
// empty.
func ExtractThinking(raw RawCompletion) (content, thinking string) {
	if raw.ReasoningField != "" {
		return raw.Content, raw.ReasoningField
	}
	if raw.ThinkingField != "" {
		return raw.Content, raw.ThinkingField
	}
	start := strings.Index(raw.Content, thinkOpenTag)
	if start < 0 {
		return raw.Content, ""
	}
	end := strings.Index(raw.Content[start:], thinkCloseTag)
	if end < 0 {
		return raw.Content, ""
	}
	end += start
	thinking = raw.Content[start+len(thinkOpenTag) : end]
	content = raw.Content[:start] + raw.Content[end+len(thinkCloseTag):]
	return strings.TrimSpace(content), strings.TrimSpace(thinking)
}
