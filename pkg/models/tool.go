package models

import "encoding/json"

// ToolHandler is the callable bound to a ToolDefinition. It receives the
// decoded call arguments and returns the raw result before normalization.
type ToolHandler func(ctx ToolContext, args json.RawMessage) (any, error)

// ToolContext carries per-call metadata into a handler without coupling
// this package to the executor's concrete context type.
type ToolContext struct {
	CallID    string
	SessionID string
	AgentID   string
}

// ToolDefinition is a tool discovered from the skill catalogue at startup.
// Names are unique process-wide; Handler is nil iff the tool is not
// executable (its owning skill advertised it but provided no binding).
type ToolDefinition struct {
	QualifiedName string          `json:"qualified_name"` // {skill}__{method}
	SkillSlug     string          `json:"skill_slug"`
	Method        string          `json:"method"`
	Description   string          `json:"description"`
	Schema        json.RawMessage `json:"schema"`
	Handler       ToolHandler     `json:"-"`
}

// Executable reports whether the tool has a bound handler.
func (t ToolDefinition) Executable() bool {
	return t.Handler != nil
}
