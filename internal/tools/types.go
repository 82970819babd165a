// Package tools implements the Tool Registry & Executor: at startup it
// discovers callable skills from a manifest catalogue, exposes them as an
// OpenAI-style function-calling schema, and dispatches model-requested
// invocations with timeout enforcement and result normalization. Skills
// are opaque handlers with a declared JSON parameter schema; the registry
// and executor are split so execution can run concurrently over a bounded
// worker pool without read-path locking.
package tools

import (
	"encoding/json"
)

// Manifest is one skill's declared tool list, as read from its catalogue
// entry. A real deployment loads these from skill packages; the Tool
// Registry only needs the declared shape.
type Manifest struct {
	Skill string          `json:"skill"`
	Tools []ManifestEntry `json:"tools"`
}

// ManifestEntry is one tool a skill's manifest advertises.
type ManifestEntry struct {
	Method      string          `json:"method"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Handler is the callable bound to a tool, if the skill provides one.
// Arguments arrive already decoded; a nil return value with no error is a
// valid empty result.
type Handler func(ctx Context, args any) (any, error)

// Context carries per-call metadata into a handler.
type Context struct {
	CallID    string
	SessionID string
	AgentID   string
}

// Definition is a tool discovered from the catalogue at startup. Names are
// unique process-wide; Handler is nil iff the owning skill's manifest
// listed the tool but provided no binding, in which case calls to it
// deterministically fail with ToolFailure.
type Definition struct {
	QualifiedName string // "{skill}__{method}"
	SkillSlug     string
	Method        string
	Description   string
	Schema        json.RawMessage
	Handler       Handler
}

// Executable reports whether the tool has a bound handler.
func (d Definition) Executable() bool { return d.Handler != nil }

// FunctionSchema is one entry in the provider tool-calling schema this
// package exports, shaped to the `{type:"function", function:{...}}`
// convention shared by OpenAI/Anthropic/Gemini tool-calling.
type FunctionSchema struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the inner function body of a FunctionSchema.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Result is the normalized outcome of one tool execution.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}
