// Package models holds the durable data model shared across every subsystem:
// sessions, messages, agents, tool definitions, cron jobs, and job executions.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the normalized output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

// Message is a single turn in a session. Messages are append-only: once
// persisted they are never mutated, and are ordered strictly by CreatedAt
// within a session.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Thinking    string         `json:"thinking,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResult  *ToolResult    `json:"tool_result,omitempty"`
	Model       string         `json:"model,omitempty"`
	InputTokens int            `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	CostUSD     float64        `json:"cost_usd,omitempty"`
	LatencyMS   int64           `json:"latency_ms,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCallID returns the id that a tool-role message is answering, or the
// empty string when the message does not carry a tool result.
func (m Message) ToolCallID() string {
	if m.ToolResult == nil {
		return ""
	}
	return m.ToolResult.ToolCallID
}

// SessionKind describes what kind of driver owns a session's turns.
type SessionKind string

const (
	SessionKindInteractive SessionKind = "interactive"
	SessionKindCron        SessionKind = "cron"
	SessionKindAgent       SessionKind = "agent"
	SessionKindRoundtable  SessionKind = "roundtable"
)

// SessionStatus tracks whether a session can still accept messages.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is a conversation thread owned by exactly one agent.
type Session struct {
	ID       string      `json:"id"`
	AgentID  string      `json:"agent_id"`
	Kind     SessionKind `json:"kind"`
	Status   SessionStatus `json:"status"`
	Title    string      `json:"title,omitempty"`

	// ParentSessionID is set when this session was created by Store.Fork: it
	// names the session whose history was copied as this one's starting
	// point.
	ParentSessionID string `json:"parent_session_id,omitempty"`

	ModelOverride       string  `json:"model_override,omitempty"`
	Temperature         float64 `json:"temperature,omitempty"`
	MaxOutputTokens     int     `json:"max_output_tokens,omitempty"`
	ContextWindow       int     `json:"context_window"`
	SystemPromptOverride string `json:"system_prompt_override,omitempty"`

	MessageCount int     `json:"message_count"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// DefaultContextWindow is the number of most-recent messages retained for
// prompting when a session does not override it.
const DefaultContextWindow = 50

// IsActive reports whether the session can still accept new turns.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// EffectiveContextWindow returns the session's context window, or the
// package default if unset.
func (s *Session) EffectiveContextWindow() int {
	if s.ContextWindow <= 0 {
		return DefaultContextWindow
	}
	return s.ContextWindow
}

// AgentStatus is the Agent Pool's view of an agent's runtime state.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentBusy     AgentStatus = "busy"
	AgentError    AgentStatus = "error"
	AgentDisabled AgentStatus = "disabled"
)

// DefaultPheromoneScore is the neutral score new agents start at, and the
// value routing scores decay toward over time.
const DefaultPheromoneScore = 0.5

// IdentityConfig is an agent's base system-prompt fragment: a persona
// layered under the global identity/soul files by the Prompt Assembler.
type IdentityConfig struct {
	Persona     string `json:"persona,omitempty"`
	Tone        string `json:"tone,omitempty"`
	AckReaction string `json:"ack_reaction,omitempty"`
}

// Agent is a persistent identity with routing metadata, owned exclusively
// by the Agent Pool for its status/score fields.
type Agent struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	DefaultModel string         `json:"default_model"`
	Identity     IdentityConfig `json:"identity"`
	FocusTag     string         `json:"focus_tag,omitempty"`

	Status              AgentStatus `json:"status"`
	PheromoneScore      float64     `json:"pheromone_score"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastActiveAt        time.Time   `json:"last_active_at,omitempty"`
	CurrentSessionID    string      `json:"current_session_id,omitempty"`
	CurrentTask         string      `json:"current_task,omitempty"`
}
