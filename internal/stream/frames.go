package stream

import "encoding/json"

// ClientFrame is one client-to-server WebSocket frame.
type ClientFrame struct {
	Type          string `json:"type"`
	Content       string `json:"content,omitempty"`
	EnableThinking bool  `json:"enable_thinking,omitempty"`
	EnableTools   bool   `json:"enable_tools,omitempty"`
}

const (
	clientFrameMessage = "message"
	clientFramePing    = "ping"
)

// server-to-client frame type tags.
const (
	frameThinking   = "thinking"
	frameToken      = "token"
	frameToolCall   = "tool_call"
	frameToolResult = "tool_result"
	frameUsage      = "usage"
	frameDone       = "done"
	frameError      = "error"
	framePong       = "pong"
)

type thinkingFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type tokenFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolCallFrame struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	ID        string          `json:"id"`
}

type toolResultFrame struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type usageFrame struct {
	Type         string  `json:"type"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

type doneFrame struct {
	Type         string `json:"type"`
	MessageID    string `json:"message_id"`
	FinishReason string `json:"finish_reason"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}
