package sessions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conclave-run/conclave/pkg/models"
)

// ExportFormat selects a transcript rendering.
type ExportFormat string

const (
	FormatJSONL    ExportFormat = "jsonl"
	FormatMarkdown ExportFormat = "markdown"
)

// jsonlHeader is the leading line of a JSONL export: a session-header
// object distinguishable from message lines by the absence of a "role".
type jsonlHeader struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at"`
}

type jsonlMessage struct {
	Role          models.Role      `json:"role"`
	Content       string           `json:"content"`
	Thinking      string           `json:"thinking,omitempty"`
	ToolCalls     []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID    string           `json:"tool_call_id,omitempty"`
	Model         string           `json:"model,omitempty"`
	TokensInput   int              `json:"tokens_input,omitempty"`
	TokensOutput  int              `json:"tokens_output,omitempty"`
	Cost          float64          `json:"cost,omitempty"`
	CreatedAt     string           `json:"created_at"`
}

// ExportJSONL renders one JSON object per line: a header line, then each
// message in order.
func ExportJSONL(session *models.Session, messages []*models.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	header := jsonlHeader{
		SessionID: session.ID,
		AgentID:   session.AgentID,
		Title:     session.Title,
		CreatedAt: rfc3339(session.CreatedAt),
	}
	if err := enc.Encode(header); err != nil {
		return nil, err
	}

	for _, m := range messages {
		line := jsonlMessage{
			Role:         m.Role,
			Content:      m.Content,
			Thinking:     m.Thinking,
			ToolCalls:    m.ToolCalls,
			Model:        m.Model,
			TokensInput:  m.InputTokens,
			TokensOutput: m.OutputTokens,
			Cost:         m.CostUSD,
			CreatedAt:    rfc3339(m.CreatedAt),
		}
		if m.ToolResult != nil {
			line.ToolCallID = m.ToolResult.ToolCallID
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ParseJSONL is ExportJSONL's inverse: export-then-parse reproduces the
// session message list modulo whitespace.
func ParseJSONL(data []byte) (*jsonlHeader, []*models.Message, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("sessions: empty export")
	}
	var header jsonlHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		return nil, nil, fmt.Errorf("sessions: decode header: %w", err)
	}

	var messages []*models.Message
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var jm jsonlMessage
		if err := json.Unmarshal([]byte(line), &jm); err != nil {
			return nil, nil, fmt.Errorf("sessions: decode message: %w", err)
		}
		messages = append(messages, &models.Message{
			SessionID:    header.SessionID,
			Role:         jm.Role,
			Content:      jm.Content,
			Thinking:     jm.Thinking,
			ToolCalls:    jm.ToolCalls,
			Model:        jm.Model,
			InputTokens:  jm.TokensInput,
			OutputTokens: jm.TokensOutput,
			CostUSD:      jm.Cost,
			CreatedAt:    parseRFC3339(jm.CreatedAt),
		})
	}
	return &header, messages, nil
}

// ExportMarkdown renders the transcript as: session title as H1, a
// metadata block, then each message as a subsection with role as header
// and content in a fenced block for code-bearing roles.
func ExportMarkdown(session *models.Session, messages []*models.Message) []byte {
	var b strings.Builder

	title := session.Title
	if title == "" {
		title = session.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Session: `%s`\n", session.ID)
	fmt.Fprintf(&b, "- Agent: `%s`\n", session.AgentID)
	fmt.Fprintf(&b, "- Created: %s\n", rfc3339(session.CreatedAt))
	fmt.Fprintf(&b, "- Messages: %d\n\n", session.MessageCount)

	for i, m := range messages {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, strings.ToUpper(string(m.Role)[:1])+string(m.Role)[1:])
		if m.Role == models.RoleTool || m.Role == models.RoleAssistant {
			fmt.Fprintf(&b, "```\n%s\n```\n\n", m.Content)
		} else {
			fmt.Fprintf(&b, "%s\n\n", m.Content)
		}
		if m.Thinking != "" {
			fmt.Fprintf(&b, "<details><summary>thinking</summary>\n\n```\n%s\n```\n\n</details>\n\n", m.Thinking)
		}
	}
	return []byte(b.String())
}
