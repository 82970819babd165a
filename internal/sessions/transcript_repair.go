package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/pkg/models"
)

// repairToolCallPairing walks a transcript in creation order and, for every
// assistant message with tool calls, checks that each call id is answered
// by a tool message before the next assistant turn. Anything a crash left
// unanswered gets a synthesized error result; nothing already present is
// reordered or dropped.
func repairToolCallPairing(messages []*models.Message) []*models.Message {
	var added []*models.Message

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg == nil || msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		pendingNames := make(map[string]string, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			pendingNames[tc.ID] = tc.Name
		}

		for j := i + 1; j < len(messages); j++ {
			next := messages[j]
			if next == nil {
				continue
			}
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role == models.RoleTool && next.ToolResult != nil {
				delete(pendingNames, next.ToolResult.ToolCallID)
			}
		}

		if len(pendingNames) == 0 {
			continue
		}
		for _, tc := range msg.ToolCalls {
			name, missing := pendingNames[tc.ID]
			if !missing {
				continue
			}
			added = append(added, syntheticToolResult(msg.SessionID, tc.ID, name, msg.CreatedAt))
		}
	}
	return added
}

func syntheticToolResult(sessionID, toolCallID, toolName string, after time.Time) *models.Message {
	if toolName == "" {
		toolName = "unknown"
	}
	createdAt := time.Now()
	if !after.IsZero() {
		createdAt = after.Add(time.Nanosecond)
	}
	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleTool,
		Content:   "missing tool result; synthesized during transcript repair",
		ToolResult: &models.ToolResult{
			ToolCallID: toolCallID,
			Name:       toolName,
			Content:    "missing tool result; synthesized during transcript repair",
			Success:    false,
		},
		CreatedAt: createdAt,
	}
}

// repairSessionTranscript is shared by both backings: repair only needs
// History and AppendMessage from the Store interface.
func repairSessionTranscript(ctx context.Context, store Store, sessionID string) (int, error) {
	if _, err := store.Get(ctx, sessionID); err != nil {
		return 0, err
	}
	history, err := store.History(ctx, sessionID, "", 0)
	if err != nil {
		return 0, err
	}
	added := repairToolCallPairing(history)
	for _, msg := range added {
		if err := store.AppendMessage(ctx, msg); err != nil {
			return 0, err
		}
	}
	return len(added), nil
}

func (m *MemoryStore) RepairTranscript(ctx context.Context, sessionID string) (int, error) {
	return repairSessionTranscript(ctx, m, sessionID)
}

func (s *SQLStore) RepairTranscript(ctx context.Context, sessionID string) (int, error) {
	return repairSessionTranscript(ctx, s, sessionID)
}
