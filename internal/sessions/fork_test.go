package sessions

import (
	"context"
	"testing"

	"github.com/conclave-run/conclave/pkg/models"
)

func TestForkCopiesHistoryAndResetsCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleUser, Content: "hi", InputTokens: 5}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleAssistant, Content: "hello", OutputTokens: 7}); err != nil {
		t.Fatal(err)
	}
	if err := store.IncrementCounters(ctx, s.ID, 2, 5, 7, 0.02); err != nil {
		t.Fatal(err)
	}

	forkedID, err := store.Fork(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if forkedID == s.ID {
		t.Fatal("expected forked session to get a new id")
	}

	forked, err := store.Get(ctx, forkedID)
	if err != nil {
		t.Fatal(err)
	}
	if forked.ParentSessionID != s.ID {
		t.Fatalf("expected parent_session_id %q, got %q", s.ID, forked.ParentSessionID)
	}
	if forked.Status != models.SessionActive {
		t.Fatalf("expected forked session active, got %v", forked.Status)
	}
	if forked.MessageCount != 2 {
		t.Fatalf("expected message_count=2 on fork, got %d", forked.MessageCount)
	}
	if forked.TotalTokens != 12 {
		t.Fatalf("expected total_tokens=12 on fork, got %d", forked.TotalTokens)
	}

	forkedHistory, err := store.History(ctx, forkedID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(forkedHistory) != 2 {
		t.Fatalf("expected 2 messages in forked history, got %d", len(forkedHistory))
	}
	for _, msg := range forkedHistory {
		if msg.SessionID != forkedID {
			t.Fatalf("forked message still references source session: %+v", msg)
		}
	}

	srcHistory, err := store.History(ctx, s.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcHistory) != 2 {
		t.Fatalf("fork must not mutate source history, got len=%d", len(srcHistory))
	}
}

func TestForkEmptySessionProducesEmptyHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	forkedID, err := store.Fork(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	forked, err := store.Get(ctx, forkedID)
	if err != nil {
		t.Fatal(err)
	}
	if forked.MessageCount != 0 || forked.TotalTokens != 0 {
		t.Fatalf("expected zeroed counters on empty fork, got %+v", forked)
	}
}

func TestForkUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Fork(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error forking a nonexistent session")
	}
}

func TestRepairTranscriptSynthesizesMissingToolResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AppendMessage(ctx, &models.Message{
		SessionID: s.ID,
		Role:      models.RoleAssistant,
		Content:   "let me check",
		ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "search"},
			{ID: "call-2", Name: "fetch"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	// Only call-1 is answered; call-2 is orphaned, as if the process crashed mid-turn.
	if err := store.AppendMessage(ctx, &models.Message{
		SessionID:  s.ID,
		Role:       models.RoleTool,
		Content:    "results for call-1",
		ToolResult: &models.ToolResult{ToolCallID: "call-1", Name: "search", Success: true},
	}); err != nil {
		t.Fatal(err)
	}

	added, err := store.RepairTranscript(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Fatalf("expected 1 synthesized tool result, got %d", added)
	}

	history, err := store.History(ctx, s.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages after repair, got %d", len(history))
	}
	last := history[len(history)-1]
	if last.ToolResult == nil || last.ToolResult.ToolCallID != "call-2" || last.ToolResult.Success {
		t.Fatalf("expected a failed synthetic result for call-2, got %+v", last.ToolResult)
	}
}

func TestRepairTranscriptNoOpWhenFullyPaired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AppendMessage(ctx, &models.Message{
		SessionID: s.ID,
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call-1", Name: "search"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(ctx, &models.Message{
		SessionID:  s.ID,
		Role:       models.RoleTool,
		ToolResult: &models.ToolResult{ToolCallID: "call-1", Name: "search", Success: true},
	}); err != nil {
		t.Fatal(err)
	}

	added, err := store.RepairTranscript(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Fatalf("expected no repairs needed, got %d", added)
	}
}

func TestRepairTranscriptUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.RepairTranscript(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error repairing a nonexistent session")
	}
}
