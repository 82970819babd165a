package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/pkg/models"
)

func toolsContext() tools.Context {
	return tools.Context{CallID: "test-call"}
}

func TestDefinitionsWithoutStoreOmitsRecall(t *testing.T) {
	defs := Definitions(nil)
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition without a store, got %d", len(defs))
	}
	if defs[0].Method != "current_time" {
		t.Fatalf("unexpected tool: %s", defs[0].Method)
	}
}

func TestCurrentTimeHandlerReturnsRFC3339(t *testing.T) {
	defs := Definitions(nil)
	out, err := defs[0].Handler(toolsContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]string)
	if _, err := time.Parse(time.RFC3339, m["utc"]); err != nil {
		t.Fatalf("not RFC3339: %v", err)
	}
}

func TestRecallHandlerSearchesStore(t *testing.T) {
	store := sessions.NewMemoryStore()
	session := &models.Session{ID: "s1", AgentID: "a1", Kind: models.SessionKindInteractive, Status: models.SessionActive, ContextWindow: 50}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.AppendMessage(context.Background(), &models.Message{ID: "m1", SessionID: "s1", Role: models.RoleUser, Content: "find the treasure map"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	defs := Definitions(store)
	var found bool
	for _, d := range defs {
		if d.Method == "recall" {
			found = true
			out, err := d.Handler(toolsContext(), map[string]any{"query": "treasure"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			hits := out.(map[string]any)["hits"].([]map[string]any)
			if len(hits) != 1 {
				t.Fatalf("expected 1 hit, got %d", len(hits))
			}
		}
	}
	if !found {
		t.Fatal("expected recall tool to be registered with a store")
	}
}
