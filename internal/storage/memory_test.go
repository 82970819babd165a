package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/pkg/models"
)

func TestMemoryAgentStoreLifecycle(t *testing.T) {
	store := NewMemoryAgentStore()
	agent := &models.Agent{
		ID:           uuid.NewString(),
		DisplayName:  "Support Agent",
		DefaultModel: "claude-sonnet",
		Status:       models.AgentIdle,
	}

	if err := store.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(context.Background(), agent); err != ErrAlreadyExists {
		t.Fatalf("Create() duplicate error = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DisplayName != agent.DisplayName {
		t.Fatalf("Get() display_name = %q", got.DisplayName)
	}

	agent.DisplayName = "Updated Agent"
	if err := store.Update(context.Background(), agent); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	list, total, err := store.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("List() expected 1, got %d/%d", len(list), total)
	}
	if list[0].DisplayName != "Updated Agent" {
		t.Fatalf("List() did not reflect update, got %q", list[0].DisplayName)
	}

	if err := store.Delete(context.Background(), agent.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), agent.ID); err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryAgentStorePagination(t *testing.T) {
	store := NewMemoryAgentStore()
	for i := 0; i < 5; i++ {
		agent := &models.Agent{ID: uuid.NewString(), DisplayName: "agent"}
		if err := store.Create(context.Background(), agent); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, total, err := store.List(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 {
		t.Fatalf("List() total = %d, want 5", total)
	}
	if len(list) != 2 {
		t.Fatalf("List() page length = %d, want 2", len(list))
	}
}

func TestMemoryAgentStoreUpdateMissing(t *testing.T) {
	store := NewMemoryAgentStore()
	if err := store.Update(context.Background(), &models.Agent{ID: "missing"}); err != ErrNotFound {
		t.Fatalf("Update() on missing agent error = %v, want ErrNotFound", err)
	}
}
