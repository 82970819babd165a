package sessions

import (
	"context"
	"testing"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

func TestGetOrCreateReturnsSameSessionUntilEnded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s1, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected same session id, got %s and %s", s1.ID, s2.ID)
	}

	if err := store.End(ctx, s1.ID); err != nil {
		t.Fatal(err)
	}
	s3, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	if s3.ID == s1.ID {
		t.Fatal("expected a new session after ending the prior one")
	}
}

func TestDeleteActiveSessionFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, s.ID); !errs.IsKind(err, errs.KindSessionFault) {
		t.Fatalf("expected SessionFault, got %v", err)
	}
	if err := store.End(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("expected delete to succeed on ended session: %v", err)
	}
}

func TestMessageCountInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, err := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.IncrementCounters(ctx, s.ID, 3, 10, 20, 0.01); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 3 {
		t.Fatalf("expected message_count=3, got %d", got.MessageCount)
	}
	history, err := store.History(ctx, s.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != int(got.MessageCount) {
		t.Fatalf("message_count %d != actual history len %d", got.MessageCount, len(history))
	}
}

func TestHistoryKeysetPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, _ := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})

	var ids []string
	for i := 0; i < 5; i++ {
		msg := &models.Message{SessionID: s.ID, Role: models.RoleUser, Content: "m"}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
	}

	page, err := store.History(ctx, s.ID, ids[1], 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestCreationRateLimiter(t *testing.T) {
	limiter := NewCreationLimiter(2)
	base := now()
	if err := limiter.Allow(base); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Allow(base); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Allow(base); !errs.IsKind(err, errs.KindSessionFault) {
		t.Fatalf("expected rate limit fault, got %v", err)
	}
}

func TestDeriveTitleTruncatesAndCollapses(t *testing.T) {
	got := DeriveTitle("Hello")
	if got != "Hello" {
		t.Fatalf("unexpected title: %q", got)
	}

	long := ""
	for i := 0; i < 20; i++ {
		long += "word "
	}
	got = DeriveTitle(long + "\nsecond line")
	if len([]rune(got)) > maxTitleLen {
		t.Fatalf("title exceeds max length: %d", len([]rune(got)))
	}
}

func TestExportJSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s, _ := store.GetOrCreate(ctx, "agent-1", SessionDefaults{})
	s.Title = "Hello"
	_ = store.Update(ctx, s)

	_ = store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleUser, Content: "Hello"})
	_ = store.AppendMessage(ctx, &models.Message{SessionID: s.ID, Role: models.RoleAssistant, Content: "Hi there"})

	history, _ := store.History(ctx, s.ID, "", 0)
	data, err := ExportJSONL(s, history)
	if err != nil {
		t.Fatal(err)
	}

	_, messages, err := ParseJSONL(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != len(history) {
		t.Fatalf("round-trip message count mismatch: %d != %d", len(messages), len(history))
	}
	for i := range messages {
		if messages[i].Content != history[i].Content {
			t.Fatalf("round-trip content mismatch at %d: %q != %q", i, messages[i].Content, history[i].Content)
		}
	}
}
