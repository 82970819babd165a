package sessions

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/conclave-run/conclave/pkg/models"
)

// These exercise SQLStore against a scripted driver rather than a real
// database, so the store's query shape and argument order are pinned
// without standing up Postgres or sqlite in the test run.

func TestSQLStoreCreateExecutesExpectedInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("s1", "agent-1", models.SessionKindInteractive, models.SessionActive,
			"", "", 0.0, 0, 50, "", 0, int64(0), 0.0, "null",
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewSQLStore(db)
	session := &models.Session{ID: "s1", AgentID: "agent-1", Kind: models.SessionKindInteractive, ContextWindow: 50}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreGetReturnsSessionFaultOnNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, agent_id, kind, status")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "agent_id", "kind", "status", "title", "model_override", "temperature",
			"max_output_tokens", "context_window", "system_prompt_override", "message_count",
			"total_tokens", "total_cost_usd", "metadata", "created_at", "updated_at", "ended_at",
		}))

	store := NewSQLStore(db)
	_, err = store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreEndUpdatesStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status=?, ended_at=?, updated_at=? WHERE id=?")).
		WithArgs(models.SessionEnded, sqlmock.AnyArg(), sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewSQLStore(db)
	if err := store.End(context.Background(), "s1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
