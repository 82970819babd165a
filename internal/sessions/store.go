// Package sessions implements the Session Store: durable CRUD on sessions
// and messages, auto-session resolution, keyset-paginated history, a
// creation-rate limiter, and the atomic per-session counter update the
// Chat Engine applies after every turn. The Store interface is backed by
// either an in-memory test double or a Postgres/CockroachDB/SQLite-backed
// SQLStore over a single relational schema.
package sessions

import (
	"context"
	"time"

	"github.com/conclave-run/conclave/pkg/models"
)

// Store is the Session Store's contract. The sole writer of session-row
// counters is this package; message rows are written by the Chat Engine
// via AppendMessage.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	// End sets status=ended and ends_at=now.
	End(ctx context.Context, id string) error
	// Delete removes a session and cascades to its messages. It fails with
	// errs.SessionFault if the session is still active.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// GetOrCreate returns the newest active session for agentID, or
	// creates one with the given defaults if none exists.
	GetOrCreate(ctx context.Context, agentID string, defaults SessionDefaults) (*models.Session, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	// History returns messages in a session in creation order, ascending,
	// keyset-paginated from afterID (empty = from the start).
	History(ctx context.Context, sessionID, afterID string, limit int) ([]*models.Message, error)
	// Search full-text searches message content, ranked by creation time
	// descending among matches.
	Search(ctx context.Context, query string, limit int) ([]*models.Message, error)

	// IncrementCounters atomically applies a turn's usage deltas to a
	// session row: message_count += deltaMessages, total_tokens +=
	// deltaInputTokens+deltaOutputTokens, total_cost += deltaCost,
	// updated_at = now.
	IncrementCounters(ctx context.Context, sessionID string, deltaMessages, deltaInputTokens, deltaOutputTokens int, deltaCost float64) error

	// Fork copies sessionID's full history into a new active session and
	// returns its id, letting the Agent Pool explore a speculative
	// continuation without mutating the original session.
	Fork(ctx context.Context, sessionID string) (string, error)

	// RepairTranscript scans a session's transcript for assistant tool
	// calls missing their tool result (left orphaned by a crash mid-loop)
	// and appends a synthesized error result for each. It returns the
	// number of results it synthesized.
	RepairTranscript(ctx context.Context, sessionID string) (int, error)
}

// SessionDefaults seeds a session GetOrCreate has to create.
type SessionDefaults struct {
	Kind                 models.SessionKind
	ModelOverride        string
	Temperature          float64
	MaxOutputTokens      int
	ContextWindow        int
	SystemPromptOverride string
}

// ListOptions filters and paginates List, ordered by updated_at desc.
type ListOptions struct {
	AgentID string
	Status  models.SessionStatus
	Limit   int
	Offset  int
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		clone.EndedAt = &t
	}
	return &clone
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	if m.ToolCalls != nil {
		clone.ToolCalls = append([]models.ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolResult != nil {
		tr := *m.ToolResult
		clone.ToolResult = &tr
	}
	if m.Embedding != nil {
		clone.Embedding = append([]float32(nil), m.Embedding...)
	}
	return &clone
}

// now is overridable in tests.
var now = time.Now
