package sessions

import (
	"context"
	"time"

	"github.com/conclave-run/conclave/pkg/models"
)

// forkSession is shared by both backings: Fork only ever needs the Store
// interface's own Get/History/Create/AppendMessage/IncrementCounters, so
// there is nothing backend-specific to implement twice.
func forkSession(ctx context.Context, store Store, sessionID string) (string, error) {
	src, err := store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	history, err := store.History(ctx, sessionID, "", 0)
	if err != nil {
		return "", err
	}

	forked := cloneSession(src)
	forked.ID = ""
	forked.ParentSessionID = sessionID
	forked.Status = models.SessionActive
	forked.MessageCount = 0
	forked.TotalTokens = 0
	forked.TotalCostUSD = 0
	forked.CreatedAt = time.Time{}
	forked.UpdatedAt = time.Time{}
	forked.EndedAt = nil
	if err := store.Create(ctx, forked); err != nil {
		return "", err
	}

	var inputTokens, outputTokens int
	var cost float64
	for _, msg := range history {
		clone := cloneMessage(msg)
		clone.ID = ""
		clone.SessionID = forked.ID
		clone.CreatedAt = time.Time{}
		if err := store.AppendMessage(ctx, clone); err != nil {
			return "", err
		}
		inputTokens += msg.InputTokens
		outputTokens += msg.OutputTokens
		cost += msg.CostUSD
	}
	if len(history) > 0 {
		if err := store.IncrementCounters(ctx, forked.ID, len(history), inputTokens, outputTokens, cost); err != nil {
			return "", err
		}
	}
	return forked.ID, nil
}

func (m *MemoryStore) Fork(ctx context.Context, sessionID string) (string, error) {
	return forkSession(ctx, m, sessionID)
}

func (s *SQLStore) Fork(ctx context.Context, sessionID string) (string, error) {
	return forkSession(ctx, s, sessionID)
}
