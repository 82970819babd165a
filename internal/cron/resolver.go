package cron

import (
	"context"
	"fmt"
	"sync"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/pkg/models"
)

// SessionStoreResolver implements SessionResolver against the Session
// Store, honoring three session modes: a fresh session
// per fire (isolated), one session shared across fires of the same
// (agent, job) pair (shared), or the agent's single long-lived cron
// session reused across every job (persistent).
type SessionStoreResolver struct {
	store sessions.Store

	mu      sync.Mutex
	shared  map[string]string // "agentID:jobID" -> sessionID
	persist map[string]string // agentID -> sessionID
}

// NewSessionStoreResolver constructs a resolver over the given store.
func NewSessionStoreResolver(store sessions.Store) *SessionStoreResolver {
	return &SessionStoreResolver{
		store:   store,
		shared:  make(map[string]string),
		persist: make(map[string]string),
	}
}

// ResolveSession implements SessionResolver.
func (r *SessionStoreResolver) ResolveSession(ctx context.Context, job *models.CronJob) (string, error) {
	switch job.SessionMode {
	case models.SessionModeIsolated:
		// A fresh session per fire, never reused across runs.
		return r.createSession(ctx, job.AgentID)
	case models.SessionModeShared:
		key := job.AgentID + ":" + job.ID
		return r.cached(ctx, &r.shared, key, job.AgentID)
	case models.SessionModePersistent:
		return r.cached(ctx, &r.persist, job.AgentID, job.AgentID)
	default:
		return "", errs.NewScheduleFault("cron.ResolveSession", fmt.Sprintf("unknown session mode %q", job.SessionMode), nil)
	}
}

func (r *SessionStoreResolver) cached(ctx context.Context, cache *map[string]string, key, agentID string) (string, error) {
	r.mu.Lock()
	if id, ok := (*cache)[key]; ok {
		r.mu.Unlock()
		if session, err := r.store.Get(ctx, id); err == nil && session.IsActive() {
			return id, nil
		}
	} else {
		r.mu.Unlock()
	}

	id, err := r.newSession(ctx, agentID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	(*cache)[key] = id
	r.mu.Unlock()
	return id, nil
}

// newSession resolves the current session for shared/persistent modes,
// reusing whatever the agent's most recent active session is.
func (r *SessionStoreResolver) newSession(ctx context.Context, agentID string) (string, error) {
	session, err := r.store.GetOrCreate(ctx, agentID, sessions.SessionDefaults{
		Kind:          models.SessionKindCron,
		ContextWindow: models.DefaultContextWindow,
	})
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

// createSession always creates a brand new session, used for isolated
// mode where reuse is explicitly disallowed.
func (r *SessionStoreResolver) createSession(ctx context.Context, agentID string) (string, error) {
	session := &models.Session{
		AgentID:       agentID,
		Kind:          models.SessionKindCron,
		ContextWindow: models.DefaultContextWindow,
	}
	if err := r.store.Create(ctx, session); err != nil {
		return "", err
	}
	return session.ID, nil
}
