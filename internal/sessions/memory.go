package sessions

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

// MemoryStore is an in-memory Store implementation, used for tests and as
// the embedded-mode backing when no DB driver is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errs.NewSessionFault("sessions.Create", "session is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now()
	}
	clone.UpdatedAt = clone.CreatedAt
	if clone.Status == "" {
		clone.Status = models.SessionActive
	}
	m.sessions[clone.ID] = clone
	*session = *clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.NewSessionFault("sessions.Get", "unknown session "+id, nil)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.ID]
	if !ok {
		return errs.NewSessionFault("sessions.Update", "unknown session "+session.ID, nil)
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = now()
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) End(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errs.NewSessionFault("sessions.End", "unknown session "+id, nil)
	}
	t := now()
	s.Status = models.SessionEnded
	s.EndedAt = &t
	s.UpdatedAt = t
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errs.NewSessionFault("sessions.Delete", "unknown session "+id, nil)
	}
	if s.IsActive() {
		return errs.NewSessionFault("sessions.Delete", "cannot delete an active session", nil)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if opts.AgentID != "" && s.AgentID != opts.AgentID {
			continue
		}
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		matched = append(matched, cloneSession(s))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })

	offset := opts.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, agentID string, defaults SessionDefaults) (*models.Session, error) {
	m.mu.Lock()
	var newest *models.Session
	for _, s := range m.sessions {
		if s.AgentID != agentID || s.Status != models.SessionActive {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest != nil {
		result := cloneSession(newest)
		m.mu.Unlock()
		return result, nil
	}
	m.mu.Unlock()

	session := &models.Session{
		AgentID:              agentID,
		Kind:                 defaults.Kind,
		Status:               models.SessionActive,
		ModelOverride:        defaults.ModelOverride,
		Temperature:          defaults.Temperature,
		MaxOutputTokens:      defaults.MaxOutputTokens,
		ContextWindow:        defaults.ContextWindow,
		SystemPromptOverride: defaults.SystemPromptOverride,
	}
	if session.Kind == "" {
		session.Kind = models.SessionKindInteractive
	}
	if err := m.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errs.NewSessionFault("sessions.AppendMessage", "message is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return errs.NewSessionFault("sessions.AppendMessage", "unknown session "+msg.SessionID, nil)
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now()
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], clone)
	*msg = *clone
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID, afterID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[sessionID]
	start := 0
	if afterID != "" {
		for i, msg := range all {
			if msg.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	var out []*models.Message
	for _, msg := range all[start:] {
		out = append(out, cloneMessage(msg))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Search(ctx context.Context, query string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(query)
	var matches []*models.Message
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if strings.Contains(strings.ToLower(msg.Content), q) {
				matches = append(matches, cloneMessage(msg))
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryStore) IncrementCounters(ctx context.Context, sessionID string, deltaMessages, deltaInputTokens, deltaOutputTokens int, deltaCost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errs.NewSessionFault("sessions.IncrementCounters", "unknown session "+sessionID, nil)
	}
	s.MessageCount += deltaMessages
	s.TotalTokens += int64(deltaInputTokens + deltaOutputTokens)
	s.TotalCostUSD += deltaCost
	s.UpdatedAt = now()
	return nil
}
