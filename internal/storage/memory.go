package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conclave-run/conclave/pkg/models"
)

// MemoryAgentStore provides an in-memory AgentStore, used in tests and by
// the operator CLI's dry-run mode.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryAgentStore creates an in-memory agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.Agent)}
}

func (s *MemoryAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return ErrAlreadyExists
	}
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return agent, nil
}

func (s *MemoryAgentStore) List(ctx context.Context, limit, offset int) ([]*models.Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return paginateAgents(agents, limit, offset), len(agents), nil
}

func paginateAgents(agents []*models.Agent, limit, offset int) []*models.Agent {
	if offset < 0 {
		offset = 0
	}
	if offset > len(agents) {
		offset = len(agents)
	}
	end := len(agents)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return agents[offset:end]
}

func (s *MemoryAgentStore) Update(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; !exists {
		return ErrNotFound
	}
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryAgentStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[id]; !exists {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

// NewMemoryStores constructs a Stores backed by memory.
func NewMemoryStores() Stores {
	return Stores{Agents: NewMemoryAgentStore()}
}
