package cron

import (
	"context"
	"sync"
	"time"

	"github.com/conclave-run/conclave/pkg/models"
)

// ExecutionStore persists cron job execution history.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.JobExecution) error
	Get(ctx context.Context, id string) (*models.JobExecution, error)
	List(ctx context.Context, jobID string, limit, offset int) ([]*models.JobExecution, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryExecutionStore keeps execution history in memory, newest first.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*models.JobExecution
	order      []string
}

// NewMemoryExecutionStore creates an in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*models.JobExecution)}
}

// Create stores a new execution record; history is append-only.
func (s *MemoryExecutionStore) Create(ctx context.Context, exec *models.JobExecution) error {
	if exec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = cloneExecution(exec)
	s.order = append([]string{exec.ID}, s.order...)
	return nil
}

// Get returns an execution by id.
func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*models.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return cloneExecution(exec), nil
}

// List returns execution history for jobID, most recent first, paginated.
func (s *MemoryExecutionStore) List(ctx context.Context, jobID string, limit, offset int) ([]*models.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	matched := make([]*models.JobExecution, 0, len(s.order))
	for _, id := range s.order {
		exec, ok := s.executions[id]
		if !ok {
			continue
		}
		if jobID != "" && exec.JobID != jobID {
			continue
		}
		matched = append(matched, exec)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	result := make([]*models.JobExecution, 0, end-offset)
	for _, exec := range matched[offset:end] {
		result = append(result, cloneExecution(exec))
	}
	return result, nil
}

// Prune removes execution rows started before the cutoff.
func (s *MemoryExecutionStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	newOrder := make([]string, 0, len(s.order))
	for _, id := range s.order {
		exec, ok := s.executions[id]
		if !ok {
			continue
		}
		if exec.StartedAt.Before(cutoff) {
			delete(s.executions, id)
			pruned++
			continue
		}
		newOrder = append(newOrder, id)
	}
	s.order = newOrder
	return pruned, nil
}

func cloneExecution(exec *models.JobExecution) *models.JobExecution {
	if exec == nil {
		return nil
	}
	clone := *exec
	return &clone
}
