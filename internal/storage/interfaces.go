// Package storage persists Agent Pool agent configuration durably, so a
// restarted runtime reloads the same agent roster it shut down with
//.
package storage

import (
	"context"
	"errors"

	"github.com/conclave-run/conclave/pkg/models"
)

var (
	ErrNotFound      = errors.New("agent not found")
	ErrAlreadyExists = errors.New("agent already exists")
)

// AgentStore persists Agent Pool agent rows.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, limit, offset int) ([]*models.Agent, int, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
}

// Stores groups the durable stores the composition root wires up.
type Stores struct {
	Agents AgentStore
	closer func() error
}

// Close closes any underlying resources.
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
