package cron

import (
	"context"

	"github.com/conclave-run/conclave/pkg/models"
)

// Dispatcher is the Chat Engine seam the Scheduler drives: a job fire
// resolves a session (per its SessionMode) and sends the job's payload
// text into it as a user message.
type Dispatcher interface {
	SendMessage(ctx context.Context, sessionID, content string) error
}

// SessionResolver resolves the session a job fire dispatches into,
// honoring the job's SessionMode.
type SessionResolver interface {
	// ResolveSession returns the session id a fire of job should dispatch
	// into, creating one if the job's SessionMode calls for it.
	ResolveSession(ctx context.Context, job *models.CronJob) (string, error)
}

// Store is the job table: the scheduler's source of truth.
type Store interface {
	List(ctx context.Context) ([]*models.CronJob, error)
	Get(ctx context.Context, id string) (*models.CronJob, error)
	// Upsert inserts or replaces a job by id; upserting the same job twice
	// yields identical rows.
	Upsert(ctx context.Context, job *models.CronJob) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
