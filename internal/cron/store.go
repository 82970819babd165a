package cron

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

// MemoryStore is an in-memory job table, keyed by job id.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.CronJob
}

// NewMemoryStore constructs an empty job table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.CronJob)}
}

func (m *MemoryStore) List(ctx context.Context) ([]*models.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CronJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobCopy := *j
		out = append(out, &jobCopy)
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errs.NewScheduleFault("cron.Store.Get", fmt.Sprintf("unknown job %q", id), nil)
	}
	jobCopy := *j
	return &jobCopy, nil
}

// Upsert inserts or replaces a job by id. Upserting the same job twice
// yields an identical row.
func (m *MemoryStore) Upsert(ctx context.Context, job *models.CronJob) error {
	if job == nil || job.ID == "" {
		return errs.NewScheduleFault("cron.Store.Upsert", "job id required", nil)
	}
	if _, err := ParseSchedule(job.Schedule); err != nil {
		return errs.NewScheduleFault("cron.Store.Upsert", "invalid schedule", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	jobCopy := *job
	m.jobs[job.ID] = &jobCopy
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return errs.NewScheduleFault("cron.Store.SetEnabled", fmt.Sprintf("unknown job %q", id), nil)
	}
	j.Enabled = enabled
	return nil
}

// yamlJobTable is the on-disk seed/migration format for the job table
//. A field-for-field mirror of models.CronJob with
// yaml tags, since the durable CronJob already carries every field a
// config document would need.
type yamlJobTable struct {
	Jobs []yamlJob `yaml:"jobs"`
}

type yamlJob struct {
	ID              string `yaml:"id"`
	Schedule        string `yaml:"schedule"`
	AgentID         string `yaml:"agent_id"`
	Enabled         bool   `yaml:"enabled"`
	PayloadType     string `yaml:"payload_type"`
	PayloadText     string `yaml:"payload_text"`
	SessionMode     string `yaml:"session_mode"`
	MaxDurationSecs int    `yaml:"max_duration_seconds"`
	RetryBudget     int    `yaml:"retry_budget"`
}

// LoadYAMLJobTable reads a job table document and upserts every entry
// into store. Calling this twice on an unchanged file is a no-op beyond
// the idempotent Upsert.
func LoadYAMLJobTable(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errs.NewScheduleFault("cron.LoadYAMLJobTable", "read job table file", err)
	}
	var table yamlJobTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return 0, errs.NewScheduleFault("cron.LoadYAMLJobTable", "parse job table YAML", err)
	}
	for _, y := range table.Jobs {
		job := &models.CronJob{
			ID:          y.ID,
			Schedule:    y.Schedule,
			AgentID:     y.AgentID,
			Enabled:     y.Enabled,
			PayloadType: models.PayloadType(y.PayloadType),
			PayloadText: y.PayloadText,
			SessionMode: models.SessionMode(y.SessionMode),
			RetryBudget: y.RetryBudget,
		}
		if y.MaxDurationSecs > 0 {
			job.MaxDuration = time.Duration(y.MaxDurationSecs) * time.Second
		}
		if job.PayloadType == "" {
			job.PayloadType = models.PayloadPrompt
		}
		if job.SessionMode == "" {
			job.SessionMode = models.SessionModeIsolated
		}
		if err := store.Upsert(ctx, job); err != nil {
			return 0, err
		}
	}
	return len(table.Jobs), nil
}
