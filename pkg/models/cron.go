package models

import "time"

// SessionMode controls which session a cron job's fires are dispatched into.
type SessionMode string

const (
	// SessionModeIsolated creates a fresh session for every fire.
	SessionModeIsolated SessionMode = "isolated"
	// SessionModeShared reuses a single session for the (agent, job) pair.
	SessionModeShared SessionMode = "shared"
	// SessionModePersistent reuses the agent's long-lived cron session.
	SessionModePersistent SessionMode = "persistent"
)

// PayloadType is the kind of work a cron job's payload describes. Only
// "prompt" is currently supported.
type PayloadType string

// PayloadPrompt dispatches the job's payload text as a chat message.
const PayloadPrompt PayloadType = "prompt"

// CronJob is a scheduled unit of work, persisted in the job table and
// (re)loaded into the Scheduler on start and on explicit reload.
type CronJob struct {
	ID          string      `json:"id"`
	Schedule    string      `json:"schedule"` // "Nm"/"Nh" or 6-field cron expr
	AgentID     string      `json:"agent_id"`
	Enabled     bool        `json:"enabled"`
	PayloadType PayloadType `json:"payload_type"`
	PayloadText string      `json:"payload_text"`
	SessionMode SessionMode `json:"session_mode"`

	MaxDuration time.Duration `json:"max_duration"`
	RetryBudget int           `json:"retry_budget"`

	NextRun time.Time `json:"next_run,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// ExecutionOutcome is the terminal state of one Job Execution.
type ExecutionOutcome string

const (
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeError   ExecutionOutcome = "error"
	OutcomeTimeout ExecutionOutcome = "timeout"
)

// JobExecution is an append-only history entry for one cron job fire.
type JobExecution struct {
	ID         string           `json:"id"`
	JobID      string           `json:"job_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcome    ExecutionOutcome `json:"outcome"`
	Result     string           `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration"`
}
