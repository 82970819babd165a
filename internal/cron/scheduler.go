package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/conclave-run/conclave/internal/backoff"
	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

// Tracer is the Scheduler's optional span seam, shaped to match
// observability.Tracer's methods exactly so this package doesn't need to
// import internal/observability.
type Tracer interface {
	TraceCronFire(ctx context.Context, jobID string) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// jobState tracks a loaded job's scheduling state alongside its durable
// row.
type jobState struct {
	job      *models.CronJob
	schedule Schedule
	nextRun  time.Time
	mu       sync.Mutex // held for the duration of one execution; TryLock enforces at most one concurrent execution per job id
}

// Scheduler runs cron jobs from the job table.
type Scheduler struct {
	store      Store
	executions ExecutionStore
	resolver   SessionResolver
	dispatcher Dispatcher
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time
	tick       time.Duration
	retryBase  backoff.BackoffPolicy
	tracer     Tracer

	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	stop    chan struct{}
	done    chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithRetryPolicy overrides the retry backoff policy (default: 1s initial,
// factor 2, 60s cap: 1s, 2s, 4s, ... capped). Tests
// use this to avoid real multi-second sleeps.
func WithRetryPolicy(p backoff.BackoffPolicy) Option {
	return func(s *Scheduler) { s.retryBase = p }
}

// WithTracer attaches a Tracer so each fire's execution is wrapped in a
// span. Passing nil (the default) disables span emission.
func WithTracer(t Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// New constructs a Scheduler wired to the job table, execution history,
// session resolver, and dispatcher.
func New(store Store, executions ExecutionStore, resolver SessionResolver, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		executions: executions,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "scheduler"),
		loc:        time.Local,
		now:        time.Now,
		tick:       time.Second,
		retryBase:  backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 60000, Factor: 2, Jitter: 0},
		jobs:       make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload reads all enabled jobs from the store and (re)registers their
// triggers, keyed by job id.
func (s *Scheduler) Reload(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return errs.NewScheduleFault("scheduler.Reload", "list job table", err)
	}
	now := s.now()

	next := make(map[string]*jobState, len(jobs))
	s.mu.Lock()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		sched, perr := ParseSchedule(job.Schedule)
		if perr != nil {
			s.logger.Warn("cron job skipped: bad schedule", "id", job.ID, "error", perr)
			continue
		}
		state := s.jobs[job.ID]
		if state == nil {
			state = &jobState{}
		}
		state.job = job
		state.schedule = sched
		if state.nextRun.IsZero() {
			state.nextRun = sched.Next(now, s.loc)
		}
		next[job.ID] = state
	}
	s.jobs = next
	s.mu.Unlock()
	return nil
}

// Start begins the scheduler's tick loop until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop := s.stop
	done := s.done
	s.mu.Unlock()
	close(stop)
	<-done
}

// SetShutdown gates new fires; the composition root calls this alongside
// the Agent Pool's own Shutdown.
func (s *Scheduler) SetShutdown(v bool) {
	s.shutdownMu.Lock()
	s.shutdown = v
	s.shutdownMu.Unlock()
}

func (s *Scheduler) isShutdown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shutdown
}

// RunDue fires every job whose nextRun has elapsed. Simultaneous fires run
// under a structured group where one job's failure never affects another
//.
func (s *Scheduler) RunDue(ctx context.Context) int {
	if s.isShutdown() {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	due := make([]*jobState, 0)
	for _, state := range s.jobs {
		if state.job.Enabled && !state.nextRun.IsZero() && !now.Before(state.nextRun) {
			due = append(due, state)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	group, gctx := errgroup.WithContext(context.Background())
	for _, state := range due {
		state := state
		group.Go(func() error {
			s.fire(gctx, state, now)
			return nil
		})
	}
	_ = group.Wait()
	return len(due)
}

// fire runs one job's due execution, enforcing the per-job mutual
// exclusion and advancing its next-run time regardless of outcome.
func (s *Scheduler) fire(ctx context.Context, state *jobState, now time.Time) {
	if !state.mu.TryLock() {
		// Overlapping fire: dropped, not queued.
		s.logger.Warn("cron fire dropped: previous execution still running", "id", state.job.ID)
		s.advanceNextRun(state, now)
		return
	}
	defer state.mu.Unlock()

	s.runWithRetry(ctx, state.job)
	s.advanceNextRun(state, s.now())
}

func (s *Scheduler) advanceNextRun(state *jobState, from time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.nextRun = state.schedule.Next(from, s.loc)
}

// runWithRetry executes one job fire, retrying on failure up to
// RetryBudget times with exponential backoff (1s, 2s, 4s, ... capped),
// recording exactly one history row for the fire.
func (s *Scheduler) runWithRetry(ctx context.Context, job *models.CronJob) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.TraceCronFire(ctx, job.ID)
		defer span.End()
	}

	policy := s.retryBase
	maxAttempts := job.RetryBudget + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	started := s.now()
	var lastErr error
	var outcome models.ExecutionOutcome
	var result string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := backoff.SleepWithBackoff(ctx, policy, attempt-1); err != nil {
				lastErr = err
				break
			}
		}
		result, outcome, lastErr = s.runOnce(ctx, job)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil && s.tracer != nil {
		s.tracer.RecordError(span, lastErr)
	}

	finished := s.now()
	exec := &models.JobExecution{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Outcome:    outcome,
		Result:     result,
	}
	if lastErr != nil {
		exec.Error = lastErr.Error()
		if exec.Outcome == "" {
			exec.Outcome = models.OutcomeError
		}
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		s.logger.Warn("cron execution history write failed", "id", job.ID, "error", err)
	}
}

// runOnce resolves the job's session and dispatches its payload once,
// bounded by MaxDuration.
func (s *Scheduler) runOnce(ctx context.Context, job *models.CronJob) (result string, outcome models.ExecutionOutcome, err error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if job.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.MaxDuration)
		defer cancel()
	}

	sessionID, err := s.resolver.ResolveSession(runCtx, job)
	if err != nil {
		return "", models.OutcomeError, errs.NewScheduleFault("scheduler.runOnce", "resolve session", err)
	}

	if job.PayloadType != models.PayloadPrompt {
		return "", models.OutcomeError, errs.NewScheduleFault("scheduler.runOnce", fmt.Sprintf("unsupported payload type %q", job.PayloadType), nil)
	}

	done := make(chan error, 1)
	go func() { done <- s.dispatcher.SendMessage(runCtx, sessionID, job.PayloadText) }()

	select {
	case <-runCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", models.OutcomeError, ctx.Err()
		}
		return "", models.OutcomeTimeout, runCtx.Err()
	case err := <-done:
		if err != nil {
			return "", models.OutcomeError, err
		}
		return "dispatched", models.OutcomeSuccess, nil
	}
}

// Executions returns job execution history, most recent first.
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit, offset int) ([]*models.JobExecution, error) {
	return s.executions.List(ctx, jobID, limit, offset)
}

// Jobs returns a snapshot of the loaded job table.
func (s *Scheduler) Jobs() []*models.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.CronJob, 0, len(s.jobs))
	for _, state := range s.jobs {
		jobCopy := *state.job
		out = append(out, &jobCopy)
	}
	return out
}

// FireNow immediately runs one job by id, bypassing its schedule (used by
// the operator CLI's manual-trigger command and by tests).
func (s *Scheduler) FireNow(ctx context.Context, id string) error {
	s.mu.Lock()
	state, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return errs.NewScheduleFault("scheduler.FireNow", fmt.Sprintf("unknown job %q", id), nil)
	}
	s.fire(ctx, state, s.now())
	return nil
}
