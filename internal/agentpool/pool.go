// Package agentpool implements the Agent Pool: bounded-concurrency agent
// lifecycle management, pheromone-weighted routing, and structured
// cancellation groups for parallel task dispatch. Routing selects the
// highest-scored candidate from a sorted snapshot; task groups are built
// on golang.org/x/sync/errgroup with per-call-site failure propagation:
// fail-fast for spawn/shutdown, collect-all tolerance for run_parallel.
package agentpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conclave-run/conclave/internal/errs"
	"github.com/conclave-run/conclave/pkg/models"
)

// DefaultMaxConcurrent is the Agent Pool's task concurrency cap.
const DefaultMaxConcurrent = 5

// DefaultPheromoneGain and DefaultPheromoneDecayFactor are recordOutcome's
// default pull toward 1.0 on success and toward 0.0 on failure.
const (
	DefaultPheromoneGain        = 0.1
	DefaultPheromoneDecayFactor = 0.2
)

// PoolConfig tunes the pheromone-routing model. Zero values take the
// package defaults.
type PoolConfig struct {
	MaxConcurrent int
	CoordinatorID string

	// PheromoneGain is the fraction of the gap to 1.0 a successful task
	// closes on an agent's score.
	PheromoneGain float64
	// PheromoneDecayFactor is the fraction of its current score a failed
	// task strips from an agent.
	PheromoneDecayFactor float64
}

// AgentConfig seeds one agent's runtime state on spawn.
type AgentConfig struct {
	ID           string
	DisplayName  string
	DefaultModel string
	Identity     models.IdentityConfig
}

// SpawnResult reports one config's spawn outcome.
type SpawnResult struct {
	AgentID string
	Status  string // "running" or "error:<message>"
}

// TaskSpec is one unit of run_parallel work.
type TaskSpec struct {
	AgentID   string
	Prompt    string
	SessionID string
}

// TaskStatus is a run_parallel task's distinguished outcome.
type TaskStatus string

const (
	TaskSuccess TaskStatus = "success"
	TaskTimeout TaskStatus = "timeout"
	TaskError   TaskStatus = "error"
)

// TaskResult is one run_parallel task's outcome.
type TaskResult struct {
	AgentID    string
	Status     TaskStatus
	Output     string
	LatencyMS  int64
	InputToken int
}

// Runner executes one agent task, e.g. by delegating to the Chat Engine
// against the task's session. The Agent Pool only owns lifecycle/routing;
// it does not itself talk to the Gateway.
type Runner interface {
	Run(ctx context.Context, task TaskSpec) (output string, inputTokens int, err error)
}

// Pool is the Agent Pool component.
type Pool struct {
	mu          sync.RWMutex
	agents      map[string]*models.Agent
	sem         chan struct{}
	runner      Runner
	coordinator string

	pheromoneGain  float64
	pheromoneDecay float64

	shutdownMu sync.Mutex
	shutdown   bool
}

// New constructs a Pool. maxConcurrent<=0 uses DefaultMaxConcurrent;
// zero-value pheromone fields use the package defaults. coordinatorID is
// the fallback agent route_to_best uses when no agent is available.
func New(runner Runner, cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PheromoneGain <= 0 {
		cfg.PheromoneGain = DefaultPheromoneGain
	}
	if cfg.PheromoneDecayFactor <= 0 {
		cfg.PheromoneDecayFactor = DefaultPheromoneDecayFactor
	}
	return &Pool{
		agents:         make(map[string]*models.Agent),
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		runner:         runner,
		coordinator:    cfg.CoordinatorID,
		pheromoneGain:  cfg.PheromoneGain,
		pheromoneDecay: cfg.PheromoneDecayFactor,
	}
}

// Spawn brings up every config under a fail-fast structured group: if any
// one fails, sibling spawns are cancelled and the surviving results are
// returned alongside the failure.
func (p *Pool) Spawn(ctx context.Context, configs []AgentConfig) []SpawnResult {
	results := make([]SpawnResult, len(configs))
	group, gctx := errgroup.WithContext(ctx)

	for i, cfg := range configs {
		i, cfg := i, cfg
		group.Go(func() error {
			select {
			case <-gctx.Done():
				results[i] = SpawnResult{AgentID: cfg.ID, Status: "error:" + gctx.Err().Error()}
				return nil
			default:
			}
			agent, err := p.spawnOne(cfg)
			if err != nil {
				results[i] = SpawnResult{AgentID: cfg.ID, Status: "error:" + err.Error()}
				return err
			}
			results[i] = SpawnResult{AgentID: agent.ID, Status: "running"}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func (p *Pool) spawnOne(cfg AgentConfig) (*models.Agent, error) {
	if cfg.ID == "" {
		return nil, errs.NewSessionFault("agentpool.Spawn", "agent config missing id", nil)
	}
	agent := &models.Agent{
		ID:             cfg.ID,
		DisplayName:    cfg.DisplayName,
		DefaultModel:   cfg.DefaultModel,
		Identity:       cfg.Identity,
		Status:         models.AgentIdle,
		PheromoneScore: models.DefaultPheromoneScore,
		LastActiveAt:   time.Now(),
	}
	p.mu.Lock()
	p.agents[agent.ID] = agent
	p.mu.Unlock()
	return agent, nil
}

// RunParallel executes every task concurrently, bounded by the pool's
// semaphore, each under its own timeout. Unlike Spawn, one task's failure
// never cancels siblings.
func (p *Pool) RunParallel(ctx context.Context, tasks []TaskSpec, timeout time.Duration) []TaskResult {
	results := make([]TaskResult, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-ctx.Done():
				results[i] = TaskResult{AgentID: task.AgentID, Status: TaskTimeout}
				return
			}

			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			type outcome struct {
				output string
				tokens int
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				out, tokens, err := p.runner.Run(taskCtx, task)
				done <- outcome{output: out, tokens: tokens, err: err}
			}()

			select {
			case <-taskCtx.Done():
				results[i] = TaskResult{AgentID: task.AgentID, Status: TaskTimeout, LatencyMS: time.Since(start).Milliseconds()}
				p.recordOutcome(task.AgentID, false)
			case o := <-done:
				latency := time.Since(start).Milliseconds()
				if o.err != nil {
					results[i] = TaskResult{AgentID: task.AgentID, Status: TaskError, Output: o.err.Error(), LatencyMS: latency}
					p.recordOutcome(task.AgentID, false)
					return
				}
				results[i] = TaskResult{AgentID: task.AgentID, Status: TaskSuccess, Output: o.output, LatencyMS: latency, InputToken: o.tokens}
				p.recordOutcome(task.AgentID, true)
			}
		}()
	}
	wg.Wait()
	return results
}

// RouteToBest selects the highest pheromone-scored agent that is idle or
// running, falling back to the coordinator agent if none qualify.
// description is accepted for future capability matching but not yet
// consulted; candidates are ranked by score alone.
func (p *Pool) RouteToBest(description string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *models.Agent
	for _, agent := range p.agents {
		if agent.Status != models.AgentIdle && agent.Status != models.AgentBusy {
			continue
		}
		if best == nil || agent.PheromoneScore > best.PheromoneScore {
			best = agent
		}
	}
	if best != nil {
		return best.ID, true
	}
	if p.coordinator != "" {
		return p.coordinator, true
	}
	return "", false
}

// Shutdown cancels all in-flight agent tasks under a group bounded by
// timeout/n per agent, then clears the pool.
func (p *Pool) Shutdown(ctx context.Context, timeout time.Duration) {
	p.shutdownMu.Lock()
	p.shutdown = true
	p.shutdownMu.Unlock()

	p.mu.Lock()
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	per := timeout / time.Duration(len(ids))
	if per <= 0 {
		per = timeout
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			shutdownCtx, cancel := context.WithTimeout(gctx, per)
			defer cancel()
			<-shutdownCtx.Done()
			p.mu.Lock()
			delete(p.agents, id)
			p.mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
}

// IsShutdown reports whether Shutdown has been called; the Scheduler
// consults this before dispatching new cron-triggered work.
func (p *Pool) IsShutdown() bool {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	return p.shutdown
}

func (p *Pool) recordOutcome(agentID string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agent, ok := p.agents[agentID]
	if !ok {
		return
	}
	if success {
		agent.PheromoneScore += (1 - agent.PheromoneScore) * p.pheromoneGain
		agent.ConsecutiveFailures = 0
		agent.Status = models.AgentIdle
	} else {
		agent.PheromoneScore -= agent.PheromoneScore * p.pheromoneDecay
		agent.ConsecutiveFailures++
		if agent.ConsecutiveFailures >= 3 {
			agent.Status = models.AgentError
		}
	}
	if agent.PheromoneScore < 0 {
		agent.PheromoneScore = 0
	}
	if agent.PheromoneScore > 1 {
		agent.PheromoneScore = 1
	}
	agent.LastActiveAt = time.Now()
}

// DecaySweep pulls every agent's pheromone score toward the neutral
// baseline by factor (0,1]; run periodically by the composition root
//.
func (p *Pool) DecaySweep(factor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, agent := range p.agents {
		agent.PheromoneScore += (models.DefaultPheromoneScore - agent.PheromoneScore) * factor
	}
}

// Get returns a snapshot copy of one agent's state.
func (p *Pool) Get(id string) (models.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	agent, ok := p.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return *agent, ok
}

// List returns a snapshot of every agent's state.
func (p *Pool) List() []models.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Agent, 0, len(p.agents))
	for _, agent := range p.agents {
		out = append(out, *agent)
	}
	return out
}
