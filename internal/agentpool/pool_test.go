package agentpool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conclave-run/conclave/pkg/models"
)

type scriptedRunner struct {
	outputs map[string]string
	errs    map[string]error
	delay   map[string]time.Duration
}

func (r *scriptedRunner) Run(ctx context.Context, task TaskSpec) (string, int, error) {
	if d, ok := r.delay[task.AgentID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	if err, ok := r.errs[task.AgentID]; ok {
		return "", 0, err
	}
	return r.outputs[task.AgentID], 10, nil
}

func TestSpawnPartialFailureReportsEachAgent(t *testing.T) {
	pool := New(&scriptedRunner{}, PoolConfig{MaxConcurrent: 5, CoordinatorID: "coordinator"})
	results := pool.Spawn(context.Background(), []AgentConfig{
		{ID: "a1"},
		{ID: ""}, // invalid, forces an error
		{ID: "a3"},
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != "running" {
		t.Fatalf("expected a1 running, got %s", results[0].Status)
	}
	if !strings.HasPrefix(results[1].Status, "error:") {
		t.Fatalf("expected error status for invalid config, got %s", results[1].Status)
	}
}

func TestRunParallelToleratesOneFailure(t *testing.T) {
	pool := New(&scriptedRunner{
		outputs: map[string]string{"a1": "ok1", "a3": "ok3"},
		errs:    map[string]error{"a2": errors.New("boom")},
	}, PoolConfig{MaxConcurrent: 5})
	pool.Spawn(context.Background(), []AgentConfig{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}})

	results := pool.RunParallel(context.Background(), []TaskSpec{
		{AgentID: "a1", Prompt: "p"},
		{AgentID: "a2", Prompt: "p"},
		{AgentID: "a3", Prompt: "p"},
	}, time.Second)

	statuses := map[string]TaskStatus{}
	for _, r := range results {
		statuses[r.AgentID] = r.Status
	}
	if statuses["a1"] != TaskSuccess || statuses["a3"] != TaskSuccess {
		t.Fatalf("expected a1/a3 success, got %+v", statuses)
	}
	if statuses["a2"] != TaskError {
		t.Fatalf("expected a2 error, got %v", statuses["a2"])
	}
}

func TestRunParallelTimesOutSlowTask(t *testing.T) {
	pool := New(&scriptedRunner{delay: map[string]time.Duration{"slow": 200 * time.Millisecond}}, PoolConfig{MaxConcurrent: 5})
	pool.Spawn(context.Background(), []AgentConfig{{ID: "slow"}})

	results := pool.RunParallel(context.Background(), []TaskSpec{{AgentID: "slow"}}, 20*time.Millisecond)
	if results[0].Status != TaskTimeout {
		t.Fatalf("expected timeout status, got %v", results[0].Status)
	}
}

func TestRouteToBestPrefersHigherScoreFallsBackToCoordinator(t *testing.T) {
	pool := New(&scriptedRunner{}, PoolConfig{MaxConcurrent: 5, CoordinatorID: "coordinator"})
	if _, ok := pool.RouteToBest("anything"); !ok {
		t.Fatal("expected coordinator fallback when pool is empty")
	}

	pool.Spawn(context.Background(), []AgentConfig{{ID: "a1"}, {ID: "a2"}})
	// force a2 to score higher via a success outcome.
	pool.recordOutcome("a2", true)

	id, ok := pool.RouteToBest("anything")
	if !ok || id != "a2" {
		t.Fatalf("expected a2 to win routing, got %s (ok=%v)", id, ok)
	}
}

func TestShutdownClearsPool(t *testing.T) {
	pool := New(&scriptedRunner{}, PoolConfig{MaxConcurrent: 5})
	pool.Spawn(context.Background(), []AgentConfig{{ID: "a1"}, {ID: "a2"}})
	pool.Shutdown(context.Background(), 50*time.Millisecond)

	if !pool.IsShutdown() {
		t.Fatal("expected shutdown flag set")
	}
	if len(pool.List()) != 0 {
		t.Fatal("expected pool cleared after shutdown")
	}
}

func TestRecordOutcomeUsesConfiguredPheromoneRates(t *testing.T) {
	pool := New(&scriptedRunner{}, PoolConfig{MaxConcurrent: 5, PheromoneGain: 0.5, PheromoneDecayFactor: 0.9})
	pool.Spawn(context.Background(), []AgentConfig{{ID: "a1"}})

	before, _ := pool.Get("a1")
	start := before.PheromoneScore

	pool.recordOutcome("a1", true)
	afterSuccess, _ := pool.Get("a1")
	wantSuccess := start + (1-start)*0.5
	if afterSuccess.PheromoneScore != wantSuccess {
		t.Fatalf("expected score %.4f after configured gain, got %.4f", wantSuccess, afterSuccess.PheromoneScore)
	}

	pool.recordOutcome("a1", false)
	afterFailure, _ := pool.Get("a1")
	wantFailure := wantSuccess - wantSuccess*0.9
	if afterFailure.PheromoneScore != wantFailure {
		t.Fatalf("expected score %.4f after configured decay, got %.4f", wantFailure, afterFailure.PheromoneScore)
	}
}

func TestDecaySweepMovesTowardBaseline(t *testing.T) {
	pool := New(&scriptedRunner{}, PoolConfig{MaxConcurrent: 5})
	pool.Spawn(context.Background(), []AgentConfig{{ID: "a1"}})
	pool.recordOutcome("a1", true)

	agent, _ := pool.Get("a1")
	before := agent.PheromoneScore
	pool.DecaySweep(0.5)
	after, _ := pool.Get("a1")

	if after.PheromoneScore == before {
		t.Fatal("expected decay to change the score")
	}
	if (before-models.DefaultPheromoneScore) != 0 && (after.PheromoneScore-models.DefaultPheromoneScore) == (before-models.DefaultPheromoneScore) {
		t.Fatal("expected decay to move score closer to baseline")
	}
}
