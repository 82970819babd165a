package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoffWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      BackoffPolicy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:        "first attempt with no jitter",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     1,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "third attempt quadruples",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     3,
			randomValue: 0.5,
			expected:    400 * time.Millisecond,
		},
		{
			name:        "clamped to max",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 500, Factor: 2, Jitter: 0},
			attempt:     10,
			randomValue: 0.5,
			expected:    500 * time.Millisecond,
		},
		{
			name:        "with 10% jitter at max random",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 1.0,
			expected:    110 * time.Millisecond,
		},
		{
			name:        "negative attempt treated as 1",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:     -5,
			randomValue: 0.5,
			expected:    100 * time.Millisecond,
		},
		{
			name:        "jitter causes max clamping",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 105, Factor: 1, Jitter: 0.5},
			attempt:     1,
			randomValue: 1.0,
			expected:    105 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoffWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeBackoffWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestComputeBackoffJitterRange(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.2}
	minExpected := 100 * time.Millisecond
	maxExpected := 120 * time.Millisecond

	for i := 0; i < 50; i++ {
		got := ComputeBackoff(policy, 1)
		if got < minExpected || got > maxExpected {
			t.Errorf("ComputeBackoff() = %v, want in range [%v, %v]", got, minExpected, maxExpected)
		}
	}
}

func TestNamedPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   BackoffPolicy
		initial  int
		max      int
		factor   float64
		jitter   float64
	}{
		{"default", DefaultPolicy(), 100, 30000, 2, 0.1},
		{"aggressive", AggressivePolicy(), 50, 5000, 1.5, 0.05},
		{"conservative", ConservativePolicy(), 500, 60000, 2.5, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.policy.InitialMs != tt.initial || tt.policy.MaxMs != tt.max ||
				tt.policy.Factor != tt.factor || tt.policy.Jitter != tt.jitter {
				t.Errorf("%s policy = %+v, want initial=%d max=%d factor=%v jitter=%v",
					tt.name, tt.policy, tt.initial, tt.max, tt.factor, tt.jitter)
			}
		})
	}
}

func TestPolicyComparison(t *testing.T) {
	aggBackoff := ComputeBackoffWithRand(AggressivePolicy(), 1, 0)
	defBackoff := ComputeBackoffWithRand(DefaultPolicy(), 1, 0)
	consBackoff := ComputeBackoffWithRand(ConservativePolicy(), 1, 0)

	if aggBackoff >= defBackoff {
		t.Errorf("aggressive backoff %v should be < default backoff %v", aggBackoff, defBackoff)
	}
	if defBackoff >= consBackoff {
		t.Errorf("default backoff %v should be < conservative backoff %v", defBackoff, consBackoff)
	}
}
