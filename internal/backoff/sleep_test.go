package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSleepWithContextCompletes(t *testing.T) {
	ctx := context.Background()
	start := time.Now()

	err := SleepWithContext(ctx, 50*time.Millisecond)

	elapsed := time.Since(start)
	if err != nil {
		t.Errorf("SleepWithContext() error = %v, want nil", err)
	}
	if elapsed < 45*time.Millisecond {
		t.Errorf("SleepWithContext() completed too quickly: %v", elapsed)
	}
}

func TestSleepWithContextNonPositiveDuration(t *testing.T) {
	for _, d := range []time.Duration{0, -100 * time.Millisecond} {
		start := time.Now()
		err := SleepWithContext(context.Background(), d)
		elapsed := time.Since(start)
		if err != nil {
			t.Errorf("SleepWithContext(%v) error = %v, want nil", d, err)
		}
		if elapsed > 10*time.Millisecond {
			t.Errorf("SleepWithContext(%v) took too long: %v", d, elapsed)
		}
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := SleepWithContext(ctx, 500*time.Millisecond)

	elapsed := time.Since(start)
	if err != context.Canceled {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("SleepWithContext() did not cancel quickly: %v", elapsed)
	}
}

func TestSleepWithContextDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := SleepWithContext(ctx, 500*time.Millisecond)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("SleepWithContext() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("SleepWithContext() did not respect deadline: %v", elapsed)
	}
}

func TestSleepWithBackoff(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 10, MaxMs: 1000, Factor: 2, Jitter: 0}

	start := time.Now()
	err := SleepWithBackoff(context.Background(), policy, 1)
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("SleepWithBackoff() error = %v, want nil", err)
	}
	if elapsed < 8*time.Millisecond || elapsed > 50*time.Millisecond {
		t.Errorf("SleepWithBackoff() elapsed = %v, want ~10ms", elapsed)
	}
}

func TestSleepWithBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := BackoffPolicy{InitialMs: 500, MaxMs: 1000, Factor: 2, Jitter: 0}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := SleepWithBackoff(ctx, policy, 1)
	elapsed := time.Since(start)

	if err != context.Canceled {
		t.Errorf("SleepWithBackoff() error = %v, want context.Canceled", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("SleepWithBackoff() did not cancel quickly: %v", elapsed)
	}
}
