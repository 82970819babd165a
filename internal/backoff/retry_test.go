package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestRetryWithBackoffSucceedsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 10, MaxMs: 100, Factor: 2, Jitter: 0}

	var attempts int32
	result, err := RetryWithBackoff(ctx, policy, 3, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != "success" || result.Attempts != 1 {
		t.Errorf("RetryWithBackoff() = %+v, want value=success attempts=1", result)
	}
}

func TestRetryWithBackoffSucceedsAfterRetries(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 5, MaxMs: 100, Factor: 2, Jitter: 0}

	var attempts int32
	result, err := RetryWithBackoff(ctx, policy, 5, func(attempt int) (int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return 0, errTemporary
		}
		return int(n), nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != 3 || result.Attempts != 3 {
		t.Errorf("RetryWithBackoff() = %+v, want value=3 attempts=3", result)
	}
}

func TestRetryWithBackoffAllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 5, MaxMs: 100, Factor: 2, Jitter: 0}

	var attempts int32
	result, err := RetryWithBackoff(ctx, policy, 3, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", errTemporary
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("RetryWithBackoff() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if result.LastError != errTemporary || result.Attempts != 3 || atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("RetryWithBackoff() = %+v, calls=%d, want lastErr=errTemporary attempts=3 calls=3", result, attempts)
	}
}

func TestRetryWithBackoffContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 1000, Factor: 2, Jitter: 0}

	var attempts int32
	go func() {
		for atomic.LoadInt32(&attempts) < 1 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := RetryWithBackoff(ctx, policy, 5, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", errTemporary
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
	if result.Attempts < 1 {
		t.Errorf("RetryWithBackoff() attempts = %v, want >= 1", result.Attempts)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("RetryWithBackoff() took too long: %v", elapsed)
	}
}

func TestRetryWithBackoffContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := BackoffPolicy{InitialMs: 100, MaxMs: 1000, Factor: 2, Jitter: 0}

	var attempts int32
	_, err := RetryWithBackoff(ctx, policy, 5, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Errorf("Function called %v times, want 0", attempts)
	}
}

func TestRetryWithBackoffZeroAttempts(t *testing.T) {
	ctx := context.Background()
	policy := BackoffPolicy{InitialMs: 10, MaxMs: 100, Factor: 2, Jitter: 0}

	var attempts int32
	_, err := RetryWithBackoff(ctx, policy, 0, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("RetryWithBackoff() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Errorf("Function called %v times, want 0", attempts)
	}
}

func TestRetryFunc(t *testing.T) {
	ctx := context.Background()

	var attempts int32
	result, err := RetryFunc(ctx, 3, func(attempt int) (string, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return "", errTemporary
		}
		return "done", nil
	})

	if err != nil {
		t.Errorf("RetryFunc() error = %v, want nil", err)
	}
	if result != "done" {
		t.Errorf("RetryFunc() result = %v, want done", result)
	}
}

func TestRetrySimple(t *testing.T) {
	ctx := context.Background()

	var attempts int32
	err := RetrySimple(ctx, 3, func() error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return errTemporary
		}
		return nil
	})

	if err != nil {
		t.Errorf("RetrySimple() error = %v, want nil", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("Function called %v times, want 2", attempts)
	}

	attempts = 0
	err = RetrySimple(ctx, 2, func() error {
		atomic.AddInt32(&attempts, 1)
		return errTemporary
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("RetrySimple() error = %v, want ErrMaxAttemptsExhausted", err)
	}
}
