package ratelimit

import (
	"testing"
)

func TestBucketAllow(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("request after burst should be denied")
	}
}

func TestBucketTokens(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	initial := bucket.Tokens()
	if initial != 5 {
		t.Errorf("initial tokens = %f, want 5", initial)
	}

	bucket.Allow()
	if after := bucket.Tokens(); after >= initial {
		t.Error("tokens should decrease after Allow()")
	}
}

func TestBucketWaitTime(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})

	if bucket.WaitTime() != 0 {
		t.Error("should not wait when tokens available")
	}
	bucket.Allow()
	if bucket.WaitTime() <= 0 {
		t.Error("should need to wait when no tokens")
	}
}

func TestBucketZeroConfigUsesDefaults(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 0, BurstSize: 0, Enabled: true})

	if !bucket.Allow() {
		t.Error("Allow() should succeed on a zero-config bucket with defaults applied")
	}
	tokens := bucket.Tokens()
	if tokens < 15 || tokens > 20 {
		t.Errorf("expected tokens in range [15,20] with default burst of 20, got %f", tokens)
	}
	if !bucket.AllowN(5) {
		t.Error("AllowN(5) should succeed with default burst")
	}
}

func TestLimiterAllow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 3, Enabled: true})

	for i := 0; i < 3; i++ {
		if !limiter.Allow("user1") {
			t.Errorf("user1 request %d should be allowed", i)
		}
	}
	if limiter.Allow("user1") {
		t.Error("user1 should be rate limited")
	}
	if !limiter.Allow("user2") {
		t.Error("user2 should be allowed, keys are independent")
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})

	for i := 0; i < 20; i++ {
		if !limiter.Allow("user1") {
			t.Error("disabled limiter should always allow")
		}
	}
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2, Enabled: true})

	limiter.Allow("user1")
	limiter.Allow("user1")
	if limiter.Allow("user1") {
		t.Error("should be rate limited")
	}

	limiter.Reset("user1")
	if !limiter.Allow("user1") {
		t.Error("should be allowed after reset")
	}
}

func TestLimiterGetStatus(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	status := limiter.GetStatus("user1")
	if !status.AllowedNow {
		t.Error("should be allowed initially")
	}
	if status.TokensRemaining != 5 {
		t.Errorf("initial tokens = %f, want 5", status.TokensRemaining)
	}
}

func TestCompositeKey(t *testing.T) {
	key := CompositeKey("channel", "telegram", "user", "12345")
	expected := "channel:telegram:user:12345"
	if key != expected {
		t.Errorf("CompositeKey() = %q, want %q", key, expected)
	}
}

func TestMultiLimiterAllow(t *testing.T) {
	globalLimiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, Enabled: true})
	userLimiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2, Enabled: true})

	multi := NewMultiLimiter(globalLimiter, userLimiter)

	if !multi.Allow("user1") {
		t.Error("first request should be allowed")
	}
	if !multi.Allow("user1") {
		t.Error("second request should be allowed")
	}
	if multi.Allow("user1") {
		t.Error("user should be rate limited once the tighter limiter is exhausted")
	}
}
