package gateway

import (
	"strings"
	"sync"
	"time"
)

// Fixed circuit breaker thresholds: 5 consecutive failures opens the
// breaker for a 30s window; the first request after the window passes
// through in half-open state.
const (
	BreakerFailureThreshold = 5
	BreakerOpenWindow       = 30 * time.Second
)

// breakerState tracks one alias's consecutive-failure count and open/closed
// state.
type breakerState struct {
	failures    int
	circuitOpen bool
	openedAt    time.Time
	halfOpen    bool // a single probe request is in flight during the half-open window
}

// Breaker is a per-alias circuit breaker. Zero value is ready to use.
type Breaker struct {
	mu     sync.Mutex
	states map[string]*breakerState
}

// NewBreaker returns a ready-to-use circuit breaker.
func NewBreaker() *Breaker {
	return &Breaker{states: make(map[string]*breakerState)}
}

// Allow reports whether a request for alias may proceed, and whether this
// request is the single half-open probe (its outcome alone decides whether
// the breaker closes or re-opens).
func (b *Breaker) Allow(alias string) (allowed bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateFor(alias)
	if !s.circuitOpen {
		return true, false
	}
	if s.halfOpen {
		// A probe is already outstanding; reject concurrent callers.
		return false, false
	}
	if time.Since(s.openedAt) < BreakerOpenWindow {
		return false, false
	}
	s.halfOpen = true
	return true, true
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess(alias string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(alias)
	s.failures = 0
	s.circuitOpen = false
	s.halfOpen = false
}

// RecordFailure increments the failure count, opening the breaker once the
// threshold is reached (or immediately re-opening it if the failure was the
// half-open probe).
func (b *Breaker) RecordFailure(alias string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateFor(alias)
	if s.halfOpen {
		s.halfOpen = false
		s.circuitOpen = true
		s.openedAt = time.Now()
		return
	}
	s.failures++
	if s.failures >= BreakerFailureThreshold {
		s.circuitOpen = true
		s.openedAt = time.Now()
	}
}

func (b *Breaker) stateFor(alias string) *breakerState {
	s, ok := b.states[alias]
	if !ok {
		s = &breakerState{}
		b.states[alias] = s
	}
	return s
}

// failureClass is a coarse classification of a raw provider error, used to
// decide retry/failover eligibility. Kept as an internal string classifier,
// with a typed errs.LLMFailure surfaced at the gateway boundary instead of
// leaking this string outward.
type failureClass string

const (
	classTimeout       failureClass = "timeout"
	classRateLimit     failureClass = "rate_limit"
	classAuth          failureClass = "auth"
	classBilling       failureClass = "billing"
	classModelMissing  failureClass = "model_unavailable"
	classServerError   failureClass = "server_error"
	classInvalidReq    failureClass = "invalid_request"
	classContentPolicy failureClass = "content_policy"
	classUnknown       failureClass = "unknown"
)

func classifyError(err error) failureClass {
	if err == nil {
		return classUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return classTimeout
	case strings.Contains(s, "rate limit") || strings.Contains(s, "rate_limit") || strings.Contains(s, "429"):
		return classRateLimit
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "invalid api key") || strings.Contains(s, "401") || strings.Contains(s, "403"):
		return classAuth
	case strings.Contains(s, "billing") || strings.Contains(s, "quota") || strings.Contains(s, "402"):
		return classBilling
	case strings.Contains(s, "model not found") || strings.Contains(s, "does not exist") || strings.Contains(s, "unavailable"):
		return classModelMissing
	case strings.Contains(s, "content policy") || strings.Contains(s, "refused") || strings.Contains(s, "safety"):
		return classContentPolicy
	case strings.Contains(s, "internal server") || strings.Contains(s, "500") || strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504"):
		return classServerError
	case strings.Contains(s, "invalid") || strings.Contains(s, "bad request") || strings.Contains(s, "400"):
		return classInvalidReq
	default:
		return classUnknown
	}
}

// isHardFailure reports whether an error should consult the fallback chain.
// Content-policy refusals are legitimate model output and must not trigger
// fallback.
func isHardFailure(err error) bool {
	switch classifyError(err) {
	case classContentPolicy:
		return false
	default:
		return true
	}
}
