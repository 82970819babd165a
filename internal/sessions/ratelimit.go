package sessions

import (
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/errs"
)

// CreationLimiter enforces a configurable per-minute session-creation cap
// per process (default 10), counting creations within the trailing 60
// seconds as a sliding window.
type CreationLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	timestamps []time.Time
}

// DefaultCreationLimit is the default per-minute session-creation cap.
const DefaultCreationLimit = 10

// NewCreationLimiter returns a limiter capping creations at limit per
// minute. limit<=0 uses DefaultCreationLimit.
func NewCreationLimiter(limit int) *CreationLimiter {
	if limit <= 0 {
		limit = DefaultCreationLimit
	}
	return &CreationLimiter{limit: limit, window: time.Minute}
}

// Allow records a creation attempt at time t and reports whether it is
// within the cap, returning a SessionFault if not.
func (l *CreationLimiter) Allow(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := t.Add(-l.window)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.limit {
		return errs.NewSessionFault("sessions.Create", "session creation rate limit exceeded", nil)
	}
	l.timestamps = append(l.timestamps, t)
	return nil
}
