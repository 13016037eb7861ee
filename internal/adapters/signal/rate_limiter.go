package signal

import (
	"sync"
	"time"

	"github.com/cosmichat/voicemesh/internal/domain"
)

// EnvelopeRateLimiter caps how many envelopes a single user may push through
// the relay per sliding window. The history table only holds users with sends
// inside the current window; Forget drops a user outright when the control
// connection unbinds.
type EnvelopeRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewEnvelopeRateLimiter(limit int, interval time.Duration) *EnvelopeRateLimiter {
	return &EnvelopeRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *EnvelopeRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	// Sends are recorded in order; the expired ones form a prefix.
	attempts := rl.history[uid]
	stale := 0
	for stale < len(attempts) && !attempts[stale].After(windowStart) {
		stale++
	}
	attempts = attempts[stale:]

	if len(attempts) >= rl.limit {
		rl.history[uid] = attempts
		return false
	}

	rl.history[uid] = append(attempts, now)
	return true
}

// Forget drops a user's send history. The relay calls it on unbind so the
// table never grows with users no longer connected.
func (rl *EnvelopeRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	delete(rl.history, uid)
	rl.mu.Unlock()
}
