package nlp

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of classifier calls allowed per
	// conversation per window.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// RateLimiter is a per-conversation sliding-window limiter for classifier
// calls. It is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter allows limit calls per window. Non-positive values take the
// defaults (20 per minute).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a call for conversation and reports whether it is within
// the limit. Rejected calls are not recorded.
func (r *RateLimiter) Allow(conversation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(conversation, now)
	if len(valid) >= r.limit {
		return false
	}
	r.calls[conversation] = append(valid, now)
	return true
}

// Remaining returns how many calls conversation may still make in the
// current window.
func (r *RateLimiter) Remaining(conversation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.limit-len(r.prune(conversation, r.now())), 0)
}

// prune drops timestamps outside the window. Callers hold r.mu.
func (r *RateLimiter) prune(conversation string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.calls[conversation]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.calls, conversation)
		return nil
	}
	r.calls[conversation] = valid
	return valid
}
