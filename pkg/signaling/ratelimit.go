package signaling

import (
	"sync"
	"time"
)

// windowLimiter allows at most limit events per peer within a sliding interval.
type windowLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func newWindowLimiter(limit int, interval time.Duration) *windowLimiter {
	return &windowLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for id. A non-positive limit disables limiting.
func (rl *windowLimiter) Allow(id string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

func (rl *windowLimiter) Forget(id string) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
