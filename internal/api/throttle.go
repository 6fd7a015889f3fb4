package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleIdle is how long an owner's limiter is kept after last use
const throttleIdle = 10 * time.Minute

// throttlePruneSize triggers pruning of idle limiters
const throttlePruneSize = 1024

type throttleEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// submitThrottle limits how often each owner may submit
type submitThrottle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	every    rate.Limit
	burst    int
	now      func() time.Time
}

func newSubmitThrottle(perMinute int) *submitThrottle {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &submitThrottle{
		limiters: make(map[string]*throttleEntry),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

// Allow reports whether owner may submit now, consuming a token if so
func (t *submitThrottle) Allow(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[owner]
	if !ok {
		if len(t.limiters) >= throttlePruneSize {
			t.pruneLocked(now)
		}
		entry = &throttleEntry{limiter: rate.NewLimiter(t.every, t.burst)}
		t.limiters[owner] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

func (t *submitThrottle) pruneLocked(now time.Time) {
	for owner, entry := range t.limiters {
		if now.Sub(entry.seen) > throttleIdle {
			delete(t.limiters, owner)
		}
	}
}
