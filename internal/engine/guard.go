package engine

import (
	"sync"
	"time"
)

const (
	defaultRetryDelay  = 50 * time.Millisecond
	defaultGracePeriod = 100 * time.Millisecond
	defaultMinInterval = 300 * time.Millisecond
)

// Guard is the cross-cutting debounce/dedup policy: a per-entity processing
// lock that defers rather than drops overlapping work, and a per-key
// last-seen window that suppresses rapid repeats of refresh-class events.
// Both are advisory; the operations behind them stay idempotent on their
// own.
type Guard struct {
	mu         sync.Mutex
	processing map[string]bool
	lastSeen   map[string]time.Time

	sched *Scheduler
	now   func() time.Time

	// RetryDelay is how long a deferred operation waits before retrying.
	RetryDelay time.Duration
	// GracePeriod is how long after completion an entity stays locked.
	GracePeriod time.Duration
	// MinInterval is the window within which repeats of a keyed event are
	// skipped.
	MinInterval time.Duration
}

func NewGuard(sched *Scheduler) *Guard {
	return &Guard{
		processing:  make(map[string]bool),
		lastSeen:    make(map[string]time.Time),
		sched:       sched,
		now:         time.Now,
		RetryDelay:  defaultRetryDelay,
		GracePeriod: defaultGracePeriod,
		MinInterval: defaultMinInterval,
	}
}

// Run executes fn under the entity's processing lock. If the entity is
// already being processed the operation is deferred via the scheduler and
// retried, not dropped. fn must re-validate entity state itself: by the
// time a deferred retry fires, the entity may be gone or changed.
func (g *Guard) Run(entityID string, fn func()) {
	g.mu.Lock()
	if g.processing[entityID] {
		g.mu.Unlock()
		g.sched.After("guard:retry:"+entityID, g.RetryDelay, func() {
			g.Run(entityID, fn)
		})
		return
	}
	g.processing[entityID] = true
	g.mu.Unlock()

	fn()

	g.sched.After("guard:clear:"+entityID, g.GracePeriod, func() {
		g.mu.Lock()
		delete(g.processing, entityID)
		g.mu.Unlock()
	})
}

// Allow reports whether a keyed event falls outside the minimum interval
// since its last accepted occurrence, and records it if so.
func (g *Guard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.lastSeen[key]; ok && now.Sub(last) < g.MinInterval {
		return false
	}
	g.lastSeen[key] = now
	return true
}
