package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleWindows is how many windows a key may stay silent before its bucket is dropped.
const idleWindows = 3

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key. Each bucket refills maxHits
// tokens per window and holds at most maxHits.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]*entry
	window  time.Duration
	maxHits int
	now     func() time.Time
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		limits:  make(map[string]*entry),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

func (l *Limiter) Allow(key string) bool {
	if l.maxHits <= 0 || l.window <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, exists := l.limits[key]
	if !exists {
		every := rate.Every(l.window / time.Duration(l.maxHits))
		e = &entry{limiter: rate.NewLimiter(every, l.maxHits)}
		l.limits[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limits)
}

func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-idleWindows * l.window)
	for key, e := range l.limits {
		if e.lastSeen.Before(cutoff) {
			delete(l.limits, key)
		}
	}
}
