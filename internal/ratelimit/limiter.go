package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key (a project id, or the client
// address when a request names no project)
type Limiter struct {
	buckets map[string]*bucket
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter
// requestsPerHour: requests allowed per hour per key (e.g., 100)
// burst: max requests in a burst (e.g., 10)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
		now:     time.Now,
	}
}

// Burst is the bucket size
func (l *Limiter) Burst() int {
	return l.burst
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow consumes one token for key. When the bucket is empty it reports
// how long until the next token.
func (l *Limiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limiter := l.get(key, now)

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, delay
	}
	return true, int(limiter.TokensAt(now)), 0
}

// Tokens returns the tokens currently available for key
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return l.get(key, now).TokensAt(now)
}

// Prune forgets keys not seen for idle and returns how many were removed
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
