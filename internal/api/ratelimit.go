package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterSweepInterval is how often idle per-user limiters are dropped.
	limiterSweepInterval = time.Hour
	// limiterIdleTTL is how long a user must be silent before their bucket
	// is dropped.
	limiterIdleTTL = 10 * time.Minute
)

type userBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*userBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	clock     func() time.Time
}

// newUserLimiter returns nil when perSecond is not positive, which allows
// everything.
func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		buckets:   make(map[string]*userBucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
		clock:     time.Now,
	}
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.clock()
	if t.Sub(l.lastSweep) > limiterSweepInterval {
		l.sweep(t)
	}

	b, ok := l.buckets[userID]
	if !ok {
		b = &userBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = t
	return b.lim.AllowN(t, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL. Callers hold mu.
func (l *userLimiter) sweep(t time.Time) {
	for id, b := range l.buckets {
		if t.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, id)
		}
	}
	l.lastSweep = t
}
