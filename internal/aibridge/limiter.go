package aibridge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per user and evicts idle buckets.
type userLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	ttl      time.Duration
	lookups  int
	visitors map[int]*visitor
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &userLimiter{
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		ttl:      10 * time.Minute,
		visitors: make(map[int]*visitor),
	}
}

// Allow consumes one call for userID.
func (l *userLimiter) Allow(userID int) bool {
	now := time.Now()

	l.mu.Lock()
	l.lookups++
	if l.lookups >= 1000 {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, id)
			}
		}
		l.lookups = 0
	}
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.every, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	lim := v.limiter
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}
