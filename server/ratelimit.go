package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused client limiter is kept
const limiterIdleTTL = 10 * time.Minute

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client IP
type clientLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientEntry
	lastPrune time.Time
	now       func() time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientEntry),
		now:       time.Now,
	}
}

// SetRate changes the limit for all clients; 0 disables limiting
func (l *clientLimiter) SetRate(perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perMinute = perMinute
	for _, entry := range l.clients {
		entry.limiter.SetLimit(rate.Limit(float64(perMinute) / 60.0))
		entry.limiter.SetBurst(burstFor(perMinute))
	}
}

// Allow reports whether the client may make another request now
func (l *clientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perMinute <= 0 {
		return true
	}

	now := l.now()
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for key, entry := range l.clients {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.clients, key)
			}
		}
		l.lastPrune = now
	}

	entry, ok := l.clients[client]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), burstFor(l.perMinute)),
		}
		l.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// burstFor allows a short burst of a tenth of the minute's budget
func burstFor(perMinute int) int {
	if b := perMinute / 10; b > 1 {
		return b
	}
	return 1
}
