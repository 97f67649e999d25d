// Package ratelimit provides the per-client token bucket guarding job
// submission. Each client gets a bucket of capacity requests refilled
// continuously over the window; a denied request learns how long until the
// next token is available.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/erdilatifi/chunkd/internal/common"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // time until the next token when denied
	Remaining  int           // whole tokens left in the bucket
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	capacity int
	window   time.Duration
	logger   arbor.ILogger
}

// NewLimiter creates a limiter admitting capacity requests per window for
// each client.
func NewLimiter(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		clients:  make(map[string]*client),
		capacity: capacity,
		window:   window,
		logger:   common.GetLogger(),
	}
}

// Allow spends one token from the client's bucket. A fresh client starts
// with a full bucket. Denials report the wait until a token frees up.
func (l *Limiter) Allow(clientID string) Decision {
	l.mu.Lock()
	c, ok := l.clients[clientID]
	if !ok {
		refill := rate.Limit(float64(l.capacity) / l.window.Seconds())
		c = &client{limiter: rate.NewLimiter(refill, l.capacity)}
		l.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	reservation := c.limiter.Reserve()
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: l.window}
	}
	if delay := reservation.Delay(); delay > 0 {
		// Token not available yet; give it back and tell the caller when.
		reservation.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true, Remaining: int(c.limiter.Tokens())}
}

// SweepIdle evicts clients idle longer than the cutoff whose buckets have
// refilled completely. Evicting a partial bucket would hand the client a
// fresh full one, so those are kept until they recover.
func (l *Limiter) SweepIdle(idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	removed := 0
	for id, c := range l.clients {
		if c.lastSeen.Before(cutoff) && c.limiter.Tokens() >= float64(l.capacity)-1e-9 {
			delete(l.clients, id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Msg("Evicted idle rate limit buckets")
	}
	return removed
}

// Clients returns the number of tracked buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RetryAfterSeconds rounds a wait up to whole seconds for the HTTP header.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
