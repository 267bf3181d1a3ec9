package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-client token-bucket rate limiter, used to cap
// `/ai/search` calls per remote address (§6). Buckets are created lazily
// on first sight of a key and evicted after they've been idle long enough
// to have refilled to full burst capacity anyway.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rps      rate.Limit
	burst    int
	idleAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter builds a limiter allowing perMinute requests per key, with
// burst capacity equal to perMinute (one minute's worth of headroom up
// front). perMinute <= 0 disables the limiter: Allow always returns true.
func NewLimiter(perMinute int) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		burst:     perMinute,
		idleAfter: 10 * time.Minute,
	}
	if perMinute > 0 {
		l.rps = rate.Limit(float64(perMinute) / 60.0)
	}
	return l
}

// Allow reports whether a request for key may proceed right now, consuming
// one token from that key's bucket if so.
func (l *Limiter) Allow(key string) bool {
	if l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Evict removes buckets that have been idle past idleAfter, bounding
// memory growth under many distinct clients. Safe to call periodically
// from a background ticker.
func (l *Limiter) Evict() {
	cutoff := time.Now().Add(-l.idleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// ClientKey extracts the bucket key for an inbound request: the remote
// address's host, stripped of port, falling back to the full RemoteAddr
// if it isn't in host:port form.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
