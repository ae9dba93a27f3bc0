package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneAfter is how long an IP's bucket may sit unused before it is eligible
// for eviction.
const pruneAfter = 10 * time.Minute

// ipLimiter bounds how fast a single client IP may attempt signaling
// upgrades. It protects the HTTP surface from connection floods; the in-room
// frame limiter is a separate mechanism with its own window semantics.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*ipBucket
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter creates a limiter admitting perSecond sustained upgrade
// attempts per IP with the given burst.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*ipBucket),
	}
}

// Allow reports whether a connection attempt from ip is admitted.
func (l *ipLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= 1024 {
			l.prune(now)
		}
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.lim.Allow()
}

// prune evicts buckets idle longer than pruneAfter. Called with l.mu held.
func (l *ipLimiter) prune(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > pruneAfter {
			delete(l.buckets, ip)
		}
	}
}

// clientIP extracts the originating client address: the first entry of
// X-Forwarded-For when the edge set one, otherwise the connection's remote
// host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
