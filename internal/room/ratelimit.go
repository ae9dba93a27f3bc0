package room

import "time"

// rateWindow tracks one peer's admission window.
type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window admission controller keyed by peer ID. A peer
// may send at most max frames per window; the window resets wholesale once it
// elapses, so a burst of up to 2×max can straddle a window boundary. That is
// acceptable for signaling traffic, which is short and bursty by nature.
//
// RateLimiter is not safe for concurrent use; it is owned by a single room
// actor.
type RateLimiter struct {
	max     int
	window  time.Duration
	windows map[string]*rateWindow
}

// NewRateLimiter creates a limiter admitting max frames per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*rateWindow),
	}
}

// Allow records one frame from the given peer at time now and reports whether
// it is admitted.
func (l *RateLimiter) Allow(peerID string, now time.Time) bool {
	w, ok := l.windows[peerID]
	if !ok {
		l.windows[peerID] = &rateWindow{start: now, count: 1}
		return true
	}
	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 1
		return true
	}
	if w.count < l.max {
		w.count++
		return true
	}
	return false
}

// Remaining reports how many more frames the peer may send in its current
// window without being rejected. A peer with no window (or an elapsed one)
// has the full budget.
func (l *RateLimiter) Remaining(peerID string, now time.Time) int {
	w, ok := l.windows[peerID]
	if !ok || now.Sub(w.start) >= l.window {
		return l.max
	}
	if w.count >= l.max {
		return 0
	}
	return l.max - w.count
}

// Reset forgets the peer's window. Called when a peer is removed from the
// room so limiter state never outlives registry membership.
func (l *RateLimiter) Reset(peerID string) {
	delete(l.windows, peerID)
}

// Len reports how many peers currently hold a window.
func (l *RateLimiter) Len() int {
	return len(l.windows)
}
