package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates broker-wide frame accounting for the JSON /metrics
// contract. Rooms report into it through the [room.Sink] interface; the
// dispatcher reads snapshots. All methods are safe for concurrent use.
type Stats struct {
	frames atomic.Int64
	errors atomic.Int64

	mu         sync.Mutex
	sampledAt  time.Time
	sampled    int64
	lastPerSec float64
}

// NewStats creates an empty accounting state.
func NewStats() *Stats {
	return &Stats{sampledAt: time.Now()}
}

// FrameProcessed records one inbound frame reaching a room actor.
func (s *Stats) FrameProcessed() {
	s.frames.Add(1)
}

// ErrorEmitted records one ERROR frame sent to a client.
func (s *Stats) ErrorEmitted() {
	s.errors.Add(1)
}

// Frames reports the total number of frames processed since start.
func (s *Stats) Frames() int64 { return s.frames.Load() }

// Errors reports the total number of ERROR frames emitted since start.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// MessagesPerSecond reports the frame rate since the previous call. Calls
// closer together than a second return the previous sample so that rapid
// scrapes do not read a rate from a near-zero interval.
func (s *Stats) MessagesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.sampledAt)
	if elapsed < time.Second {
		return s.lastPerSec
	}

	total := s.frames.Load()
	s.lastPerSec = float64(total-s.sampled) / elapsed.Seconds()
	s.sampled = total
	s.sampledAt = now
	return s.lastPerSec
}

// ErrorRate reports the lifetime ratio of ERROR frames to processed frames,
// zero when nothing has been processed yet.
func (s *Stats) ErrorRate() float64 {
	frames := s.frames.Load()
	if frames == 0 {
		return 0
	}
	return float64(s.errors.Load()) / float64(frames)
}
