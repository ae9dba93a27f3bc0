package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rtcbroker/internal/observe"
	"github.com/MrWong99/rtcbroker/internal/room"
)

// reapGrace is how long a room must sit empty before the reaper reclaims it.
const reapGrace = 30 * time.Second

// Hub maps room tokens to live room actors. It creates rooms on first use,
// starts their actor goroutines, and reaps rooms that have been empty long
// enough. Joins and reaps serialise on the hub mutex, so a reaped room can
// never race a concurrent first join for the same token: the join either gets
// the old actor (and retries when it turns out closed) or a fresh one.
type Hub struct {
	log        *slog.Logger
	metrics    *observe.Metrics
	stats      *Stats
	acceptOpts *websocket.AcceptOptions

	mu     sync.Mutex
	limits room.Limits
	rooms  map[string]*room.Room
	ctx    context.Context
}

// NewHub creates a hub whose rooms enforce the given limits. Start must be
// called before the first Room lookup.
func NewHub(limits room.Limits, log *slog.Logger, metrics *observe.Metrics, stats *Stats, acceptOpts *websocket.AcceptOptions) *Hub {
	return &Hub{
		log:        log.With("component", "hub"),
		metrics:    metrics,
		stats:      stats,
		acceptOpts: acceptOpts,
		limits:     limits,
		rooms:      make(map[string]*room.Room),
		ctx:        context.Background(),
	}
}

// Start binds the hub to the context that governs every room actor's
// lifetime. Cancelling it stops all rooms.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = ctx
}

// Room returns the live room for token, creating and starting one when none
// exists.
func (h *Hub) Room(token string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm, ok := h.rooms[token]; ok {
		return rm
	}

	rm := room.New(token, h.limits,
		room.WithLogger(h.log),
		room.WithMetrics(h.metrics),
		room.WithSink(h.stats),
		room.WithAcceptOptions(h.acceptOpts),
	)
	h.rooms[token] = rm
	go rm.Run(h.ctx)
	h.metrics.RoomsActive.Add(h.ctx, 1)
	h.log.Info("room created", "room", token, "rooms", len(h.rooms))
	return rm
}

// SetLimits replaces the limits applied to rooms created from now on. Live
// rooms keep the limits they were created with.
func (h *Hub) SetLimits(limits room.Limits) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limits = limits
}

// SetAcceptOptions replaces the WebSocket accept policy for rooms created
// from now on.
func (h *Hub) SetAcceptOptions(opts *websocket.AcceptOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acceptOpts = opts
}

// Snapshot reports the current number of live rooms and registered peers.
func (h *Hub) Snapshot() (rooms, peers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rm := range h.rooms {
		peers += rm.Peers()
	}
	return len(h.rooms), peers
}

// RunReaper reclaims idle rooms on a fixed interval until ctx is cancelled.
func (h *Hub) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Reap(time.Now())
		}
	}
}

// Reap stops and forgets every room that has been empty for the grace
// period. It returns the number of rooms reclaimed.
func (h *Hub) Reap(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	reaped := 0
	for token, rm := range h.rooms {
		if !rm.Idle(reapGrace, now) {
			continue
		}
		rm.Stop()
		delete(h.rooms, token)
		h.metrics.RoomsActive.Add(h.ctx, -1)
		reaped++
		h.log.Info("room reaped", "room", token, "rooms", len(h.rooms))
	}
	return reaped
}

// Close stops every room and waits for the actors to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for token, rm := range h.rooms {
		rooms = append(rooms, rm)
		delete(h.rooms, token)
	}
	h.mu.Unlock()

	for _, rm := range rooms {
		rm.Stop()
	}
	for _, rm := range rooms {
		<-rm.Done()
	}
}
