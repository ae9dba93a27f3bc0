// Package room implements the per-token signaling room: a single-threaded
// actor that owns its peer registry, rate limiter, and pending message queue,
// and drives the WebRTC handshake relay between the peers it admits.
//
// All room state is mutated exclusively on the actor goroutine. Connection
// read pumps and HTTP upgrade handlers communicate with the actor through its
// mailbox, so no locks guard the registry, the limiter, or the queue. Rooms
// run independently of each other; the only cross-room shared resources are
// the logger and the metric instruments.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/rtcbroker/internal/observe"
	"github.com/MrWong99/rtcbroker/internal/protocol"
)

// ErrRoomClosed is returned by [Room.Join] when the room actor has stopped.
// The caller should fetch a fresh room for the token and retry once.
var ErrRoomClosed = errors.New("room: room is closed")

// ErrUpgradeFailed wraps WebSocket accept failures. The websocket library has
// already written the HTTP failure response by the time Join returns this, so
// the caller must not write again.
var ErrUpgradeFailed = errors.New("room: websocket upgrade failed")

// Limits carries the per-room protocol limits, normally derived from
// config.BrokerConfig.
type Limits struct {
	MaxPeers         int
	HeartbeatTimeout time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	QueueTTL         time.Duration
	QueueMaxPerPeer  int
	MaxFrameBytes    int64
}

// Sink receives per-frame accounting events from the room actor. The hub
// aggregates them into the JSON metrics snapshot. Implementations must be
// safe for concurrent use; every room reports into the same sink.
type Sink interface {
	FrameProcessed()
	ErrorEmitted()
}

// Room is one signaling room: an actor goroutine, its mailbox, and the state
// it owns. Create with [New], start with [Run], admit peers with [Join].
type Room struct {
	token      string
	limits     Limits
	log        *slog.Logger
	metrics    *observe.Metrics
	sink       Sink
	acceptOpts *websocket.AcceptOptions

	events   chan event
	stopc    chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the actor goroutine. Never touched from outside.
	registry *Registry
	limiter  *RateLimiter
	pending  *PendingQueue

	// Read by the hub for reaping and stats without entering the mailbox.
	peerCount    atomic.Int64
	pendingCount atomic.Int64
	lastActivity atomic.Int64 // unix milliseconds
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the logger. The room adds its token as context.
func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.log = l }
}

// WithMetrics sets the metric instruments the room records into.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Room) { r.metrics = m }
}

// WithSink sets the accounting sink for the JSON metrics snapshot.
func WithSink(s Sink) Option {
	return func(r *Room) { r.sink = s }
}

// WithAcceptOptions sets the WebSocket accept options used at upgrade,
// typically carrying the configured origin patterns.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(r *Room) { r.acceptOpts = opts }
}

// New creates a room for the given token. The caller starts the actor with
// [Run] on its own goroutine.
func New(token string, limits Limits, opts ...Option) *Room {
	r := &Room{
		token:    token,
		limits:   limits,
		log:      slog.Default(),
		events:   make(chan event, 16),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
		registry: NewRegistry(limits.MaxPeers),
		limiter:  NewRateLimiter(limits.RateLimitMax, limits.RateLimitWindow),
		pending:  NewPendingQueue(limits.QueueTTL, limits.QueueMaxPerPeer),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "room", "room", token)
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.lastActivity.Store(time.Now().UnixMilli())
	return r
}

// Token returns the opaque room token.
func (r *Room) Token() string { return r.token }

// Peers reports the number of registered peers. Safe to call from any
// goroutine.
func (r *Room) Peers() int { return int(r.peerCount.Load()) }

// Idle reports whether the room has held no peers and no deliverable pending
// messages for at least grace. The hub reaps idle rooms. Pending entries are
// enqueued no later than lastActivity, so once the queue TTL has elapsed on
// top of the grace none of them can ever be delivered and they no longer
// keep the room alive.
func (r *Room) Idle(grace time.Duration, now time.Time) bool {
	if r.peerCount.Load() != 0 {
		return false
	}
	idle := now.Sub(time.UnixMilli(r.lastActivity.Load()))
	if r.pendingCount.Load() != 0 {
		return idle >= grace+r.limits.QueueTTL
	}
	return idle >= grace
}

// Stop tells the actor to tear down: every open connection is closed and the
// mailbox is drained. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stopc) })
}

// Done is closed once the actor goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// ── events ──────────────────────────────────────────────────────────────────

type event interface{ isEvent() }

// joinEvent asks the actor to upgrade and register a new peer. The actor
// replies on resultc: nil once the peer is registered, or one of the
// sentinel errors above.
type joinEvent struct {
	w       http.ResponseWriter
	r       *http.Request
	peerID  string
	resultc chan error
}

// frameEvent carries one inbound frame from a connection read pump.
type frameEvent struct {
	handle string
	data   []byte
}

// goneEvent reports that a connection's read pump has exited, either from a
// clean close or a transport error.
type goneEvent struct {
	handle string
	err    error
}

func (joinEvent) isEvent()  {}
func (frameEvent) isEvent() {}
func (goneEvent) isEvent()  {}

// ── public entry points ─────────────────────────────────────────────────────

// Join hands an upgrade request to the actor and blocks until the peer is
// registered or rejected. On nil return the connection has been hijacked and
// the caller must not touch w again. [ErrRoomFull] maps to HTTP 429,
// [ErrPeerExists] to 500, [ErrRoomClosed] means retry against a fresh room,
// and [ErrUpgradeFailed] means the failure response is already written.
func (r *Room) Join(w http.ResponseWriter, req *http.Request, peerID string) error {
	ev := joinEvent{w: w, r: req, peerID: peerID, resultc: make(chan error, 1)}
	select {
	case r.events <- ev:
	case <-r.done:
		return ErrRoomClosed
	}
	select {
	case err := <-ev.resultc:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Run executes the actor loop until ctx is cancelled or [Stop] is called.
// It must run on its own goroutine, exactly once per room.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	defer r.teardown(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopc:
			return
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

// teardown closes every open connection and answers any joins still sitting
// in the mailbox so their handlers can retry against a fresh room.
func (r *Room) teardown(ctx context.Context) {
	peers := r.registry.All()
	for _, p := range peers {
		r.registry.Remove(p.ID)
		r.limiter.Reset(p.ID)
		if err := p.conn.Close(websocket.StatusGoingAway, "room closing"); err != nil {
			r.log.Debug("close on teardown failed", "peer", p.ID, "err", err)
		}
	}
	r.peerCount.Store(0)
	r.metrics.PeersActive.Add(ctx, -int64(len(peers)))

	for {
		select {
		case ev := <-r.events:
			if join, ok := ev.(joinEvent); ok {
				join.resultc <- ErrRoomClosed
			}
		default:
			return
		}
	}
}

// handle dispatches one mailbox event on the actor goroutine.
func (r *Room) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case joinEvent:
		r.handleJoin(ctx, ev)
	case frameEvent:
		r.handleFrame(ctx, ev.handle, ev.data)
	case goneEvent:
		r.handleGone(ctx, ev.handle, ev.err)
	}
}

// ── upgrade ─────────────────────────────────────────────────────────────────

// handleJoin admits one peer: capacity and identity checks first, then the
// WebSocket accept, registration, the OPEN frame, and finally the drain of
// any messages queued for this ID while it was absent.
func (r *Room) handleJoin(ctx context.Context, ev joinEvent) {
	if r.registry.Full() {
		ev.resultc <- ErrRoomFull
		return
	}
	if _, ok := r.registry.ByID(ev.peerID); ok {
		ev.resultc <- ErrPeerExists
		return
	}

	conn, err := websocket.Accept(ev.w, ev.r, r.acceptOpts)
	if err != nil {
		ev.resultc <- fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
		return
	}
	// Leave headroom above the protocol ceiling so an oversized frame
	// reaches the actor and earns an ERROR instead of a transport close.
	// Frames beyond the headroom are refused by the transport with
	// StatusMessageTooBig; the headroom bounds per-connection buffering.
	conn.SetReadLimit(r.limits.MaxFrameBytes + 1024)

	now := time.Now()
	peer := &Peer{
		ID:              ev.peerID,
		Handle:          uuid.NewString(),
		ConnectedAt:     now,
		LastHeartbeatAt: now,
		conn:            conn,
	}
	if err := r.registry.Add(peer); err != nil {
		// Cannot happen after the checks above, but a registry refusal
		// must not leave a half-open peer behind.
		_ = conn.Close(websocket.StatusNormalClosure, "registration failed")
		ev.resultc <- err
		return
	}
	r.peerCount.Store(int64(r.registry.Len()))
	r.lastActivity.Store(now.UnixMilli())
	r.metrics.PeersActive.Add(ctx, 1)

	// The upgrade response is on the wire; release the HTTP handler.
	ev.resultc <- nil

	r.log.Info("peer registered", "peer", peer.ID, "peers", r.registry.Len())
	r.send(ctx, peer, protocol.Open(peer.ID))

	// Deliver signaling that raced ahead of this peer's registration, in
	// arrival order and with the original sender as src. The client sees
	// them right after OPEN.
	for _, qm := range r.pending.Drain(peer.ID, now) {
		fwd := protocol.ForwardFrame(qm.Message)
		fwd.Src = qm.SenderID
		r.send(ctx, peer, fwd)
		r.metrics.RecordRelay(ctx, qm.Message.Type)
	}
	r.pendingCount.Store(int64(r.pending.Len()))

	go r.readPump(ctx, peer.Handle, conn)
}

// readPump converts one connection's frames and closure into mailbox events.
// It is the only goroutine reading from conn, so frames from a single peer
// enter the mailbox in arrival order.
func (r *Room) readPump(ctx context.Context, handle string, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.post(goneEvent{handle: handle, err: err})
			return
		}
		r.post(frameEvent{handle: handle, data: data})
	}
}

// post delivers an event to the mailbox unless the actor has exited.
func (r *Room) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// ── inbound frames ──────────────────────────────────────────────────────────

// handleFrame runs the full inbound pipeline for one frame: size check,
// parse, schema validation, rate limiting, the heartbeat sweep, anti-spoof,
// and dispatch by type.
func (r *Room) handleFrame(ctx context.Context, handle string, data []byte) {
	now := time.Now()
	start := now
	r.lastActivity.Store(now.UnixMilli())

	peer, ok := r.registry.ByHandle(handle)
	if !ok {
		// The peer was expired or removed while this frame was in
		// flight. Per the lifecycle contract the frame is dropped.
		r.log.Debug("frame from unregistered connection, dropping")
		return
	}
	if r.sink != nil {
		r.sink.FrameProcessed()
	}

	if int64(len(data)) >= r.limits.MaxFrameBytes {
		r.sendError(ctx, peer, protocol.ErrorInvalidMessage, protocol.DetailFrameTooLarge)
		return
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		r.sendError(ctx, peer, protocol.ErrorInvalidMessage, protocol.DetailInvalidJSON)
		return
	}
	if err := protocol.Validate(msg); err != nil {
		r.sendError(ctx, peer, protocol.ErrorInvalidMessage, err.Error())
		return
	}

	if !r.limiter.Allow(peer.ID, now) {
		r.sendError(ctx, peer, protocol.ErrorRateLimitExceeded, protocol.DetailRateLimited(r.limits.RateLimitMax))
		return
	}

	if msg.Type == protocol.TypeHeartbeat {
		// Liveness is updated before the sweep so a heartbeat can never
		// expire the peer that just proved it is alive.
		peer.LastHeartbeatAt = now
		r.sweep(ctx, now)
		r.metrics.RecordDispatch(ctx, msg.Type, time.Since(start).Seconds())
		return
	}

	r.sweep(ctx, now)
	if _, ok := r.registry.ByID(peer.ID); !ok {
		// The sweep expired the sender itself; its frame dies with it.
		r.log.Debug("sender expired during sweep, dropping frame", "peer", peer.ID)
		return
	}

	if msg.Src != "" && msg.Src != peer.ID {
		r.sendError(ctx, peer, protocol.ErrorInvalidMessage, protocol.DetailSrcMismatch)
		return
	}

	switch {
	case protocol.IsRelay(msg.Type):
		r.deliverOrQueue(ctx, peer, msg, now)
	case msg.Type == protocol.TypeLeave:
		r.handleLeave(ctx, peer)
	default:
		r.sendError(ctx, peer, protocol.ErrorInvalidMessage, protocol.DetailUnknownType)
	}
	r.metrics.RecordDispatch(ctx, msg.Type, time.Since(start).Seconds())
}

// deliverOrQueue forwards a relayed message to its destination, or buffers it
// when the destination has not registered yet. A refused enqueue surfaces to
// the sender as unknown-peer; a successful one is silent.
func (r *Room) deliverOrQueue(ctx context.Context, sender *Peer, msg *protocol.ClientMessage, now time.Time) {
	if dst, ok := r.registry.ByID(msg.Dst); ok {
		r.send(ctx, dst, protocol.ForwardFrame(msg))
		r.metrics.RecordRelay(ctx, msg.Type)
		return
	}

	err := r.pending.Enqueue(msg.Dst, msg, sender.ID, now)
	r.pendingCount.Store(int64(r.pending.Len()))
	if err != nil {
		r.sendError(ctx, sender, protocol.ErrorUnknownPeer, protocol.DetailPeerNotFound(msg.Dst))
		return
	}
	r.metrics.MessagesQueued.Add(ctx, 1)
	r.log.Debug("message queued for absent destination", "src", sender.ID, "dst", msg.Dst, "type", msg.Type)
}

// handleLeave broadcasts the departure to the surviving peers, then removes
// and closes the leaver.
func (r *Room) handleLeave(ctx context.Context, peer *Peer) {
	r.removePeer(ctx, peer, protocol.Leave(peer.ID))
	if err := peer.conn.Close(websocket.StatusNormalClosure, "peer left"); err != nil {
		r.log.Debug("close after leave failed", "peer", peer.ID, "err", err)
	}
	r.log.Info("peer left", "peer", peer.ID, "peers", r.registry.Len())
}

// ── disconnect and expiry ───────────────────────────────────────────────────

// handleGone processes a read pump exit. Connections whose peer was already
// removed (leave, expiry, teardown) resolve to nothing and are ignored.
func (r *Room) handleGone(ctx context.Context, handle string, cause error) {
	peer, ok := r.registry.ByHandle(handle)
	if !ok {
		return
	}
	r.lastActivity.Store(time.Now().UnixMilli())
	r.removePeer(ctx, peer, protocol.Leave(peer.ID))
	r.log.Info("peer disconnected", "peer", peer.ID, "peers", r.registry.Len(),
		"close_status", websocket.CloseStatus(cause))
}

// sweep expires every peer whose last heartbeat is older than the timeout,
// fanning out EXPIRE to the survivors, and drops stale pending entries.
func (r *Room) sweep(ctx context.Context, now time.Time) {
	for _, p := range r.registry.All() {
		if now.Sub(p.LastHeartbeatAt) <= r.limits.HeartbeatTimeout {
			continue
		}
		r.removePeer(ctx, p, protocol.Expire(p.ID))
		if err := p.conn.Close(websocket.StatusNormalClosure, "heartbeat timeout"); err != nil {
			r.log.Debug("close after expiry failed", "peer", p.ID, "err", err)
		}
		r.metrics.PeersExpired.Add(ctx, 1)
		r.log.Info("peer expired", "peer", p.ID, "last_heartbeat", p.LastHeartbeatAt)
	}

	if dropped := r.pending.Sweep(now); dropped > 0 {
		r.pendingCount.Store(int64(r.pending.Len()))
		r.log.Debug("dropped stale pending messages", "count", dropped)
	}
}

// removePeer unregisters the peer, clears its limiter state, and fans the
// given notification out to every remaining peer. Each lifecycle emits
// exactly one such notification because every removal path goes through here
// and a removed handle no longer resolves.
func (r *Room) removePeer(ctx context.Context, peer *Peer, notice protocol.ServerMessage) {
	r.registry.Remove(peer.ID)
	r.limiter.Reset(peer.ID)
	r.peerCount.Store(int64(r.registry.Len()))
	r.metrics.PeersActive.Add(ctx, -1)

	for _, other := range r.registry.All() {
		r.send(ctx, other, notice)
	}
}

// ── outbound ────────────────────────────────────────────────────────────────

// send writes one frame to a peer. Failures are logged and swallowed: routing
// is fire-and-forget, and a dead connection surfaces through its read pump.
func (r *Room) send(ctx context.Context, peer *Peer, msg protocol.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal server frame", "peer", peer.ID, "type", msg.Type, "err", err)
		return
	}
	if err := peer.conn.Write(ctx, websocket.MessageText, data); err != nil {
		r.log.Warn("send failed", "peer", peer.ID, "type", msg.Type, "err", err)
	}
}

// sendError emits one ERROR frame to the offending peer. The connection
// stays open; protocol errors are recovered locally.
func (r *Room) sendError(ctx context.Context, peer *Peer, kind protocol.ErrorKind, message string) {
	r.send(ctx, peer, protocol.ErrorFrame(kind, message))
	r.metrics.RecordErrorFrame(ctx, string(kind))
	if r.sink != nil {
		r.sink.ErrorEmitted()
	}
	r.log.Debug("protocol error", "peer", peer.ID, "kind", kind, "detail", message)
}
