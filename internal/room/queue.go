package room

import (
	"errors"
	"time"

	"github.com/MrWong99/rtcbroker/internal/protocol"
)

// ErrQueueFull is returned by [PendingQueue.Enqueue] when the destination's
// queue already holds the maximum number of live entries. The sender is told
// the destination does not exist; from its perspective the peer is gone.
var ErrQueueFull = errors.New("room: pending queue full for destination")

// QueuedMessage is one signaling message waiting for its destination to
// register. SenderID is captured at enqueue time so the eventual delivery
// carries the original src even though the sender may have left meanwhile.
type QueuedMessage struct {
	Message    *protocol.ClientMessage
	ReceivedAt time.Time
	SenderID   string
}

// PendingQueue buffers OFFER / ANSWER / CANDIDATE messages addressed to peers
// that have not yet registered, closing the race between a fast sender and a
// slow joiner. Entries expire after ttl and each destination holds at most
// maxPerPeer live entries.
//
// PendingQueue is not safe for concurrent use; it is owned by a single room
// actor.
type PendingQueue struct {
	ttl        time.Duration
	maxPerPeer int
	queues     map[string][]QueuedMessage
	size       int
}

// NewPendingQueue creates a queue with the given entry lifetime and per-
// destination cap.
func NewPendingQueue(ttl time.Duration, maxPerPeer int) *PendingQueue {
	return &PendingQueue{
		ttl:        ttl,
		maxPerPeer: maxPerPeer,
		queues:     make(map[string][]QueuedMessage),
	}
}

// Enqueue buffers msg for the not-yet-registered destination dst. Stale
// entries for dst are evicted first; if the queue still holds maxPerPeer
// entries, Enqueue returns [ErrQueueFull] and the message is dropped.
func (q *PendingQueue) Enqueue(dst string, msg *protocol.ClientMessage, senderID string, now time.Time) error {
	fresh := q.evict(dst, now)
	if len(fresh) >= q.maxPerPeer {
		return ErrQueueFull
	}
	q.queues[dst] = append(fresh, QueuedMessage{
		Message:    msg,
		ReceivedAt: now,
		SenderID:   senderID,
	})
	q.size++
	return nil
}

// Drain removes and returns all live entries queued for dst in arrival order.
// Entries older than the TTL are dropped, never returned. The key is always
// deleted, so a drained destination starts from an empty queue.
func (q *PendingQueue) Drain(dst string, now time.Time) []QueuedMessage {
	entries, ok := q.queues[dst]
	if !ok {
		return nil
	}
	delete(q.queues, dst)
	q.size -= len(entries)

	live := entries[:0]
	for _, e := range entries {
		if now.Sub(e.ReceivedAt) <= q.ttl {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return live
}

// Sweep drops every expired entry across all destinations and removes empty
// keys. It returns the number of entries dropped. Correctness does not depend
// on Sweep; it only bounds idle memory between drains.
func (q *PendingQueue) Sweep(now time.Time) int {
	dropped := 0
	for dst := range q.queues {
		before := len(q.queues[dst])
		fresh := q.evict(dst, now)
		dropped += before - len(fresh)
		if len(fresh) == 0 {
			delete(q.queues, dst)
		} else {
			q.queues[dst] = fresh
		}
	}
	return dropped
}

// Len reports the total number of buffered entries across all destinations.
func (q *PendingQueue) Len() int {
	return q.size
}

// PendingFor reports how many live entries wait for the given destination.
func (q *PendingQueue) PendingFor(dst string, now time.Time) int {
	n := 0
	for _, e := range q.queues[dst] {
		if now.Sub(e.ReceivedAt) <= q.ttl {
			n++
		}
	}
	return n
}

// evict removes expired entries for dst and returns the remaining live slice.
// Arrival order is preserved. The caller decides whether to reinstall or
// delete the key; evict keeps the map entry updated for the common path.
func (q *PendingQueue) evict(dst string, now time.Time) []QueuedMessage {
	entries, ok := q.queues[dst]
	if !ok {
		return nil
	}
	live := entries[:0]
	for _, e := range entries {
		if now.Sub(e.ReceivedAt) <= q.ttl {
			live = append(live, e)
		}
	}
	q.size -= len(entries) - len(live)
	q.queues[dst] = live
	return live
}
