package room

import "errors"

// Registration failures surfaced by [Registry.Add].
var (
	// ErrRoomFull means the room already holds its maximum number of peers.
	ErrRoomFull = errors.New("room: room is full")

	// ErrPeerExists means a live peer with the same ID is already registered.
	ErrPeerExists = errors.New("room: peer ID already registered")
)

// Registry tracks the peers of one room, resolvable both by peer ID (for
// message routing) and by connection handle (for inbound events). It holds at
// most max peers and at most one peer per ID.
//
// Registry is not safe for concurrent use; it is owned by a single room actor.
type Registry struct {
	max      int
	peers    map[string]*Peer
	byHandle map[string]string
}

// NewRegistry creates a registry capped at max peers.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:      max,
		peers:    make(map[string]*Peer, max),
		byHandle: make(map[string]string, max),
	}
}

// Add registers p. It fails with [ErrRoomFull] when the room is at capacity
// and [ErrPeerExists] when p.ID is already taken.
func (r *Registry) Add(p *Peer) error {
	if len(r.peers) >= r.max {
		return ErrRoomFull
	}
	if _, ok := r.peers[p.ID]; ok {
		return ErrPeerExists
	}
	r.peers[p.ID] = p
	r.byHandle[p.Handle] = p.ID
	return nil
}

// Remove unregisters the peer with the given ID and returns it, or nil when
// no such peer exists.
func (r *Registry) Remove(id string) *Peer {
	p, ok := r.peers[id]
	if !ok {
		return nil
	}
	delete(r.peers, id)
	delete(r.byHandle, p.Handle)
	return p
}

// ByID returns the registered peer with the given ID.
func (r *Registry) ByID(id string) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// ByHandle resolves a connection handle to its registered peer. Events from
// connections whose peer has been removed resolve to nothing and are dropped
// by the caller.
func (r *Registry) ByHandle(handle string) (*Peer, bool) {
	id, ok := r.byHandle[handle]
	if !ok {
		return nil, false
	}
	return r.peers[id], true
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	return len(r.peers)
}

// Full reports whether the room is at capacity.
func (r *Registry) Full() bool {
	return len(r.peers) >= r.max
}

// All returns a snapshot of every registered peer. The slice is safe to
// iterate while peers are removed from the registry.
func (r *Registry) All() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Others returns a snapshot of every registered peer except the one with the
// given ID. Used for LEAVE and EXPIRE fan-out.
func (r *Registry) Others(id string) []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
