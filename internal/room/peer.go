package room

import (
	"time"

	"github.com/coder/websocket"
)

// Peer is one registered client connection within a room. It is created on a
// successful upgrade, mutated only by the owning room actor, and destroyed on
// close, error, heartbeat expiry, or an explicit LEAVE.
type Peer struct {
	// ID is the client-chosen peer identifier, validated against the
	// protocol's ID pattern before registration.
	ID string

	// Handle is a runtime-assigned identifier for the underlying
	// connection. Inbound events carry the handle, not the ID, so a stale
	// connection whose peer was already replaced or removed can never be
	// mistaken for the live one.
	Handle string

	// ConnectedAt is when the upgrade completed.
	ConnectedAt time.Time

	// LastHeartbeatAt is advanced by each HEARTBEAT frame; the sweep
	// expires peers whose timestamp falls behind the heartbeat timeout.
	LastHeartbeatAt time.Time

	conn *websocket.Conn
}
