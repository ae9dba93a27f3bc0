// Package protocol declares the wire messages exchanged between signaling
// clients and the broker, the schema validator for inbound frames, and the
// transforms that turn a relayed client message into its server-side frame.
//
// Payloads (SDP bodies, ICE candidates) are carried as [json.RawMessage] and
// forwarded byte-for-byte; the broker validates their structure but never
// interprets them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → server message types.
const (
	TypeHeartbeat = "HEARTBEAT"
	TypeOffer     = "OFFER"
	TypeAnswer    = "ANSWER"
	TypeCandidate = "CANDIDATE"
	TypeLeave     = "LEAVE"
)

// Server → client message types (in addition to the relayed OFFER / ANSWER /
// CANDIDATE and LEAVE above).
const (
	TypeOpen   = "OPEN"
	TypeExpire = "EXPIRE"
	TypeError  = "ERROR"
)

// ErrorKind is the machine-readable classification carried in an ERROR frame.
type ErrorKind string

const (
	ErrorInvalidMessage    ErrorKind = "invalid-message"
	ErrorUnknownPeer       ErrorKind = "unknown-peer"
	ErrorRateLimitExceeded ErrorKind = "rate-limit-exceeded"
	ErrorRoomFull          ErrorKind = "room-full"
	ErrorInternal          ErrorKind = "internal-error"
)

// IsValid reports whether k is one of the five enumerated error kinds.
func (k ErrorKind) IsValid() bool {
	switch k {
	case ErrorInvalidMessage, ErrorUnknownPeer, ErrorRateLimitExceeded, ErrorRoomFull, ErrorInternal:
		return true
	}
	return false
}

// Wire-visible error details. These strings are part of the client contract
// and must not be reworded.
const (
	DetailFrameTooLarge = "Message size exceeds 1MB limit"
	DetailInvalidJSON   = "Invalid JSON format"
	DetailSrcMismatch   = "Message src does not match peer ID"
	DetailUnknownType   = "Unknown message type"
)

// DetailPeerNotFound is the wire detail for a relay whose destination is not
// registered and cannot be queued.
func DetailPeerNotFound(dst string) string {
	return "Destination peer not found: " + dst
}

// DetailRateLimited is the wire detail for a rate-limited frame. max is the
// configured per-window frame budget.
func DetailRateLimited(max int) string {
	return fmt.Sprintf("Rate limit exceeded (%d messages/second)", max)
}

// ClientMessage is a frame received from a signaling client. Dst names the
// peer an OFFER / ANSWER / CANDIDATE is addressed to and is stripped before
// forwarding. Payload stays raw so it reaches the destination verbatim.
type ClientMessage struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is a frame sent to a signaling client. Exactly one of the
// optional field groups is populated, depending on Type:
//
//   - OPEN / LEAVE / EXPIRE carry PeerID;
//   - relayed OFFER / ANSWER / CANDIDATE carry Src and the original Payload;
//   - ERROR carries an [ErrorPayload].
type ServerMessage struct {
	Type    string `json:"type"`
	Src     string `json:"src,omitempty"`
	PeerID  string `json:"peerId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is the body of an ERROR frame.
type ErrorPayload struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// Parse decodes a raw text frame into a [ClientMessage]. Callers surface any
// failure to the client as an invalid-message error with [DetailInvalidJSON].
func Parse(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse frame: %w", err)
	}
	return &msg, nil
}

// Open builds the registration acknowledgement sent to a freshly admitted peer.
func Open(peerID string) ServerMessage {
	return ServerMessage{Type: TypeOpen, PeerID: peerID}
}

// Leave builds the departure notification fanned out when a peer disconnects
// or announces LEAVE.
func Leave(peerID string) ServerMessage {
	return ServerMessage{Type: TypeLeave, PeerID: peerID}
}

// Expire builds the timeout notification fanned out when a peer misses its
// heartbeat window.
func Expire(peerID string) ServerMessage {
	return ServerMessage{Type: TypeExpire, PeerID: peerID}
}

// ErrorFrame builds an ERROR frame with the given kind and human-readable
// detail.
func ErrorFrame(kind ErrorKind, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Payload: ErrorPayload{Type: kind, Message: message}}
}

// ForwardFrame converts a relayed client message into the frame delivered to
// its destination: dst is stripped, src identifies the originator, and the
// payload carries over untouched. ForwardFrame does not validate; callers run
// [Validate] first.
func ForwardFrame(msg *ClientMessage) ServerMessage {
	return ServerMessage{Type: msg.Type, Src: msg.Src, Payload: msg.Payload}
}

// IsRelay reports whether typ names a message the broker forwards to a single
// destination peer.
func IsRelay(typ string) bool {
	return typ == TypeOffer || typ == TypeAnswer || typ == TypeCandidate
}
