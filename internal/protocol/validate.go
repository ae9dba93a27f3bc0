package protocol

import (
	"encoding/json"
	"errors"
	"regexp"

	"github.com/pion/webrtc/v4"
)

// Schema failures surfaced by [Validate]. The error text is the wire detail
// of the resulting ERROR frame; capitalization follows the client contract.
var (
	errSrcRequired     = errors.New("Message src is required")
	errDstRequired     = errors.New("Message dst is required")
	errPayloadRequired = errors.New("Message payload is required")
	errBadSDP          = errors.New("Invalid SDP payload")
	errBadCandidate    = errors.New("Invalid ICE candidate payload")
)

// peerIDPattern bounds peer identifiers: 1–64 characters of A-Z, a-z, 0-9, or -.
var peerIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidPeerID reports whether id is an acceptable peer identifier.
func ValidPeerID(id string) bool {
	return peerIDPattern.MatchString(id)
}

// Validate checks msg against the per-type field requirements of the client
// protocol. Messages whose type is not a known client variant pass through
// unrejected; the dispatcher refuses them after rate limiting, so a flood of
// junk types cannot bypass admission control.
func Validate(msg *ClientMessage) error {
	switch msg.Type {
	case TypeHeartbeat:
		return nil
	case TypeOffer, TypeAnswer:
		if err := requireRelayFields(msg); err != nil {
			return err
		}
		return validateSDP(msg.Payload)
	case TypeCandidate:
		if err := requireRelayFields(msg); err != nil {
			return err
		}
		return validateCandidate(msg.Payload)
	case TypeLeave:
		if msg.Src == "" {
			return errSrcRequired
		}
		return nil
	default:
		return nil
	}
}

// requireRelayFields enforces the common shape of OFFER / ANSWER / CANDIDATE:
// a sender, a destination, and a payload.
func requireRelayFields(msg *ClientMessage) error {
	if msg.Src == "" {
		return errSrcRequired
	}
	if msg.Dst == "" {
		return errDstRequired
	}
	if !hasPayload(msg.Payload) {
		return errPayloadRequired
	}
	return nil
}

// hasPayload reports whether raw holds an actual JSON value. A missing field
// and an explicit null are both treated as absent.
func hasPayload(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// validateSDP checks that raw is a structurally valid session description: an
// object whose type is one of offer, answer, pranswer, or rollback. The SDP
// body itself is never interpreted.
func validateSDP(raw json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return errBadSDP
	}
	switch sd.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypePranswer, webrtc.SDPTypeAnswer, webrtc.SDPTypeRollback:
		return nil
	default:
		return errBadSDP
	}
}

// validateCandidate checks that raw is a structurally valid ICE candidate
// object. Every field is optional on the wire; an end-of-candidates marker
// with an empty candidate string is legal.
func validateCandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return errBadCandidate
	}
	return nil
}
