package protocol_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/rtcbroker/internal/protocol"
)

const sampleSDP = `{"type":"offer","sdp":"v=0\r\n"}`

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		frame   string
		wantErr string // "" means valid
	}{
		{"heartbeat", `{"type":"HEARTBEAT"}`, ""},
		{"offer", `{"type":"OFFER","src":"alice","dst":"bob","payload":` + sampleSDP + `}`, ""},
		{"answer", `{"type":"ANSWER","src":"bob","dst":"alice","payload":{"type":"answer","sdp":""}}`, ""},
		{"pranswer in ANSWER", `{"type":"ANSWER","src":"bob","dst":"alice","payload":{"type":"pranswer","sdp":""}}`, ""},
		{"rollback in OFFER", `{"type":"OFFER","src":"a","dst":"b","payload":{"type":"rollback","sdp":""}}`, ""},
		{"candidate", `{"type":"CANDIDATE","src":"alice","dst":"bob","payload":{"candidate":"candidate:1 1 UDP 1 10.0.0.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":null}}`, ""},
		{"end of candidates", `{"type":"CANDIDATE","src":"alice","dst":"bob","payload":{"candidate":""}}`, ""},
		{"leave", `{"type":"LEAVE","src":"alice"}`, ""},

		{"offer missing src", `{"type":"OFFER","dst":"bob","payload":` + sampleSDP + `}`, "Message src is required"},
		{"offer missing dst", `{"type":"OFFER","src":"alice","payload":` + sampleSDP + `}`, "Message dst is required"},
		{"offer missing payload", `{"type":"OFFER","src":"alice","dst":"bob"}`, "Message payload is required"},
		{"offer null payload", `{"type":"OFFER","src":"alice","dst":"bob","payload":null}`, "Message payload is required"},
		{"offer bad sdp type", `{"type":"OFFER","src":"alice","dst":"bob","payload":{"type":"renegotiate","sdp":""}}`, "Invalid SDP payload"},
		{"offer non-object payload", `{"type":"OFFER","src":"alice","dst":"bob","payload":"v=0"}`, "Invalid SDP payload"},
		{"candidate missing dst", `{"type":"CANDIDATE","src":"alice","payload":{"candidate":""}}`, "Message dst is required"},
		{"candidate wrong field type", `{"type":"CANDIDATE","src":"alice","dst":"bob","payload":{"candidate":"x","sdpMLineIndex":"zero"}}`, "Invalid ICE candidate payload"},
		{"candidate array payload", `{"type":"CANDIDATE","src":"alice","dst":"bob","payload":["candidate:1"]}`, "Invalid ICE candidate payload"},
		{"leave missing src", `{"type":"LEAVE"}`, "Message src is required"},

		// Unknown tags pass validation; dispatch rejects them after rate
		// limiting has been charged.
		{"unknown type", `{"type":"SUBSCRIBE","src":"alice"}`, ""},
		{"empty type", `{"src":"alice"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := protocol.Parse([]byte(tt.frame))
			if err != nil {
				t.Fatalf("frame does not parse: %v", err)
			}

			err = protocol.Validate(msg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("wire detail: got %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidPeerID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   string
		want bool
	}{
		{"alice", true},
		{"p1", true},
		{"A-b-1", true},
		{strings.Repeat("x", 64), true},
		{"", false},
		{strings.Repeat("x", 65), false},
		{"has space", false},
		{"under_score", false},
		{"émile", false},
		{"alice!", false},
	}

	for _, tt := range tests {
		if got := protocol.ValidPeerID(tt.id); got != tt.want {
			t.Errorf("ValidPeerID(%q): got %v, want %v", tt.id, got, tt.want)
		}
	}
}
