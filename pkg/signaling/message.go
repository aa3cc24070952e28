// Package signaling implements the WebSocket relay that assigns endpoint
// identifiers and forwards offers, answers and ICE candidates between them,
// together with the client used by endpoints to talk to it.
package signaling

import "encoding/json"

// Frame types.
const (
	TypeOpen      = "open"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Connection kinds carried by offers.
const (
	KindData  = "data"
	KindMedia = "media"
)

// ErrPeerUnavailable is the error code sent back when a frame targets an unknown peer.
const ErrPeerUnavailable = "peer-unavailable"

// Message is the JSON envelope exchanged with the relay.
type Message struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// relayed reports whether t is forwarded to another peer.
func relayed(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}
