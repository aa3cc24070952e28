package session

import (
	"encoding/json"
	"fmt"
)

// PayloadKind is the discriminator of a data channel payload.
type PayloadKind string

const KindChat PayloadKind = "chat"

// Payload is the JSON frame exchanged over the data channel.
type Payload struct {
	Kind PayloadKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// EncodeChat builds the wire form of a chat message.
func EncodeChat(text string) ([]byte, error) {
	return json.Marshal(Payload{Kind: KindChat, Text: text})
}

// DecodePayload parses a data channel frame. Frames that are not JSON objects
// with a string kind fail with ErrMalformedPayload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Kind == "" {
		return Payload{}, fmt.Errorf("%w: missing kind", ErrMalformedPayload)
	}
	return p, nil
}
