package webrtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerCall/pkg/signaling"
)

const (
	kindData  = signaling.KindData
	kindMedia = signaling.KindMedia
)

// Signaler decouples a peer connection from the relay carrying its negotiation.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription) error
	SendAnswer(answer webrtc.SessionDescription) error
	SendICECandidate(candidate webrtc.ICECandidateInit) error
	SendLeave() error
}

// RelayClient is the part of signaling.Client the transport needs.
type RelayClient interface {
	ID() string
	OnMessage(func(signaling.Message))
	Send(signaling.Message) error
	SendPayload(typ, to, connectionID, kind string, payload any) error
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a relay connection.
type Dialer func(ctx context.Context, address string) (RelayClient, error)

func DialRelay(ctx context.Context, address string) (RelayClient, error) {
	c, err := signaling.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// relaySignaler addresses every frame to one connection on one remote endpoint.
type relaySignaler struct {
	client       RelayClient
	to           string
	connectionID string
	kind         string
}

func (s *relaySignaler) SendOffer(offer webrtc.SessionDescription) error {
	return s.client.SendPayload(signaling.TypeOffer, s.to, s.connectionID, s.kind, offer)
}

func (s *relaySignaler) SendAnswer(answer webrtc.SessionDescription) error {
	return s.client.SendPayload(signaling.TypeAnswer, s.to, s.connectionID, s.kind, answer)
}

func (s *relaySignaler) SendICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.client.SendPayload(signaling.TypeCandidate, s.to, s.connectionID, s.kind, candidate)
}

func (s *relaySignaler) SendLeave() error {
	return s.client.Send(signaling.Message{Type: signaling.TypeLeave, To: s.to, ConnectionID: s.connectionID, Kind: s.kind})
}
