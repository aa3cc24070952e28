package session

import "context"

// MediaKind is the kind of a local or remote media track.
type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// Constraints is a capability request for local capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is one locally captured track.
type Track interface {
	Kind() MediaKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

// MediaHandle owns a set of local tracks. Stop releases every track.
type MediaHandle interface {
	Tracks() []Track
	Stop()
}

// RemoteStream describes media received from the peer.
type RemoteStream interface {
	StreamID() string
	Kinds() []MediaKind
}

// CapabilityProvider acquires local capture sources.
type CapabilityProvider interface {
	Acquire(ctx context.Context, c Constraints) (MediaHandle, error)
}

// Channel is a reliable ordered data channel with one remote endpoint.
// OnOpen must fire even when the handler is bound after the channel opened,
// and OnMessage must replay frames that arrived before it was bound.
type Channel interface {
	RemoteID() string
	Send(payload []byte) error
	OnOpen(func())
	OnMessage(func(payload []byte))
	OnClose(func())
	Close() error
}

// MediaExchange is a negotiated audio/video exchange with one remote endpoint.
type MediaExchange interface {
	RemoteID() string
	// Answer accepts an inbound exchange with the given local source.
	Answer(local MediaHandle) error
	OnStream(func(RemoteStream))
	OnClose(func())
	Close() error
}

// Transport is the signaling transport plus the peer connections it negotiates.
// ConnectChannel and CallMedia must not block on negotiation.
type Transport interface {
	Open(ctx context.Context) (string, error)
	ConnectChannel(remoteID string) (Channel, error)
	CallMedia(remoteID string, local MediaHandle) (MediaExchange, error)
	OnInboundChannel(func(Channel))
	OnInboundMedia(func(MediaExchange))
}
