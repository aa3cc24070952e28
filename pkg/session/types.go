package session

import (
	"time"
)

// Phase is the lifecycle stage of the coordinator's single session.
type Phase int

const (
	Idle Phase = iota
	Connecting
	Active
	Ended
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderSelf      Sender = "self"
	SenderPeer      Sender = "peer"
	SenderAssistant Sender = "assistant"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	ID     string
	Sender Sender
	Text   string
	SentAt time.Time
}

// Snapshot is a read-only copy of the coordinator state handed to observers.
// It never aliases coordinator memory.
type Snapshot struct {
	LocalID      string
	Phase        Phase
	RemoteID     string
	HasLocal     bool
	HasRemote    bool
	RemoteStream string
	RemoteKinds  []MediaKind
	AudioEnabled bool
	VideoEnabled bool
	ChannelReady bool
	MediaReady   bool
	Transcript   []ChatMessage
	// SessionSeq changes whenever a session is torn down. Work derived from
	// one snapshot carries it back so it cannot land in a later session.
	SessionSeq uint64
}

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	NoticeError NoticeKind = iota
	NoticeSessionEnded
	NoticeIgnored
)

// Notice reports something the user should hear about that is not a state change,
// e.g. a capability failure while answering media or why a session ended.
type Notice struct {
	Kind NoticeKind
	Err  error
}

// Observer receives coordinator output. Calls happen on the coordinator goroutine,
// so implementations must not block or call back into the coordinator synchronously.
type Observer interface {
	SessionChanged(Snapshot)
	SessionNotice(Notice)
}

type nopObserver struct{}

func (nopObserver) SessionChanged(Snapshot) {}
func (nopObserver) SessionNotice(Notice)    {}
