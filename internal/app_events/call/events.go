package call

import (
	appevents "github.com/rescp17/peerCall/internal/app_events"
	"github.com/rescp17/peerCall/pkg/session"
	"github.com/rescp17/peerCall/pkg/webrtc"
)

// --- App Events (from TUI to App) ---

// JoinMsg asks to start a session with a remote peer id.
type JoinMsg struct {
	appevents.Event
	RemoteID string
}

type SendChatMsg struct {
	appevents.Event
	Text string
}

type ToggleTrackMsg struct {
	appevents.Event
	Kind session.MediaKind
}

type HangUpMsg struct {
	appevents.Event
}

// SummarizeMsg asks the assistant to summarize the transcript into an assistant entry.
type SummarizeMsg struct {
	appevents.Event
}

type SuggestRepliesMsg struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = (*JoinMsg)(nil)
	_ appevents.AppEvent = (*SendChatMsg)(nil)
	_ appevents.AppEvent = (*ToggleTrackMsg)(nil)
	_ appevents.AppEvent = (*HangUpMsg)(nil)
	_ appevents.AppEvent = (*SummarizeMsg)(nil)
	_ appevents.AppEvent = (*SuggestRepliesMsg)(nil)
)

// --- UI Messages (from App to TUI) ---

// IdentityMsg carries the local peer id once the relay assigned it.
type IdentityMsg struct {
	appevents.UIMessage
	ID string
}

// SessionUpdateMsg carries the latest coordinator snapshot.
type SessionUpdateMsg struct {
	appevents.UIMessage
	Snapshot session.Snapshot
}

type NoticeMsg struct {
	appevents.UIMessage
	Notice session.Notice
}

// AssistantBusyMsg toggles the thinking indicator.
type AssistantBusyMsg struct {
	appevents.UIMessage
	Busy bool
}

type SuggestionsMsg struct {
	appevents.UIMessage
	Suggestions []string
}

// StatsMsg reports what arrived from the remote stream so far.
type StatsMsg struct {
	appevents.UIMessage
	Stats map[session.MediaKind]webrtc.TrackStats
}
