package appevents

// AppEvent is a marker interface for intents sent from the TUI to the call controller.
// Only types embedding Event satisfy it.
type AppEvent interface {
	isAppEvent()
}

// Event is embedded by every AppEvent.
type Event struct{}

func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is embedded by every AppUIMessage.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// AppErrorMsg reports a failed intent. It never implies a phase change.
type AppErrorMsg struct {
	UIMessage
	Err error
}
