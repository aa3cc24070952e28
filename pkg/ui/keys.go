package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds every binding of both screens.
type KeyMap struct {
	Quit    key.Binding
	CopyID  key.Binding
	Join    key.Binding
	Send    key.Binding
	Mic     key.Binding
	Camera  key.Binding
	HangUp  key.Binding
	Summary key.Binding
	Replies key.Binding
	Pick    key.Binding
}

// DefaultKeyMap provides the default keybindings.
var DefaultKeyMap = KeyMap{
	Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	CopyID:  key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy id")),
	Join:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "join")),
	Send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Mic:     key.NewBinding(key.WithKeys("ctrl+a"), key.WithHelp("ctrl+a", "mic")),
	Camera:  key.NewBinding(key.WithKeys("ctrl+v"), key.WithHelp("ctrl+v", "camera")),
	HangUp:  key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "hang up")),
	Summary: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "summarize")),
	Replies: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "smart replies")),
	Pick:    key.NewBinding(key.WithKeys("alt+1", "alt+2", "alt+3"), key.WithHelp("alt+1..3", "use reply")),
}

func (k KeyMap) welcomeHelp() []key.Binding {
	return []key.Binding{k.CopyID, k.Join, k.Quit}
}

func (k KeyMap) callHelp() []key.Binding {
	return []key.Binding{k.Send, k.Mic, k.Camera, k.HangUp, k.Summary, k.Replies, k.Pick, k.Quit}
}
