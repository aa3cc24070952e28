package ui

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/peerCall/internal/app_events"
	callEvent "github.com/rescp17/peerCall/internal/app_events/call"
	"github.com/rescp17/peerCall/internal/style"
	"github.com/rescp17/peerCall/pkg/session"
	"github.com/rescp17/peerCall/pkg/webrtc"
)

// AppController defines the contract between the UI and the call controller.
type AppController interface {
	// UIMessages returns a read-only channel for receiving messages from the backend to the UI.
	UIMessages() <-chan tea.Msg
	// AppEvents returns a write-only channel for the UI to send intents to the backend.
	AppEvents() chan<- appevents.AppEvent
}

const (
	defaultWidth  = 80
	copiedTimeout = 2 * time.Second
)

type (
	copiedMsg     struct{}
	copyResetMsg  struct{}
	copyFailedMsg struct{ err error }
)

type model struct {
	app     AppController
	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	remote  textinput.Model
	compose textinput.Model
	width   int

	localID     string
	snapshot    session.Snapshot
	stats       map[session.MediaKind]webrtc.TrackStats
	suggestions []string
	joining     bool
	thinking    bool
	copied      bool
	status      string
	lastError   error

	copyText func(string) error
}

func InitialModel(app AppController) model {
	remote := textinput.New()
	remote.Placeholder = "Paste Peer ID here..."
	remote.CharLimit = 64
	remote.Focus()

	compose := textinput.New()
	compose.Placeholder = "Type a message..."
	compose.Focus()

	return model{
		app:      app,
		keys:     DefaultKeyMap,
		help:     help.New(),
		spinner:  style.NewSpinner(),
		remote:   remote,
		compose:  compose,
		width:    defaultWidth,
		copyText: clipboard.WriteAll,
	}
}

// listenForAppMessages is a command that waits for the next controller message.
func (m model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.app.UIMessages()
	}
}

// post hands an intent to the controller without blocking Update.
func (m model) post(event appevents.AppEvent) tea.Cmd {
	return func() tea.Msg {
		m.app.AppEvents() <- event
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForAppMessages(), textinput.Blink)
}

func (m model) inCall() bool {
	return m.snapshot.Phase != session.Idle
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleAppMessage(msg); processed {
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case copiedMsg:
		m.copied = true
		return m, tea.Tick(copiedTimeout, func(time.Time) tea.Msg { return copyResetMsg{} })
	case copyResetMsg:
		m.copied = false
		return m, nil
	case copyFailedMsg:
		m.lastError = fmt.Errorf("copy to clipboard: %w", msg.err)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.inCall() {
			return m.updateCall(msg)
		}
		return m.updateWelcome(msg)
	}

	var cmd tea.Cmd
	if m.inCall() {
		m.compose, cmd = m.compose.Update(msg)
	} else {
		m.remote, cmd = m.remote.Update(msg)
	}
	return m, cmd
}

// handleAppMessage applies controller output and keeps listening.
func (m *model) handleAppMessage(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case callEvent.IdentityMsg:
		m.localID = msg.ID
	case callEvent.SessionUpdateMsg:
		wasInCall := m.inCall()
		m.snapshot = msg.Snapshot
		if m.inCall() {
			m.joining = false
			if !wasInCall {
				m.compose.Reset()
				m.lastError = nil
			}
		} else if wasInCall {
			m.suggestions = nil
			m.stats = nil
			m.remote.Reset()
		}
	case callEvent.NoticeMsg:
		m.applyNotice(msg.Notice)
	case callEvent.AssistantBusyMsg:
		m.thinking = msg.Busy
	case callEvent.SuggestionsMsg:
		m.suggestions = msg.Suggestions
	case callEvent.StatsMsg:
		m.stats = msg.Stats
	case appevents.AppErrorMsg:
		m.joining = false
		m.lastError = msg.Err
	default:
		return nil, false
	}
	return m.listenForAppMessages(), true
}

func (m *model) applyNotice(n session.Notice) {
	switch n.Kind {
	case session.NoticeSessionEnded:
		m.joining = false
		if errors.Is(n.Err, session.ErrHangup) {
			m.status = "Call ended."
			return
		}
		m.status = ""
		m.lastError = fmt.Errorf("call ended: %w", n.Err)
	case session.NoticeIgnored:
		m.status = n.Err.Error()
	default:
		m.lastError = n.Err
	}
}

func (m model) View() string {
	var s string
	if m.inCall() {
		s = m.callView()
	} else {
		s = m.welcomeView()
	}
	if m.status != "" {
		s += "\n" + style.HelpStyle.Render(m.status)
	}
	if m.lastError != nil {
		s += "\n" + style.ErrorStyle.Render("Error: "+m.lastError.Error())
	}
	return s + "\n"
}
