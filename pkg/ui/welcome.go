package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	callEvent "github.com/rescp17/peerCall/internal/app_events/call"
	"github.com/rescp17/peerCall/internal/style"
)

func (m model) updateWelcome(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.CopyID):
		if m.localID == "" {
			return m, nil
		}
		id, copyText := m.localID, m.copyText
		return m, func() tea.Msg {
			if err := copyText(id); err != nil {
				return copyFailedMsg{err: err}
			}
			return copiedMsg{}
		}
	case key.Matches(msg, m.keys.Join):
		remote := strings.TrimSpace(m.remote.Value())
		if remote == "" || m.localID == "" || m.joining {
			return m, nil
		}
		m.joining = true
		m.lastError = nil
		m.status = ""
		return m, m.post(callEvent.JoinMsg{RemoteID: remote})
	}

	var cmd tea.Cmd
	m.remote, cmd = m.remote.Update(msg)
	return m, cmd
}

func (m model) welcomeView() string {
	var b strings.Builder
	b.WriteString(style.TitleStyle.Render("peercall") + "\n\n")

	id := m.localID
	if id == "" {
		id = m.spinner.View() + " Generating..."
	} else {
		id = style.HighlightStyle.Render(id)
	}
	b.WriteString("Your ID: " + id)
	if m.copied {
		b.WriteString("  " + style.OnStyle.Render("Copied!"))
	}
	b.WriteString("\n\n")

	b.WriteString("Connect to a peer:\n")
	b.WriteString(style.BaseStyle.Render(m.remote.View()) + "\n")
	if m.joining {
		b.WriteString(fmt.Sprintf("%s Joining %s...\n", m.spinner.View(), strings.TrimSpace(m.remote.Value())))
	}
	b.WriteString("\n" + m.help.ShortHelpView(m.keys.welcomeHelp()))
	return b.String()
}
