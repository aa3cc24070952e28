package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	callEvent "github.com/rescp17/peerCall/internal/app_events/call"
	"github.com/rescp17/peerCall/internal/style"
	"github.com/rescp17/peerCall/internal/util"
	"github.com/rescp17/peerCall/pkg/session"
)

const peerIDCells = 8

func (m model) updateCall(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Mic):
		return m, m.post(callEvent.ToggleTrackMsg{Kind: session.Audio})
	case key.Matches(msg, m.keys.Camera):
		return m, m.post(callEvent.ToggleTrackMsg{Kind: session.Video})
	case key.Matches(msg, m.keys.HangUp):
		return m, m.post(callEvent.HangUpMsg{})
	case key.Matches(msg, m.keys.Summary):
		if m.thinking {
			return m, nil
		}
		return m, m.post(callEvent.SummarizeMsg{})
	case key.Matches(msg, m.keys.Replies):
		if m.thinking {
			return m, nil
		}
		return m, m.post(callEvent.SuggestRepliesMsg{})
	case key.Matches(msg, m.keys.Pick):
		i := int(msg.String()[len(msg.String())-1] - '1')
		if i >= 0 && i < len(m.suggestions) {
			m.compose.SetValue(m.suggestions[i])
			m.compose.CursorEnd()
		}
		return m, nil
	case key.Matches(msg, m.keys.Send):
		text := m.compose.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		if !m.snapshot.ChannelReady {
			m.status = "Chat is not connected yet."
			return m, nil
		}
		m.status = ""
		m.compose.Reset()
		m.suggestions = nil
		return m, m.post(callEvent.SendChatMsg{Text: text})
	}

	var cmd tea.Cmd
	m.compose, cmd = m.compose.Update(msg)
	return m, cmd
}

func (m model) callView() string {
	var b strings.Builder
	snap := m.snapshot

	b.WriteString(fmt.Sprintf("Peer: %s  %s\n",
		style.HighlightStyle.Render(util.ShortID(snap.RemoteID, peerIDCells)),
		style.PhaseStyle.Render(snap.Phase.String())))
	b.WriteString(m.remoteLine() + "\n")
	b.WriteString(fmt.Sprintf("Mic: %s  Cam: %s\n\n",
		indicator(snap.HasLocal && snap.AudioEnabled),
		indicator(snap.HasLocal && snap.VideoEnabled)))

	b.WriteString(style.BaseStyle.Render(m.transcriptView()) + "\n")
	b.WriteString(m.compose.View() + "\n")

	if m.thinking {
		b.WriteString(m.spinner.View() + " Assistant is thinking...\n")
	}
	if len(m.suggestions) > 0 {
		parts := make([]string, 0, len(m.suggestions))
		for i, s := range m.suggestions {
			parts = append(parts, fmt.Sprintf("%d) %s", i+1, s))
		}
		b.WriteString(style.HelpStyle.Render("Replies: "+strings.Join(parts, "  ")) + "\n")
	}
	b.WriteString("\n" + m.help.ShortHelpView(m.keys.callHelp()))
	return b.String()
}

func (m model) remoteLine() string {
	snap := m.snapshot
	if !snap.HasRemote {
		return m.spinner.View() + " Waiting for peer stream..."
	}
	kinds := make([]string, 0, len(snap.RemoteKinds))
	for _, k := range snap.RemoteKinds {
		kinds = append(kinds, string(k))
	}
	line := fmt.Sprintf("Remote stream %s (%s)", util.ShortID(snap.RemoteStream, peerIDCells), strings.Join(kinds, ", "))
	var total uint64
	for _, st := range m.stats {
		total += st.Bytes
	}
	if total > 0 {
		line += "  rx " + util.FormatSize(total)
	}
	return line
}

func indicator(on bool) string {
	if on {
		return style.OnStyle.Render("on")
	}
	return style.OffStyle.Render("off")
}

// transcriptView renders messages wrapped to the window, the local user's right-aligned.
func (m model) transcriptView() string {
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	if len(m.snapshot.Transcript) == 0 {
		return style.HelpStyle.Render(util.PadRight("No messages yet. Start a conversation!", width))
	}

	lines := make([]string, 0, len(m.snapshot.Transcript))
	for _, msg := range m.snapshot.Transcript {
		stamp := msg.SentAt.Format("15:04")
		switch msg.Sender {
		case session.SenderSelf:
			lines = append(lines, style.SelfStyle.Width(width).Align(lipgloss.Right).Render(msg.Text+"  "+stamp))
		case session.SenderPeer:
			lines = append(lines, style.PeerStyle.Width(width).Render(stamp+"  "+msg.Text))
		default:
			lines = append(lines, style.AssistantStyle.Width(width).Render(stamp+"  assistant: "+msg.Text))
		}
	}
	return strings.Join(lines, "\n")
}
