package style

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorCyan      = lipgloss.Color("212")
	colorPurple    = lipgloss.Color("99")
	colorGreen     = lipgloss.Color("42")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle     = lipgloss.NewStyle().Foreground(colorRed)
	HelpStyle      = lipgloss.NewStyle().Faint(true)
	TitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	HighlightStyle = lipgloss.NewStyle().Foreground(colorCyan)
	BaseStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
)

// --- Call Screen Styles ---
var (
	OnStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	OffStyle   = lipgloss.NewStyle().Foreground(colorRed)
	PhaseStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple)

	SelfStyle      = lipgloss.NewStyle().Foreground(colorLightGray)
	PeerStyle      = lipgloss.NewStyle().Foreground(colorCyan)
	AssistantStyle = lipgloss.NewStyle().Italic(true).Foreground(colorPurple)
	TimeStyle      = lipgloss.NewStyle().Faint(true)
)

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}
