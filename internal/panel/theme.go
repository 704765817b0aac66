package panel

import "github.com/charmbracelet/lipgloss"

const (
	// Ink is the primary text color.
	Ink = "#F5F6FA"
	// Parchment is the accent used for assistant replies.
	Parchment = "#FFD9A0"
	// Slate is the muted color for chrome and hints.
	Slate = "#52526A"
	// Quill is the brand accent for the user's own lines.
	Quill = "#9999CC"
	// Alert is the high-severity status color.
	Alert = "#FF3333"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(Quill)).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(Parchment))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(Slate)).Faint(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(Alert))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(Slate)).Faint(true)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(Ink)).Bold(true)
)
