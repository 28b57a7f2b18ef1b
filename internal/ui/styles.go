package ui

import "github.com/charmbracelet/lipgloss"

// Shared palette, adaptive between light and dark terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "63", Dark: "75"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "196"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "240"}
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)
)
