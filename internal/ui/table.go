package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().
		Foreground(ColorWarn)

	TableSuccessStyle = lipgloss.NewStyle().
		Foreground(ColorPass)

	TableHintStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	TableBorderStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// NewSearchTable creates a new table with default search styling: styled
// header row, plain body (cells carry their own styling where callers want
// emphasis).
func NewSearchTable(width int) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Width(width)
}

// ImportanceStyle picks the cell style for an importance value: strong
// values pop, fading values dim, overdue/flagged callers use the warning
// style directly.
func ImportanceStyle(importance float64) lipgloss.Style {
	switch {
	case importance >= 0.7:
		return TableSuccessStyle
	case importance < 0.3:
		return TableHintStyle
	default:
		return lipgloss.NewStyle()
	}
}
