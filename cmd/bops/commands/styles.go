package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/metasys/bops/pkg/engine"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#8B5CF6") // Violet
	colorSuccess = lipgloss.Color("#10B981") // Emerald
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
)

// statusStyle colors an invocation status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case engine.StatusSucceeded:
		return successStyle
	case engine.StatusTimeout:
		return warningStyle
	case engine.StatusFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}

// row lays cells out in fixed-width columns. The last cell takes the rest of
// the line.
func row(widths []int, cells ...string) string {
	var b strings.Builder
	for i, cell := range cells {
		if i < len(widths) && i < len(cells)-1 {
			b.WriteString(lipgloss.NewStyle().Width(widths[i]).Render(cell))
			continue
		}
		b.WriteString(cell)
	}
	return b.String()
}

// rule is a horizontal line under a header row.
func rule(widths []int) string {
	total := 0
	for _, w := range widths {
		total += w
	}
	return mutedStyle.Render(strings.Repeat("─", total))
}
