// internal/tui/badges.go
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/mcpdispatch/internal/dispatch"
)

// renderToolsBadge returns a Lipgloss-styled badge with the tool count.
func renderToolsBadge(n int) string {
	badgeStyle := lipgloss.NewStyle().Background(lipgloss.Color("229")).Foreground(lipgloss.Color("0")).Padding(0, 1).MarginLeft(1)
	return badgeStyle.Render(fmt.Sprintf("Tools: %d", n))
}

// renderOutcomeBadge labels a finished call with its outcome.
func renderOutcomeBadge(kind dispatch.Kind) string {
	if kind == "" {
		return lipgloss.NewStyle().Background(lipgloss.Color("28")).Foreground(lipgloss.Color("230")).Padding(0, 1).Render("OK")
	}
	return lipgloss.NewStyle().Background(lipgloss.Color("9")).Foreground(lipgloss.Color("230")).Padding(0, 1).Render(string(kind))
}
