package status

import (
	"fmt"

	"github.com/campus-news/notify/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the status bar state.
type Model struct {
	State       string // channel state name
	Retries     int
	RetryBudget int
	Unread      int64
	Online      int
	User        string
	Width       int
}

func New() Model {
	return Model{State: "idle"}
}

func (m Model) connLabel() string {
	switch m.State {
	case "connected":
		return "● Connected"
	case "connecting":
		return "○ Connecting..."
	case "reconnecting":
		if m.RetryBudget > 0 {
			return fmt.Sprintf("○ Reconnecting (%d/%d)", m.Retries, m.RetryBudget)
		}
		return fmt.Sprintf("○ Reconnecting (%d)", m.Retries)
	case "closed":
		return "✕ Closed  c:reconnect"
	default:
		return "○ Offline"
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := max(m.Width, 40)

	conn := lipgloss.NewStyle().Foreground(theme.StateColor(m.State)).Render(m.connLabel())
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	content := conn + sep + fmt.Sprintf("%d unread", m.Unread)
	if m.Online > 0 {
		content += sep + fmt.Sprintf("%d online", m.Online)
	}
	if m.User != "" {
		content += sep + theme.StyleDimmed.Render(m.User)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
