// Package debug provides a scrollable event log overlay for channel and
// chat stream activity.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/campus-news/notify/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

const maxEntries = 200

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string // "ws", "push", "chat", "api", "err"
	Message string
}

// Model holds debug log state.
type Model struct {
	Entries []Entry
	Offset  int // lines scrolled up from the bottom
	now     func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

// Add appends a log entry, caps the buffer and snaps back to the bottom.
func (m *Model) Add(kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{Time: now(), Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Addf is Add with a format string.
func (m *Model) Addf(kind, format string, args ...any) {
	m.Add(kind, fmt.Sprintf(format, args...))
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visibleLines := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visibleLines, 0)

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindToColor(e.Kind)).Width(5).Render(e.Kind)
		msg := e.Message
		if innerW > 24 && len(msg) > innerW-21 {
			msg = msg[:innerW-24] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, msg))
	}

	scroll := ""
	if m.Offset > 0 {
		scroll = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), scroll, help)
	return panelStyle(innerW).Render(content)
}

func kindToColor(kind string) lipgloss.Color {
	switch kind {
	case "ws":
		return theme.ColorHealthy
	case "push":
		return theme.ColorComment
	case "chat":
		return theme.ColorAssistant
	case "err":
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}
