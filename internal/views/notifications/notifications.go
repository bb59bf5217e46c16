// Package notifications renders the notification inbox as a selectable list.
package notifications

import (
	"fmt"
	"strings"

	"github.com/campus-news/notify/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// maxItems caps the inbox; older entries fall off the end.
const maxItems = 500

// Item is one inbox row. Pushed items have no ID until the list is refetched.
type Item struct {
	ID      int64
	Kind    string
	Title   string
	Content string
	From    string
	Time    string
	Read    bool
}

// Model holds list state. Items are newest first.
type Model struct {
	Items    []Item
	Selected int
	Focused  bool
}

func New() Model {
	return Model{}
}

// SetItems replaces the list, keeping the cursor in range.
func (m *Model) SetItems(items []Item) {
	m.Items = items
	m.clamp()
}

// Prepend adds a freshly pushed item at the top. The cursor stays on the
// item it was on.
func (m *Model) Prepend(it Item) {
	m.Items = append([]Item{it}, m.Items...)
	if len(m.Items) > maxItems {
		m.Items = m.Items[:maxItems]
	}
	if len(m.Items) > 1 {
		m.Selected++
	}
	m.clamp()
}

func (m *Model) Up() {
	if m.Selected > 0 {
		m.Selected--
	}
}

func (m *Model) Down() {
	if m.Selected < len(m.Items)-1 {
		m.Selected++
	}
}

// Current returns the selected item.
func (m Model) Current() (Item, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Items) {
		return Item{}, false
	}
	return m.Items[m.Selected], true
}

// MarkRead flags the item with the given ID as read.
func (m *Model) MarkRead(id int64) {
	for i := range m.Items {
		if m.Items[i].ID == id {
			m.Items[i].Read = true
		}
	}
}

func (m *Model) MarkAllRead() {
	for i := range m.Items {
		m.Items[i].Read = true
	}
}

// Unread counts unread items currently held.
func (m Model) Unread() int {
	n := 0
	for _, it := range m.Items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (m *Model) clamp() {
	if m.Selected >= len(m.Items) {
		m.Selected = len(m.Items) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

// View renders the list inside a bordered panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	rows := max(height-4, 1)

	title := theme.StyleHeader.Render(fmt.Sprintf(" NOTIFICATIONS (%d unread) ", m.Unread()))

	var body string
	if len(m.Items) == 0 {
		body = theme.StyleDimmed.Render("  Nothing here yet.")
	} else {
		start := 0
		if m.Selected >= rows {
			start = m.Selected - rows + 1
		}
		end := min(start+rows, len(m.Items))
		lines := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			lines = append(lines, m.renderRow(m.Items[i], i == m.Selected, innerW))
		}
		body = strings.Join(lines, "\n")
	}

	style := theme.StyleBorder
	if m.Focused {
		style = theme.StyleFocused
	}
	return style.Width(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m Model) renderRow(it Item, selected bool, width int) string {
	glyph := lipgloss.NewStyle().Foreground(theme.CategoryColor(it.Kind)).Render(theme.CategoryGlyph(it.Kind))

	text := it.Title
	if text == "" {
		text = it.Content
	}
	if it.From != "" {
		text = it.From + ": " + text
	}
	if limit := width - 16; limit > 3 && len(text) > limit {
		text = text[:limit-3] + "..."
	}

	marker := " "
	if !it.Read {
		marker = "•"
	}
	cursor := "  "
	if selected {
		cursor = "> "
	}

	line := fmt.Sprintf("%s%s %s %s", cursor, marker, glyph, text)
	switch {
	case selected:
		line = theme.StyleSelected.Render(line)
	case it.Read:
		line = theme.StyleDimmed.Render(line)
	}
	if it.Time != "" {
		line += "  " + theme.StyleDimmed.Render(it.Time)
	}
	return line
}
