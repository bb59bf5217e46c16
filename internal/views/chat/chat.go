// Package chat renders the assistant conversation pane: a scrollable
// transcript above a single line input. Finished answers are rendered as
// markdown; the answer being streamed is shown raw until it completes.
package chat

import (
	"strings"

	"github.com/campus-news/notify/internal/theme"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	// DefaultStyle is the glamour style used by the TUI.
	DefaultStyle = "dark"
	inputLimit   = 2000
)

type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// Turn is one entry of the transcript.
type Turn struct {
	Role      Role
	Text      string
	Err       string
	Streaming bool
	rendered  string
}

// Model holds the conversation state.
type Model struct {
	Turns     []Turn
	SessionID string
	Focused   bool

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	style    string
	renderer *glamour.TermRenderer
	width    int
	height   int
}

// New creates a chat pane rendering markdown with the given glamour style.
func New(style string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask the campus assistant..."
	ti.Prompt = "> "
	ti.CharLimit = inputLimit

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorAssistant)

	m := Model{
		input:    ti,
		viewport: viewport.New(60, 10),
		spinner:  sp,
		style:    style,
	}
	m.SetSize(64, 16)
	return m
}

// SetSize resizes the pane. The markdown renderer is rebuilt for the new wrap width.
func (m *Model) SetSize(width, height int) {
	if width == m.width && height == m.height {
		return
	}
	m.width, m.height = width, height
	inner := max(width-4, 20)
	m.viewport.Width = inner
	m.viewport.Height = max(height-5, 3)
	m.input.Width = max(inner-4, 10)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(inner-2),
	)
	if err != nil {
		r = nil
	}
	m.renderer = r
	for i := range m.Turns {
		m.Turns[i].rendered = ""
	}
	m.refresh()
}

func (m *Model) Focus() tea.Cmd {
	m.Focused = true
	return m.input.Focus()
}

func (m *Model) Blur() {
	m.Focused = false
	m.input.Blur()
}

// Streaming reports whether an answer is in flight.
func (m Model) Streaming() bool {
	n := len(m.Turns)
	return n > 0 && m.Turns[n-1].Streaming
}

// Submit takes the typed question and opens an assistant turn for its
// answer. It returns false when the input is blank or an answer is still
// streaming.
func (m *Model) Submit() (string, bool) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.Streaming() {
		return "", false
	}
	m.input.Reset()
	m.Turns = append(m.Turns,
		Turn{Role: RoleUser, Text: q},
		Turn{Role: RoleAssistant, Streaming: true},
	)
	m.refresh()
	return q, true
}

// SpinnerTick starts the waiting indicator.
func (m Model) SpinnerTick() tea.Cmd {
	return m.spinner.Tick
}

// AppendFragment adds streamed text to the open answer.
func (m *Model) AppendFragment(text string) {
	if t := m.open(); t != nil {
		t.Text += text
		m.refresh()
	}
}

// Complete closes the open answer and remembers the session for follow-ups.
func (m *Model) Complete(sessionID string) {
	if sessionID != "" {
		m.SessionID = sessionID
	}
	if t := m.open(); t != nil {
		t.Streaming = false
		m.refresh()
	}
}

// Fail closes the open answer with an error. Text received so far is kept.
func (m *Model) Fail(err error) {
	if t := m.open(); t != nil {
		t.Streaming = false
		t.Err = err.Error()
		m.refresh()
	}
}

// Reset starts a new conversation.
func (m *Model) Reset() {
	m.Turns = nil
	m.SessionID = ""
	m.refresh()
}

func (m *Model) open() *Turn {
	n := len(m.Turns)
	if n == 0 || !m.Turns[n-1].Streaming {
		return nil
	}
	return &m.Turns[n-1]
}

// Update forwards key input to the text field and scroll keys to the transcript.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.Streaming() {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "pgup", "pgdown", "up", "down":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	if m.Focused {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript())
	if atBottom || m.Streaming() {
		m.viewport.GotoBottom()
	}
}

func (m *Model) transcript() string {
	if len(m.Turns) == 0 {
		return theme.StyleDimmed.Render("Ask about campus news, events or your notifications.")
	}
	you := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorUser).Render("You")
	bot := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorAssistant).Render("Assistant")

	var b strings.Builder
	for i := range m.Turns {
		t := &m.Turns[i]
		if i > 0 {
			b.WriteString("\n")
		}
		if t.Role == RoleUser {
			b.WriteString(you + "\n" + t.Text + "\n")
			continue
		}
		b.WriteString(bot + "\n")
		switch {
		case t.Streaming && t.Text == "":
			b.WriteString(m.spinner.View() + " thinking\n")
		case t.Streaming:
			b.WriteString(t.Text + m.spinner.View() + "\n")
		default:
			b.WriteString(m.markdown(t) + "\n")
		}
		if t.Err != "" {
			b.WriteString(theme.StyleError.Render("✕ "+t.Err) + "\n")
		}
	}
	return b.String()
}

func (m *Model) markdown(t *Turn) string {
	if t.Text == "" {
		return ""
	}
	if t.rendered != "" {
		return t.rendered
	}
	if m.renderer == nil {
		return t.Text
	}
	out, err := m.renderer.Render(t.Text)
	if err != nil {
		return t.Text
	}
	t.rendered = strings.TrimRight(out, "\n")
	return t.rendered
}

// View renders the pane.
func (m Model) View() string {
	inner := max(m.width-4, 20)
	title := theme.StyleHeader.Render(" ASSISTANT ")
	if m.SessionID != "" {
		title += theme.StyleDimmed.Render(" session " + m.SessionID)
	}

	style := theme.StyleBorder
	if m.Focused {
		style = theme.StyleFocused
	}
	return style.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View(), m.input.View()),
	)
}
