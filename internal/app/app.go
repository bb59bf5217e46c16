package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/campus-news/notify/internal/channel"
	"github.com/campus-news/notify/internal/chatstream"
	"github.com/campus-news/notify/internal/client"
	"github.com/campus-news/notify/internal/theme"
	"github.com/campus-news/notify/internal/views/chat"
	"github.com/campus-news/notify/internal/views/debug"
	"github.com/campus-news/notify/internal/views/notifications"
	"github.com/campus-news/notify/internal/views/status"
)

const (
	statusInterval = 500 * time.Millisecond
	pageSize       = 50
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDebug
)

// Pane identifies which pane receives keys.
type Pane int

const (
	PaneList Pane = iota
	PaneChat
)

// Connection is the control half of *channel.Channel.
type Connection interface {
	Connect()
	Disconnect()
	State() channel.State
	Retries() int
}

// NotificationAPI is implemented by *client.HTTPClient.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, page, size int) (*client.NotificationPage, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// ChatAPI is implemented by *client.ChatClient.
type ChatAPI interface {
	StreamChat(ctx context.Context, req chatstream.Request, h chatstream.Handler)
}

// Options wires the root model to its collaborators.
type Options struct {
	Conn        Connection
	API         NotificationAPI
	Chat        ChatAPI
	Bridge      *Bridge
	User        string
	RetryBudget int
	ChatModel   string
	ChatStyle   string
	// ConnectOnStart opens the channel once the program is running, so no
	// event is produced before the bridge has a receiver.
	ConnectOnStart bool
}

// Model is the root Bubble Tea model.
type Model struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	width   int
	height  int
	overlay Overlay
	focus   Pane

	statusBar status.Model
	list      notifications.Model
	chat      chat.Model
	debug     debug.Model

	chatSeq int
}

// New creates the root model.
func New(opts Options) Model {
	if opts.Bridge == nil {
		opts.Bridge = NewBridge()
	}
	if opts.ChatStyle == "" {
		opts.ChatStyle = chat.DefaultStyle
	}
	ctx, cancel := context.WithCancel(context.Background())

	sb := status.New()
	sb.User = opts.User
	sb.RetryBudget = opts.RetryBudget

	list := notifications.New()
	list.Focused = true

	return Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: sb,
		list:      list,
		chat:      chat.New(opts.ChatStyle),
		debug:     debug.New(),
	}
}

// Init loads the inbox and starts polling connection state.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadList(), m.loadUnread(), statusTick()}
	if m.opts.ConnectOnStart && m.opts.Conn != nil {
		conn := m.opts.Conn
		cmds = append(cmds, func() tea.Msg {
			conn.Connect()
			return nil
		})
	}
	return tea.Batch(cmds...)
}

func statusTick() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		_, chatW := m.paneWidths()
		m.chat.SetSize(chatW, m.bodyHeight())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusTickMsg:
		m.syncStatus()
		return m, statusTick()

	case ConnectedMsg:
		m.debug.Add("ws", "connected")
		m.syncStatus()
		// Pushes may have been missed while offline.
		return m, tea.Batch(m.loadList(), m.loadUnread())

	case DisconnectedMsg:
		if msg.Err != nil {
			m.debug.Addf("ws", "disconnected: %v", msg.Err)
		} else {
			m.debug.Add("ws", "disconnected")
		}
		m.statusBar.Online = 0
		m.syncStatus()
		return m, nil

	case ChannelErrorMsg:
		m.debug.Addf("err", "channel: %v", msg.Err)
		return m, nil

	case AckMsg:
		m.statusBar.Online = msg.Online
		m.debug.Addf("ws", "ack: %s (%d online)", msg.Message, msg.Online)
		return m, nil

	case PushMsg:
		n := msg.Notification
		m.list.Prepend(pushItem(n))
		m.statusBar.Unread++
		m.debug.Addf("push", "%s %s", n.Type, n.Title)
		return m, nil

	case UnknownMsg:
		m.debug.Addf("push", "unhandled record type %q", msg.Tag)
		return m, nil

	case listLoadedMsg:
		if msg.Err != nil {
			m.debug.Addf("err", "list notifications: %v", msg.Err)
			return m, nil
		}
		m.list.SetItems(msg.Items)
		m.debug.Addf("api", "loaded %d of %d notifications", len(msg.Items), msg.Total)
		return m, nil

	case unreadLoadedMsg:
		if msg.Err != nil {
			m.debug.Addf("err", "unread count: %v", msg.Err)
			return m, nil
		}
		m.statusBar.Unread = msg.Count
		return m, nil

	case markedMsg:
		if msg.Err != nil {
			m.debug.Addf("err", "mark read: %v", msg.Err)
			return m, m.loadUnread()
		}
		if msg.ID == 0 {
			m.list.MarkAllRead()
		} else {
			m.list.MarkRead(msg.ID)
		}
		return m, m.loadUnread()

	case chatFragmentMsg:
		if msg.Seq == m.chatSeq {
			m.chat.AppendFragment(msg.Text)
		}
		return m, nil

	case chatDoneMsg:
		if msg.Seq == m.chatSeq {
			m.chat.Complete(msg.SessionID)
			m.debug.Addf("chat", "answer complete (session %s)", msg.SessionID)
		}
		return m, nil

	case chatFailedMsg:
		if msg.Seq == m.chatSeq {
			m.chat.Fail(msg.Err)
			m.debug.Addf("err", "chat: %v", msg.Err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.chat, cmd = m.chat.Update(msg)
	return m, cmd
}

func (m *Model) syncStatus() {
	if m.opts.Conn == nil {
		return
	}
	m.statusBar.State = m.opts.Conn.State().String()
	m.statusBar.Retries = m.opts.Conn.Retries()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return m.quit()
	}

	if m.overlay == OverlayDebug {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		}
		return m, nil
	}

	if key.Matches(msg, m.keys.Tab) {
		return m.toggleFocus()
	}
	if m.focus == PaneChat {
		return m.handleChatKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Up):
		m.list.Up()

	case key.Matches(msg, m.keys.Down):
		m.list.Down()

	case key.Matches(msg, m.keys.Enter):
		it, ok := m.list.Current()
		if !ok {
			return m, nil
		}
		if it.ID == 0 {
			// Pushed items carry no id; refetch to pick them up.
			return m, m.loadList()
		}
		if !it.Read {
			return m, m.markRead(it.ID)
		}

	case key.Matches(msg, m.keys.MarkAllRead):
		return m, m.markRead(0)

	case key.Matches(msg, m.keys.Reload):
		return m, tea.Batch(m.loadList(), m.loadUnread())

	case key.Matches(msg, m.keys.Reconnect):
		if m.opts.Conn != nil {
			m.debug.Add("ws", "connect requested")
			m.opts.Conn.Connect()
		}

	case key.Matches(msg, m.keys.Disconnect):
		if m.opts.Conn != nil {
			m.debug.Add("ws", "disconnect requested")
			m.opts.Conn.Disconnect()
		}

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		return m.toggleFocus()

	case key.Matches(msg, m.keys.NewChat):
		m.chatSeq++
		m.chat.Reset()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		q, ok := m.chat.Submit()
		if !ok {
			return m, nil
		}
		m.chatSeq++
		m.debug.Addf("chat", "asked: %s", q)
		return m, tea.Batch(m.streamChat(m.chatSeq, q), m.chat.SpinnerTick())
	}

	var cmd tea.Cmd
	m.chat, cmd = m.chat.Update(msg)
	return m, cmd
}

func (m Model) toggleFocus() (tea.Model, tea.Cmd) {
	if m.focus == PaneList {
		m.focus = PaneChat
		m.list.Focused = false
		cmd := m.chat.Focus()
		return m, cmd
	}
	m.focus = PaneList
	m.list.Focused = true
	m.chat.Blur()
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	if m.opts.Conn != nil {
		m.opts.Conn.Disconnect()
	}
	return m, tea.Quit
}

// streamChat runs one chat call. Callbacks go through the bridge so the
// answer renders while it streams; the command itself yields no message.
func (m Model) streamChat(seq int, question string) tea.Cmd {
	api, b, ctx := m.opts.Chat, m.opts.Bridge, m.ctx
	req := chatstream.Request{
		Question:  question,
		SessionID: m.chat.SessionID,
		Model:     m.opts.ChatModel,
	}
	return func() tea.Msg {
		if api == nil {
			return chatFailedMsg{Seq: seq, Err: errNoChat}
		}
		api.StreamChat(ctx, req, chatstream.Handler{
			OnFragment: func(text string) { b.Send(chatFragmentMsg{Seq: seq, Text: text}) },
			OnError:    func(err error) { b.Send(chatFailedMsg{Seq: seq, Err: err}) },
			OnComplete: func(id string) { b.Send(chatDoneMsg{Seq: seq, SessionID: id}) },
		})
		return nil
	}
}

func (m Model) loadList() tea.Cmd {
	api, ctx := m.opts.API, m.ctx
	if api == nil {
		return nil
	}
	return func() tea.Msg {
		page, err := api.ListNotifications(ctx, 1, pageSize)
		if err != nil {
			return listLoadedMsg{Err: err}
		}
		items := make([]notifications.Item, 0, len(page.Records))
		for _, n := range page.Records {
			items = append(items, recordItem(n))
		}
		return listLoadedMsg{Items: items, Total: page.Total}
	}
}

func (m Model) loadUnread() tea.Cmd {
	api, ctx := m.opts.API, m.ctx
	if api == nil {
		return nil
	}
	return func() tea.Msg {
		n, err := api.UnreadCount(ctx)
		return unreadLoadedMsg{Count: n, Err: err}
	}
}

func (m Model) markRead(id int64) tea.Cmd {
	api, ctx := m.opts.API, m.ctx
	if api == nil {
		return nil
	}
	return func() tea.Msg {
		var err error
		if id == 0 {
			err = api.MarkAllRead(ctx)
		} else {
			err = api.MarkRead(ctx, id)
		}
		return markedMsg{ID: id, Err: err}
	}
}

func recordItem(n client.Notification) notifications.Item {
	it := notifications.Item{
		ID:      n.ID,
		Kind:    n.Type,
		Title:   n.Title,
		Content: n.Content,
		Time:    n.CreatedAt,
		Read:    n.Read(),
	}
	if n.FromUser != nil {
		it.From = n.FromUser.Username
		if n.FromUser.Nickname != "" {
			it.From = n.FromUser.Nickname
		}
	}
	return it
}

func pushItem(n channel.Notification) notifications.Item {
	return notifications.Item{
		Kind:    n.Type,
		Title:   n.Title,
		Content: n.Content,
		From:    n.FromUserName,
		Time:    n.Timestamp,
	}
}

func (m Model) paneWidths() (int, int) {
	listW := m.width * 2 / 5
	return listW, m.width - listW
}

func (m Model) bodyHeight() int {
	// status bar (3) + help line (1)
	return max(m.height-4, 6)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.overlay == OverlayDebug {
		return m.debug.View(m.width, m.height)
	}

	listW, _ := m.paneWidths()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.list.View(listW, m.bodyHeight()),
		m.chat.View(),
	)

	help := "  j/k:navigate  enter:mark read  r:read all  tab:chat  c:connect  x:disconnect  d:log  q:quit"
	if m.focus == PaneChat {
		help = "  enter:send  ctrl+n:new conversation  pgup/pgdown:scroll  esc/tab:inbox  ctrl+c:quit"
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), body, theme.StyleDimmed.Render(help))
}
