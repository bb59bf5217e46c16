package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/campus-news/notify/internal/channel"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards messages produced outside the Bubble Tea loop (channel
// handlers, chat stream callbacks) into the program. Messages sent before
// Attach are queued and delivered in order once a program is attached.
type Bridge struct {
	mu       sync.Mutex
	target   Sender
	pending  []tea.Msg
	flushing bool
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach sets the program that receives messages. It never blocks: a
// program's Send waits until its Run loop starts, so queued messages are
// delivered from a separate goroutine, and Sends made meanwhile queue
// behind them.
func (b *Bridge) Attach(s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = s
	if len(b.pending) > 0 && !b.flushing {
		b.flushing = true
		go b.flush()
	}
}

func (b *Bridge) flush() {
	for {
		b.mu.Lock()
		batch, target := b.pending, b.target
		b.pending = nil
		if len(batch) == 0 {
			b.flushing = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		for _, msg := range batch {
			target.Send(msg)
		}
	}
}

// Send delivers msg to the attached program, or queues it.
func (b *Bridge) Send(msg tea.Msg) {
	b.mu.Lock()
	if b.target == nil || b.flushing {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return
	}
	target := b.target
	b.mu.Unlock()
	target.Send(msg)
}

// Subscriber is the registration half of *channel.Channel.
type Subscriber interface {
	On(cat channel.Category, h channel.Handler) channel.SubscriptionID
}

var pushCategories = []channel.Category{
	channel.CategoryLike,
	channel.CategoryComment,
	channel.CategoryFollow,
	channel.CategoryFavorite,
	channel.CategorySystem,
}

// Subscribe registers handlers that turn channel events into program messages.
func Subscribe(ch Subscriber, b *Bridge) {
	ch.On(channel.CategoryConnected, func(channel.Event) {
		b.Send(ConnectedMsg{})
	})
	ch.On(channel.CategoryDisconnected, func(ev channel.Event) {
		b.Send(DisconnectedMsg{Err: ev.Err})
	})
	ch.On(channel.CategoryError, func(ev channel.Event) {
		b.Send(ChannelErrorMsg{Err: ev.Err})
	})
	ch.On(channel.CategoryAck, func(ev channel.Event) {
		n, err := ev.Notification()
		if err != nil {
			return
		}
		b.Send(AckMsg{Message: n.Message, Online: n.OnlineCount})
	})
	for _, cat := range pushCategories {
		ch.On(cat, func(ev channel.Event) {
			n, err := ev.Notification()
			if err != nil {
				b.Send(ChannelErrorMsg{Err: err})
				return
			}
			b.Send(PushMsg{Notification: n})
		})
	}
	ch.On(channel.CategoryUnknown, func(ev channel.Event) {
		b.Send(UnknownMsg{Tag: ev.Tag})
	})
}
