package app

import (
	"time"

	"github.com/pkg/errors"

	"github.com/campus-news/notify/internal/channel"
	"github.com/campus-news/notify/internal/views/notifications"
)

// Channel lifecycle and push messages.
type (
	ConnectedMsg    struct{}
	DisconnectedMsg struct{ Err error }
	ChannelErrorMsg struct{ Err error }
	AckMsg          struct {
		Message string
		Online  int
	}
	PushMsg    struct{ Notification channel.Notification }
	UnknownMsg struct{ Tag string }
)

// REST results.
type (
	listLoadedMsg struct {
		Items []notifications.Item
		Total int64
		Err   error
	}
	unreadLoadedMsg struct {
		Count int64
		Err   error
	}
	// markedMsg reports a mark-read call; ID 0 means all.
	markedMsg struct {
		ID  int64
		Err error
	}
)

// Chat stream callbacks, tagged with the conversation turn they belong to.
type (
	chatFragmentMsg struct {
		Seq  int
		Text string
	}
	chatDoneMsg struct {
		Seq       int
		SessionID string
	}
	chatFailedMsg struct {
		Seq int
		Err error
	}
)

type statusTickMsg time.Time

var errNoChat = errors.New("chat is not configured")
