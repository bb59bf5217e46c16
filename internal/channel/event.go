package channel

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Category identifies the kind of event delivered to subscribers.
type Category string

// Categories pushed by the server. The tag on the wire is the upper-case name.
const (
	CategoryLike     Category = "LIKE"
	CategoryComment  Category = "COMMENT"
	CategoryFollow   Category = "FOLLOW"
	CategoryFavorite Category = "FAVORITE"
	CategorySystem   Category = "SYSTEM"
	// CategoryAck is the welcome frame the server sends after accepting a connection.
	CategoryAck Category = "CONNECTED"
	// CategoryUnknown receives records whose tag is not one of the above.
	CategoryUnknown Category = "UNKNOWN"
)

// Categories originated by the Channel itself.
const (
	// CategoryMessage is the wildcard: every decoded inbound record is
	// delivered here after the category-specific subscribers.
	CategoryMessage      Category = "message"
	CategoryConnected    Category = "connected"
	CategoryDisconnected Category = "disconnected"
	CategoryError        Category = "error"
)

var (
	// ErrNoPayload is returned by Event.Decode for events without a payload.
	ErrNoPayload = errors.New("event has no payload")
	errNotObject = errors.New("record is not a JSON object")
)

// ParseCategory maps a wire tag to a server category. Lifecycle and wildcard
// names are never accepted from the wire, so a server cannot forge them.
func ParseCategory(tag string) (Category, bool) {
	switch c := Category(tag); c {
	case CategoryLike, CategoryComment, CategoryFollow, CategoryFavorite, CategorySystem, CategoryAck:
		return c, true
	}
	return CategoryUnknown, false
}

// IsLifecycle reports whether c is dispatched by the Channel rather than the server.
func (c Category) IsLifecycle() bool {
	switch c {
	case CategoryConnected, CategoryDisconnected, CategoryError:
		return true
	}
	return false
}

// Event is one dispatch. Inbound records carry the raw tag and payload;
// lifecycle events carry Err when a transport failure caused them. Each
// handler receives its own copy of Payload.
type Event struct {
	Category Category
	Tag      string
	Payload  json.RawMessage
	Err      error
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrNoPayload
	}
	return errors.Wrapf(json.Unmarshal(e.Payload, v), "decode %s payload", e.Category)
}

// Notification decodes the payload as a notification record.
func (e Event) Notification() (Notification, error) {
	var n Notification
	err := e.Decode(&n)
	return n, err
}

// Handler receives dispatched events. Handlers run on the Channel's dispatch
// goroutine and must not block for long.
type Handler func(Event)

// SubscriptionID identifies one registration made with Channel.On.
type SubscriptionID uint64

// Notification mirrors the record pushed by the notification server.
// Types mirror the server wire protocol without importing server packages.
type Notification struct {
	Type           string `json:"type"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content,omitempty"`
	ArticleID      int64  `json:"articleId,omitempty"`
	FromUserID     int64  `json:"fromUserId,omitempty"`
	FromUserName   string `json:"fromUserName,omitempty"`
	FromUserAvatar string `json:"fromUserAvatar,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`

	// Set on the CONNECTED welcome frame only.
	Message     string `json:"message,omitempty"`
	OnlineCount int    `json:"onlineCount,omitempty"`
}

// envelope is the minimum every inbound record must decode into.
type envelope struct {
	Type string `json:"type"`
}

// decodeRecord turns one physical message into an Event. Anything that is not
// a JSON object is rejected.
func decodeRecord(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, errNotObject
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Event{}, errors.Wrap(err, "decode record")
	}
	payload := make(json.RawMessage, len(trimmed))
	copy(payload, trimmed)

	ev := Event{Tag: env.Type, Payload: payload}
	if env.Type != "" {
		ev.Category, _ = ParseCategory(env.Type)
	}
	return ev, nil
}
