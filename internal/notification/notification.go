// Package notification holds the dev server's notification records and the
// two wire shapes they are published in: the push frame sent over the
// websocket and the stored record served by the REST API.
package notification

import "time"

// Kind is the category tag carried in the "type" field.
type Kind string

const (
	KindLike     Kind = "LIKE"
	KindComment  Kind = "COMMENT"
	KindFollow   Kind = "FOLLOW"
	KindFavorite Kind = "FAVORITE"
	KindSystem   Kind = "SYSTEM"
	KindAck      Kind = "CONNECTED"
)

// TimestampLayout formats Push.Timestamp and Record.CreatedAt.
const TimestampLayout = "2006-01-02 15:04:05"

// Actor is the user who caused a notification.
type Actor struct {
	ID     int64
	Name   string
	Avatar string
}

// Notification is one stored notification addressed to UserID.
type Notification struct {
	ID        int64
	UserID    int64
	From      Actor
	Kind      Kind
	ArticleID int64
	Title     string
	Content   string
	Read      bool
	CreatedAt time.Time
}

// Push is the frame delivered over the websocket.
type Push struct {
	Type           Kind   `json:"type"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content,omitempty"`
	ArticleID      int64  `json:"articleId,omitempty"`
	FromUserID     int64  `json:"fromUserId,omitempty"`
	FromUserName   string `json:"fromUserName,omitempty"`
	FromUserAvatar string `json:"fromUserAvatar,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Ack is the welcome frame sent right after a connection is accepted.
type Ack struct {
	Type        Kind   `json:"type"`
	Message     string `json:"message"`
	OnlineCount int    `json:"onlineCount"`
}

// Sender is the nested user of a stored Record.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Record is the REST representation of a stored notification.
type Record struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"userId"`
	FromUserID int64   `json:"fromUserId,omitempty"`
	Type       Kind    `json:"type"`
	ArticleID  int64   `json:"articleId,omitempty"`
	Title      string  `json:"title,omitempty"`
	Content    string  `json:"content"`
	IsRead     int     `json:"isRead"`
	CreatedAt  string  `json:"createdAt"`
	FromUser   *Sender `json:"fromUser,omitempty"`
}

// Push renders n as a websocket frame.
func (n Notification) Push() Push {
	return Push{
		Type:           n.Kind,
		Title:          n.Title,
		Content:        n.Content,
		ArticleID:      n.ArticleID,
		FromUserID:     n.From.ID,
		FromUserName:   n.From.Name,
		FromUserAvatar: n.From.Avatar,
		Timestamp:      n.CreatedAt.Format(TimestampLayout),
	}
}

// Record renders n for the REST API.
func (n Notification) Record() Record {
	r := Record{
		ID:         n.ID,
		UserID:     n.UserID,
		FromUserID: n.From.ID,
		Type:       n.Kind,
		ArticleID:  n.ArticleID,
		Title:      n.Title,
		Content:    n.Content,
		CreatedAt:  n.CreatedAt.Format(TimestampLayout),
	}
	if n.Read {
		r.IsRead = 1
	}
	if n.From.ID != 0 {
		r.FromUser = &Sender{ID: n.From.ID, Username: n.From.Name, Avatar: n.From.Avatar}
	}
	return r
}
