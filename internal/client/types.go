// Package client provides the HTTP side of the campus notification API: the
// session credential, the REST notification endpoints, and the streaming chat
// call. Types mirror the server wire protocol without importing server packages.
package client

import (
	"encoding/json"
	"fmt"
)

// CodeOK is the envelope code of a successful call.
const CodeOK = 200

// Envelope wraps every REST response.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError is returned when the envelope carries a non-success code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// UserRef is the sender attached to a stored notification.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Notification is one stored notification as returned by /notification/list.
type Notification struct {
	ID         int64    `json:"id"`
	UserID     int64    `json:"userId"`
	FromUserID int64    `json:"fromUserId,omitempty"`
	Type       string   `json:"type"`
	ArticleID  int64    `json:"articleId,omitempty"`
	CommentID  int64    `json:"commentId,omitempty"`
	Title      string   `json:"title,omitempty"`
	Content    string   `json:"content"`
	IsRead     int      `json:"isRead"`
	CreatedAt  string   `json:"createdAt"`
	FromUser   *UserRef `json:"fromUser,omitempty"`
}

// Read reports whether the notification has been marked read.
func (n Notification) Read() bool { return n.IsRead == 1 }

// NotificationPage is one page of notifications, newest first.
type NotificationPage struct {
	Records []Notification `json:"records"`
	Total   int64          `json:"total"`
	Size    int            `json:"size"`
	Current int            `json:"current"`
	Pages   int            `json:"pages"`
}

// UnreadCount is the payload of /notification/unread-count.
type UnreadCount struct {
	Count int64 `json:"count"`
}
