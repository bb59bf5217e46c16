// Package server is a development stand-in for the campus news backend. It
// serves the notification push socket, the notification REST endpoints and
// the streaming AI chat endpoint so the terminal client can run end to end.
package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campus-news/notify/internal/config"
	"github.com/campus-news/notify/internal/notification"
)

const (
	probeRequest = "ping"
	probeReply   = "pong"
	ackMessage   = "connected"
)

type Server struct {
	config         config.ServerConfig
	store          *notification.Store
	hub            *Hub
	answerer       Answerer
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         zerolog.Logger
}

func NewServer(cfg config.ServerConfig, store *notification.Store, hub *Hub, answerer Answerer, logger zerolog.Logger) *Server {
	s := &Server{
		config:         cfg,
		store:          store,
		hub:            hub,
		answerer:       answerer,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logger.With().Str("component", "server").Logger(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ws/notification", s.handleWS)
	mux.HandleFunc("GET /api/notification/list", s.handleList)
	mux.HandleFunc("GET /api/notification/unread-count", s.handleUnreadCount)
	mux.HandleFunc("PUT /api/notification/read/{id}", s.handleMarkRead)
	mux.HandleFunc("PUT /api/notification/read-all", s.handleMarkAllRead)
	mux.HandleFunc("POST /api/ai/chat/stream", s.handleChatStream)
}

// Notify stores n and pushes it to the recipient's live connections.
// Notifications a user would send to themselves are dropped.
func (s *Server) Notify(n notification.Notification) error {
	stored, err := s.store.Add(n)
	if err != nil {
		return err
	}
	sent := s.hub.SendTo(stored.UserID, stored.Push())
	s.logger.Debug().
		Int64("user", stored.UserID).
		Str("type", string(stored.Kind)).
		Int("connections", sent).
		Msg("notification pushed")
	return nil
}

// Announce stores a SYSTEM notification for every known user and broadcasts
// it to every live connection.
func (s *Server) Announce(title, content string) {
	n := notification.Notification{
		Kind:      notification.KindSystem,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now(),
	}
	for _, u := range s.config.Users {
		n.UserID = u.ID
		if _, err := s.store.Add(n); err != nil {
			s.logger.Warn().Err(err).Int64("user", u.ID).Msg("store announcement")
		}
	}
	sent := s.hub.Broadcast(n.Push())
	s.logger.Info().Str("title", title).Int("connections", sent).Msg("announcement broadcast")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := s.hub.add(conn, user.ID)
	c.logger.Info().Str("remote", r.RemoteAddr).Int("online", s.hub.OnlineCount()).Msg("websocket client connected")
	defer func() {
		s.hub.remove(c)
		c.logger.Info().Int("online", s.hub.OnlineCount()).Msg("websocket client disconnected")
	}()

	ack, _ := json.Marshal(notification.Ack{
		Type:        notification.KindAck,
		Message:     ackMessage,
		OnlineCount: s.hub.OnlineCount(),
	})
	c.enqueue(ack)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.TextMessage && string(data) == probeRequest {
			c.enqueue([]byte(probeReply))
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page := intParam(r, "current", 1)
	size := intParam(r, "size", 10)
	items, total := s.store.List(user.ID, page, size)

	records := make([]notification.Record, 0, len(items))
	for _, n := range items {
		records = append(records, n.Record())
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	writeOK(w, map[string]any{
		"records": records,
		"total":   total,
		"size":    size,
		"current": page,
		"pages":   pages,
	})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeOK(w, map[string]int{"count": s.store.UnreadCount(user.ID)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if !s.store.MarkRead(user.ID, id) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.store.MarkAllRead(user.ID)
	writeOK(w, nil)
}

// authorize resolves the caller from the "token" query parameter or a
// bearer Authorization header.
func (s *Server) authorize(r *http.Request) (config.User, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return s.config.UserByToken(token)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Message: "success", Data: data})
}

// writeError answers with the matching HTTP status and envelope code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Code: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

// ErrNoAnswerer is reported by the chat endpoint when no Answerer is configured.
var ErrNoAnswerer = errors.New("server: chat is not available")
