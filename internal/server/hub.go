package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type peer struct {
	id     uuid.UUID
	userID int64
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newPeer(conn *websocket.Conn, userID int64, logger zerolog.Logger) *peer {
	id := uuid.New()
	c := &peer{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With().Str("conn", id.String()).Int64("user", userID).Logger(),
	}
	go c.writePump()
	return c
}

func (c *peer) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug().Err(err).Msg("ws write failed")
			return
		}
	}
}

// enqueue reports false when the client is closed or its buffer is full.
func (c *peer) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *peer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub tracks live websocket clients. A user may hold several connections;
// each receives every frame addressed to that user.
type Hub struct {
	mu      sync.RWMutex
	clients map[*peer]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*peer]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) add(conn *websocket.Conn, userID int64) *peer {
	c := newPeer(conn, userID, h.logger)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *peer) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// SendTo delivers v to every connection of userID and returns how many
// connections accepted it.
func (h *Hub) SendTo(userID int64, v any) int {
	return h.deliver(v, func(c *peer) bool { return c.userID == userID })
}

// Broadcast delivers v to every connection.
func (h *Hub) Broadcast(v any) int {
	return h.deliver(v, func(*peer) bool { return true })
}

func (h *Hub) deliver(v any, match func(*peer) bool) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal push frame")
		return 0
	}

	h.mu.RLock()
	targets := make([]*peer, 0, len(h.clients))
	for c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(data) {
			sent++
			continue
		}
		// Client can't keep up, disconnect it
		c.logger.Warn().Msg("ws client too slow, disconnecting")
		h.remove(c)
	}
	return sent
}

// OnlineCount returns the number of distinct connected users.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make(map[int64]struct{}, len(h.clients))
	for c := range h.clients {
		users[c.userID] = struct{}{}
	}
	return len(users)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
