package relay

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Mirror receives a copy of every broadcast frame (e.g. for Redis fan-out to other consumers).
type Mirror interface {
	PublishEvent(eventType string, frame []byte)
}

// Hub maintains the set of connected subscribers and fans messages out to them.
// Delivery is best-effort: a client whose buffer is full is skipped.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	mirror  Mirror
}

// NewHub creates a new WebSocket hub. mirror may be nil.
func NewHub(logger *zap.Logger, mirror Mirror) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		mirror:  mirror,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// Unregister removes a client and closes its send channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// Broadcast sends the same frame to every registered client.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("type", eventType), zap.Error(err))
		return
	}

	// Sends happen under the read lock so Unregister cannot close a channel mid-send.
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// buffer full, skip
		}
	}
	h.mu.RUnlock()

	if h.mirror != nil {
		h.mirror.PublishEvent(eventType, frame)
	}
}

// SendTo sends a message to a single client.
func (h *Hub) SendTo(clientID, eventType string, payload interface{}) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
