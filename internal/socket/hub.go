// server/internal/socket/hub.go
package socket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks the live websocket clients of each user. A user may have several
// open connections, one per dashboard view.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.Named("socket"),
	}
}

// Register adds c to the Hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.logger.Info("WebSocket client registered", zap.String("userID", c.UserID), zap.Int("connections", len(set)))
}

// Unregister removes c and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	c.close()
	h.logger.Info("WebSocket client unregistered", zap.String("userID", c.UserID))
}

// Send queues message for every connection of userID and reports how many
// accepted it. An offline user is not an error.
func (h *Hub) Send(userID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[userID] {
		if c.Enqueue(message) {
			delivered++
		} else {
			h.logger.Warn("WebSocket client too slow, message dropped", zap.String("userID", userID))
		}
	}
	return delivered
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
