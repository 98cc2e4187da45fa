package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a real-time event pushed to the clients of one space.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub maintains the active WebSocket clients grouped by space. A broadcast
// reaches only the clients registered under that space; members of other
// spaces never see it.
type Hub struct {
	mu     sync.RWMutex
	spaces map[int64]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		spaces: make(map[int64]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client under its space.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	clients, ok := h.spaces[c.spaceID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.spaces[c.spaceID] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. The space's
// bucket is dropped once its last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.spaces[c.spaceID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.spaces, c.spaceID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a message to every client of the given space.
func (h *Hub) Broadcast(spaceID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.spaces[spaceID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients in a space.
func (h *Hub) ClientCount(spaceID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.spaces[spaceID])
}
