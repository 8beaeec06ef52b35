// internal/hub/hub.go
package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Hub indexes live connections by connection id and by user id.
type Hub struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Connection
	byUser map[int64][]*Connection // oldest first
}

func New() *Hub {
	return &Hub{
		byID:   make(map[uuid.UUID]*Connection),
		byUser: make(map[int64][]*Connection),
	}
}

// Register adds c. The newest connection of a user is the one ByUser returns.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[c.ID] = c
	h.byUser[c.UserID] = append(h.byUser[c.UserID], c)
}

// Unregister removes c and reports whether its user still has another live connection.
func (h *Hub) Unregister(c *Connection) (userStillConnected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.markClosed()
	delete(h.byID, c.ID)

	conns := h.byUser[c.UserID]
	for i, other := range conns {
		if other == c {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(h.byUser, c.UserID)
		return false
	}
	h.byUser[c.UserID] = conns
	return true
}

// Get returns the connection with the given id.
func (h *Hub) Get(id uuid.UUID) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byID[id]
	return c, ok
}

// ByUser returns the most recent live connection of userID.
func (h *Hub) ByUser(userID int64) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.byUser[userID]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[len(conns)-1], true
}

// SendTo queues msg for one connection. It reports false if the connection is gone.
func (h *Hub) SendTo(id uuid.UUID, msg Message) bool {
	c, ok := h.Get(id)
	if !ok {
		return false
	}
	return c.Write(msg)
}

// Broadcast queues msg for every live connection.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Write(msg)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}
