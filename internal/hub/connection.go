// internal/hub/connection.go
package hub

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
)

// Message is one server-to-client frame: {"type": ..., "payload": ...}.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an "error" message.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Connection is one authenticated websocket client. Its identity is fixed for its lifetime.
type Connection struct {
	ID         uuid.UUID
	UserID     int64
	Email      string
	RemoteAddr string

	// OutChan is drained by the connection's write pump.
	OutChan chan Message
	// Cancel tears the connection down. It may be nil in tests.
	Cancel func()

	closed  atomic.Bool
	dropped atomic.Int64
}

// NewConnection creates a connection for id with an outbound queue of the given size.
func NewConnection(id models.Identity, remoteAddr string, buffer int, cancel func()) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:         uuid.New(),
		UserID:     id.UserID,
		Email:      id.Email,
		RemoteAddr: remoteAddr,
		OutChan:    make(chan Message, buffer),
		Cancel:     cancel,
	}
}

// Identity returns the verified identity of the connection.
func (c *Connection) Identity() models.Identity {
	return models.Identity{UserID: c.UserID, Email: c.Email}
}

// Write queues msg without blocking. A client that lets its queue fill up is too slow to
// follow the game, so it is disconnected rather than silently missing events.
func (c *Connection) Write(msg Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.OutChan <- msg:
		return true
	default:
		c.dropped.Add(1)
		if c.Cancel != nil {
			c.Cancel()
		}
		return false
	}
}

// WriteError sends a scoped error to this connection only.
func (c *Connection) WriteError(message, code string) bool {
	return c.Write(Message{Type: "error", Payload: ErrorPayload{Message: message, Code: code}})
}

// Dropped returns how many messages were discarded because the queue was full.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Connection) markClosed() {
	c.closed.Store(true)
}

// Closed reports whether the connection was unregistered.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
