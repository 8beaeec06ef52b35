// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the battle handler.
// These provide more specific reasons for closure than standard codes.
const (
	SlowConsumerError = 3000 // Client did not drain server events fast enough and was dropped.
)

// Subprotocol is offered during the handshake. Clients may omit it.
const Subprotocol = "arena"
