// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/sirupsen/logrus"
)

// maxMessageSize bounds a single inbound frame.
const maxMessageSize = 16 << 10

// WSHandler authenticates the handshake, upgrades it and serves the connection until it
// closes. A request without a valid credential is answered with 401 and never upgraded.
func WSHandler(logger *logrus.Logger, gs *GameServer, verifier *auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := verifier.Verify(tokenFromRequest(r))
		if err != nil {
			logger.WithFields(logrus.Fields{
				"remote": r.RemoteAddr,
				"path":   r.URL.Path,
			}).Warnf("websocket handshake rejected: %v", err)
			http.Error(w, apperr.PublicMessage(err), http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for user %d: %v", identity.UserID, err)
			return
		}
		defer c.CloseNow()
		c.SetReadLimit(maxMessageSize)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := hub.NewConnection(identity, r.RemoteAddr, gs.outboundBuffer, cancel)
		gs.Connect(conn)
		middleware.LogWebSocketConnect(logger, conn)

		go writePump(ctx, c, conn, logger)
		readErr := readPump(ctx, c, gs, conn)

		gs.Disconnect(conn)
		middleware.LogWebSocketDisconnect(logger, conn, readErr)

		if conn.Dropped() > 0 {
			c.Close(SlowConsumerError, "outbound queue overflow")
			return
		}
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump handles inbound frames until the peer goes away or ctx is cancelled. A clean
// close returns nil.
func readPump(ctx context.Context, c *websocket.Conn, gs *GameServer, conn *hub.Connection) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			conn.WriteError("only text frames are supported", string(apperr.CodeValidation))
			continue
		}
		gs.HandleMessage(ctx, conn, data)
	}
}

// writePump drains conn.OutChan to the socket in order and pings the client periodically.
func writePump(ctx context.Context, c *websocket.Conn, conn *hub.Connection, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.OutChan:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Failed to marshal outgoing %s for user %d: %v", msg.Type, conn.UserID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Failed to write to websocket for user %d: %v", conn.UserID, err)
				if conn.Cancel != nil {
					conn.Cancel()
				}
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Failed to ping user %d: %v. Assuming disconnect.", conn.UserID, err)
				if conn.Cancel != nil {
					conn.Cancel()
				}
				return
			}
		}
	}
}
