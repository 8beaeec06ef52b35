// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/sirupsen/logrus"
)

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, status, and duration of each request. Websocket upgrades are
// passed through untouched because the handler needs the original writer to hijack it.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}

			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				fields["duration"] = time.Since(start)
				logger.WithFields(fields).Info("HTTP Upgrade")
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields["status"] = rec.status
			fields["duration"] = time.Since(start)
			logger.WithFields(fields).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a message when an authenticated client connects.
func LogWebSocketConnect(logger *logrus.Logger, conn *hub.Connection) {
	logger.WithFields(logrus.Fields{
		"remote":     conn.RemoteAddr,
		"user":       conn.UserID,
		"connection": conn.ID,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a client disconnects.
func LogWebSocketDisconnect(logger *logrus.Logger, conn *hub.Connection, err error) {
	fields := logrus.Fields{
		"remote":     conn.RemoteAddr,
		"user":       conn.UserID,
		"connection": conn.ID,
	}
	if err != nil {
		fields["error"] = err
	}
	if n := conn.Dropped(); n > 0 {
		fields["dropped"] = n
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
