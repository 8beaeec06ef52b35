// internal/models/identity.go
package models

// Identity is the verified user behind a connection. It is fixed at handshake time.
type Identity struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}
