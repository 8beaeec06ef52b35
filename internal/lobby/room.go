// internal/lobby/room.go
package lobby

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
)

// MaxPlayers is the capacity of a waiting room.
const MaxPlayers = 2

// WaitingRoom is a pre-game room announced by a host. The host's deck is loaded when the
// room is created so joining never needs to go back to storage for it.
type WaitingRoom struct {
	ID        uuid.UUID
	HostID    int64
	HostEmail string
	DeckID    int64
	Players   []int64
	CreatedAt time.Time

	hostDeck []models.Card
}

// RoomSummary is the public, copyable description of a waiting room.
type RoomSummary struct {
	RoomID    uuid.UUID `json:"roomId"`
	HostID    int64     `json:"hostId"`
	HostEmail string    `json:"hostEmail"`
	DeckID    int64     `json:"deckId"`
	Players   []int64   `json:"players"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary copies the room into its public form.
func (r *WaitingRoom) Summary() RoomSummary {
	players := make([]int64, len(r.Players))
	copy(players, r.Players)
	return RoomSummary{
		RoomID:    r.ID,
		HostID:    r.HostID,
		HostEmail: r.HostEmail,
		DeckID:    r.DeckID,
		Players:   players,
		CreatedAt: r.CreatedAt,
	}
}

// Full reports whether the room reached capacity.
func (r *WaitingRoom) Full() bool {
	return len(r.Players) >= MaxPlayers
}

// Handoff is what a successful claim returns: everything needed to start the battle.
type Handoff struct {
	Room     RoomSummary
	GuestID  int64
	HostDeck []models.Card
}
