// internal/lobby/room_store.go
package lobby

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/models"
)

// RoomStore manages waiting rooms in memory only. Every method is atomic with respect
// to the others.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*WaitingRoom
	now   func() time.Time
}

// NewRoomStore returns an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[uuid.UUID]*WaitingRoom),
		now:   time.Now,
	}
}

// Create registers a room hosted by host with a copy of hostDeck and returns its summary.
func (s *RoomStore) Create(host models.Identity, deckID int64, hostDeck []models.Card) RoomSummary {
	deck := make([]models.Card, len(hostDeck))
	copy(deck, hostDeck)

	room := &WaitingRoom{
		ID:        uuid.New(),
		HostID:    host.UserID,
		HostEmail: host.Email,
		DeckID:    deckID,
		Players:   []int64{host.UserID},
		CreatedAt: s.now(),
		hostDeck:  deck,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return room.Summary()
}

// List returns the rooms still waiting for a guest, oldest first.
func (s *RoomStore) List() []RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		if len(r.Players) == 1 {
			out = append(out, r.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID.String() < out[j].RoomID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Peek returns the room's summary, failing exactly as Claim would. It does not mutate.
func (s *RoomStore) Peek(roomID uuid.UUID) (RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	return r.Summary(), nil
}

// Claim seats guestID in the room. A claimed room is no longer listed and reports Full to
// every other joiner until Remove is called.
func (s *RoomStore) Claim(roomID uuid.UUID, guestID int64) (Handoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(roomID)
	if err != nil {
		return Handoff{}, err
	}
	if r.HostID == guestID {
		return Handoff{}, apperr.Validation("cannot join your own room")
	}
	r.Players = append(r.Players, guestID)

	deck := make([]models.Card, len(r.hostDeck))
	copy(deck, r.hostDeck)
	return Handoff{Room: r.Summary(), GuestID: guestID, HostDeck: deck}, nil
}

func (s *RoomStore) lookup(roomID uuid.UUID) (*WaitingRoom, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, apperr.NotFound("room %s not found", roomID)
	}
	if r.Full() {
		return nil, apperr.Full("room %s is full", roomID)
	}
	return r, nil
}

// Release undoes a Claim by guestID, listing the room again. It reports whether the
// guest was seated there.
func (s *RoomStore) Release(roomID uuid.UUID, guestID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok || len(r.Players) != MaxPlayers || r.Players[1] != guestID {
		return false
	}
	r.Players = r.Players[:1]
	return true
}

// Remove destroys a room. It reports whether the room existed.
func (s *RoomStore) Remove(roomID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	return ok
}

// RemoveByHost drops every unclaimed room hosted by userID and returns their ids.
func (s *RoomStore) RemoveByHost(userID int64) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []uuid.UUID
	for id, r := range s.rooms {
		if r.HostID == userID && !r.Full() {
			delete(s.rooms, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Count returns the number of rooms, claimed ones included.
func (s *RoomStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
