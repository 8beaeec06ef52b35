// internal/battle/session_store.go
package battle

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
)

// SessionStore indexes live sessions by room id and by seated user. It also holds seat
// reservations for users whose room request is still in flight.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byUser   map[int64]uuid.UUID
	reserved map[int64]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*Session),
		byUser:   make(map[int64]uuid.UUID),
		reserved: make(map[int64]struct{}),
	}
}

// Reserve holds userID's seat for one createRoom or joinRoom. It fails if the user is
// seated or already holds a reservation. Add does not consult reservations.
func (st *SessionStore) Reserve(userID int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, seated := st.byUser[userID]; seated {
		return apperr.Validation("you are already in a game")
	}
	if _, held := st.reserved[userID]; held {
		return apperr.Validation("another room request of yours is still in progress")
	}
	st.reserved[userID] = struct{}{}
	return nil
}

// Release drops userID's reservation.
func (st *SessionStore) Release(userID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.reserved, userID)
}

// Add registers s. It fails if the room id is taken or a participant is already seated.
func (st *SessionStore) Add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[s.RoomID]; exists {
		return apperr.Validation("game %s already exists", s.RoomID)
	}
	for _, p := range s.Players {
		if _, seated := st.byUser[p.UserID]; seated {
			return apperr.Validation("user %d is already in a game", p.UserID)
		}
	}
	st.sessions[s.RoomID] = s
	for _, p := range s.Players {
		st.byUser[p.UserID] = s.RoomID
	}
	return nil
}

func (st *SessionStore) Get(roomID uuid.UUID) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[roomID]
	return s, ok
}

// GetByUser returns the session the user is seated in.
func (st *SessionStore) GetByUser(userID int64) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	roomID, ok := st.byUser[userID]
	if !ok {
		return nil, false
	}
	s, ok := st.sessions[roomID]
	return s, ok
}

// InSession reports whether the user is seated in a live session.
func (st *SessionStore) InSession(userID int64) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.byUser[userID]
	return ok
}

// Delete removes s and frees its participants.
func (st *SessionStore) Delete(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[s.RoomID]; ok && cur == s {
		delete(st.sessions, s.RoomID)
	}
	for _, p := range s.Players {
		if st.byUser[p.UserID] == s.RoomID {
			delete(st.byUser, p.UserID)
		}
	}
}

func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
