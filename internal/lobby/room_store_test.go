package lobby

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ash   = models.Identity{UserID: 1, Email: "ash@example.com"}
	misty = models.Identity{UserID: 2, Email: "misty@example.com"}
)

func testDeck() []models.Card {
	deck := make([]models.Card, 10)
	for i := range deck {
		deck[i] = models.Card{ID: int64(i + 1), HP: 30, Attack: 10, Type: models.TypeFire}
	}
	return deck
}

func newClockedStore() *RoomStore {
	s := NewRoomStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s
}

func TestCreateAndList(t *testing.T) {
	s := newClockedStore()
	first := s.Create(ash, 10, testDeck())
	second := s.Create(misty, 20, testDeck())

	assert.NotEqual(t, first.RoomID, second.RoomID)
	assert.Equal(t, []int64{1}, first.Players)
	assert.Equal(t, "ash@example.com", first.HostEmail)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.RoomID, list[0].RoomID)
	assert.Equal(t, second.RoomID, list[1].RoomID)
}

func TestListReturnsCopies(t *testing.T) {
	s := NewRoomStore()
	created := s.Create(ash, 10, testDeck())

	list := s.List()
	list[0].Players[0] = 99

	again, err := s.Peek(created.RoomID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, again.Players)
}

func TestCreateCopiesHostDeck(t *testing.T) {
	s := NewRoomStore()
	deck := testDeck()
	room := s.Create(ash, 10, deck)
	deck[0].HP = 1

	h, err := s.Claim(room.RoomID, misty.UserID)
	require.NoError(t, err)
	assert.Equal(t, 30, h.HostDeck[0].HP)
}

func TestClaim(t *testing.T) {
	s := NewRoomStore()
	room := s.Create(ash, 10, testDeck())

	h, err := s.Claim(room.RoomID, misty.UserID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, h.Room.Players)
	assert.Equal(t, int64(2), h.GuestID)
	assert.Len(t, h.HostDeck, 10)

	assert.Empty(t, s.List(), "claimed rooms are not listed")

	_, err = s.Claim(room.RoomID, 3)
	assert.True(t, apperr.IsCode(err, apperr.CodeFull))
	_, err = s.Peek(room.RoomID)
	assert.True(t, apperr.IsCode(err, apperr.CodeFull))

	assert.True(t, s.Remove(room.RoomID))
	_, err = s.Claim(room.RoomID, 3)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestClaimUnknownRoom(t *testing.T) {
	s := NewRoomStore()
	_, err := s.Claim(uuid.New(), 1)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestHostCannotJoinOwnRoom(t *testing.T) {
	s := NewRoomStore()
	room := s.Create(ash, 10, testDeck())

	_, err := s.Claim(room.RoomID, ash.UserID)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Len(t, s.List(), 1)
}

func TestConcurrentClaimsSeatOneGuest(t *testing.T) {
	s := NewRoomStore()
	room := s.Create(ash, 10, testDeck())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		full    int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(guest int64) {
			defer wg.Done()
			_, err := s.Claim(room.RoomID, guest)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if apperr.IsCode(err, apperr.CodeFull) {
				full++
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 49, full)
}

func TestRemoveByHost(t *testing.T) {
	s := NewRoomStore()
	a1 := s.Create(ash, 10, testDeck())
	a2 := s.Create(ash, 11, testDeck())
	m1 := s.Create(misty, 20, testDeck())

	removed := s.RemoveByHost(ash.UserID)
	assert.ElementsMatch(t, []uuid.UUID{a1.RoomID, a2.RoomID}, removed)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, m1.RoomID, list[0].RoomID)
}

func TestRemoveByHostKeepsClaimedRooms(t *testing.T) {
	s := NewRoomStore()
	room := s.Create(ash, 10, testDeck())
	_, err := s.Claim(room.RoomID, misty.UserID)
	require.NoError(t, err)

	assert.Empty(t, s.RemoveByHost(ash.UserID))
	assert.Equal(t, 1, s.Count())
}

func TestReleaseListsRoomAgain(t *testing.T) {
	s := NewRoomStore()
	room := s.Create(ash, 10, testDeck())

	h, err := s.Claim(room.RoomID, misty.UserID)
	require.NoError(t, err)
	assert.False(t, s.Release(room.RoomID, 3), "only the seated guest can be released")

	assert.True(t, s.Release(room.RoomID, misty.UserID))
	assert.False(t, s.Release(room.RoomID, misty.UserID))
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, []int64{ash.UserID}, list[0].Players)

	_, err = s.Claim(room.RoomID, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, h.Room.Players, "earlier hand-offs are unaffected")
	assert.False(t, s.Release(uuid.New(), 3))
}
