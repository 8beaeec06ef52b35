// internal/battle/session.go
package battle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/models"
)

const (
	// HandLimit is the maximum number of cards a player may hold.
	HandLimit = 5
	// WinningScore is the number of knock-outs that ends a battle.
	WinningScore = 3
	// DeckSize is the exact number of cards a deck must contain.
	DeckSize = 10
)

// Seat describes one participant when a battle is created.
type Seat struct {
	UserID       int64
	ConnectionID uuid.UUID
	DeckID       int64
	Deck         []models.Card
}

// PlayerState is one participant's side of the table. Every card of the player's deck is
// in exactly one of DrawPile, Hand, ActiveCard or Discard.
type PlayerState struct {
	UserID       int64
	ConnectionID uuid.UUID
	DeckID       int64
	DrawPile     []models.Card
	Hand         []models.Card
	ActiveCard   *models.Card
	Discard      []models.Card
	Score        int
}

// Session is a live two-player battle. Mu guards every field; callers outside this
// package never receive a *Session.
type Session struct {
	Mu sync.Mutex

	RoomID            uuid.UUID
	Players           [2]*PlayerState
	CurrentTurnUserID int64
	TurnID            int // Increments each time the turn passes
	StartedAt         time.Time

	ended       bool
	actionIndex int
	turnTimer   *time.Timer
}

// NewSession seats host and guest. Each draw pile is a shuffled copy of the seat's deck so
// the caller's slices are never touched. The host acts first.
func NewSession(roomID uuid.UUID, host, guest Seat, shuffle func(n int, swap func(i, j int))) *Session {
	s := &Session{
		RoomID:            roomID,
		CurrentTurnUserID: host.UserID,
		StartedAt:         time.Now(),
	}
	for i, seat := range []Seat{host, guest} {
		pile := make([]models.Card, len(seat.Deck))
		copy(pile, seat.Deck)
		shuffle(len(pile), func(a, b int) { pile[a], pile[b] = pile[b], pile[a] })
		s.Players[i] = &PlayerState{
			UserID:       seat.UserID,
			ConnectionID: seat.ConnectionID,
			DeckID:       seat.DeckID,
			DrawPile:     pile,
			Hand:         make([]models.Card, 0, HandLimit),
		}
	}
	return s
}

// Ended reports whether the battle reached a terminal state.
func (s *Session) Ended() bool {
	return s.ended
}

// Player returns the participant with the given user id, or nil.
func (s *Session) Player(userID int64) *PlayerState {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Opponent returns the other participant, or nil if userID is not seated.
func (s *Session) Opponent(userID int64) *PlayerState {
	switch userID {
	case s.Players[0].UserID:
		return s.Players[1]
	case s.Players[1].UserID:
		return s.Players[0]
	}
	return nil
}

func (s *Session) current() *PlayerState {
	return s.Player(s.CurrentTurnUserID)
}

// drawCards fills the current player's hand from the head of the draw pile and returns
// how many cards moved. Zero is a valid, state-preserving outcome.
func (s *Session) drawCards() int {
	p := s.current()
	n := HandLimit - len(p.Hand)
	if n > len(p.DrawPile) {
		n = len(p.DrawPile)
	}
	if n <= 0 {
		return 0
	}
	p.Hand = append(p.Hand, p.DrawPile[:n]...)
	p.DrawPile = p.DrawPile[n:]
	return n
}

// playCard moves hand[index] into the current player's empty active slot.
func (s *Session) playCard(index int) (models.Card, error) {
	p := s.current()
	if index < 0 || index >= len(p.Hand) {
		return models.Card{}, apperr.Validation("invalid card index %d", index)
	}
	if p.ActiveCard != nil {
		return models.Card{}, apperr.Validation("you already have an active card")
	}
	card := p.Hand[index]
	p.Hand = append(p.Hand[:index:index], p.Hand[index+1:]...)
	p.ActiveCard = &card
	return card, nil
}

// attackResult is the outcome of one attack.
type attackResult struct {
	Damage     int
	DefenderHP int
	KnockedOut bool
	Won        bool
}

// attack resolves the current player's active card against the opponent's. On a
// non-winning attack the turn passes to the defender, whether or not it knocked out.
func (s *Session) attack(chart *TypeChart) (attackResult, error) {
	attacker := s.current()
	defender := s.Opponent(attacker.UserID)
	if attacker.ActiveCard == nil {
		return attackResult{}, apperr.Validation("you have no active card")
	}
	if defender.ActiveCard == nil {
		return attackResult{}, apperr.Validation("opponent has no active card")
	}

	dmg := chart.Damage(attacker.ActiveCard.Attack, attacker.ActiveCard.Type, defender.ActiveCard.Type)
	defender.ActiveCard.HP -= dmg
	res := attackResult{Damage: dmg, DefenderHP: defender.ActiveCard.HP}

	if defender.ActiveCard.HP <= 0 {
		res.KnockedOut = true
		attacker.Score++
		defender.Discard = append(defender.Discard, *defender.ActiveCard)
		defender.ActiveCard = nil
		if attacker.Score >= WinningScore {
			res.Won = true
			return res, nil
		}
	}
	s.passTurn()
	return res, nil
}

// passTurn hands the turn to the opponent of the current player.
func (s *Session) passTurn() {
	s.CurrentTurnUserID = s.Opponent(s.CurrentTurnUserID).UserID
	s.TurnID++
}
