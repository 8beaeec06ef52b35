// internal/battle/manager.go
package battle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// EventType names a server-to-client battle event.
type EventType string

const (
	EventGameStarted      EventType = "gameStarted"
	EventGameStateUpdated EventType = "gameStateUpdated"
	EventGameEnded        EventType = "gameEnded"
)

// Event is a message addressed to one connection.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EndReason explains why a battle finished.
type EndReason string

const (
	ReasonKnockout EndReason = "knockout"
	ReasonForfeit  EndReason = "forfeit"
)

// GameStartedPayload is sent to both participants when a battle begins.
type GameStartedPayload struct {
	RoomID              uuid.UUID `json:"roomId"`
	CurrentPlayerUserID int64     `json:"currentPlayerUserId"`
	Players             []int64   `json:"players"`
}

// GameEndedPayload is sent to both participants exactly once.
type GameEndedPayload struct {
	RoomID uuid.UUID `json:"roomId"`
	Winner int64     `json:"winner"`
	Reason EndReason `json:"reason"`
}

// Result summarises a finished battle for OnGameEnd.
type Result struct {
	RoomID       uuid.UUID
	WinnerUserID int64
	LoserUserID  int64
	Reason       EndReason
	Scores       map[int64]int
}

// ActionPublisher receives the action log of every battle.
type ActionPublisher interface {
	PublishAction(ctx context.Context, record cache.ActionRecord) error
}

// Manager runs every transition of every live battle. Operations on one session are
// serialized by the session's mutex; different sessions proceed in parallel.
type Manager struct {
	Store *SessionStore
	Chart *TypeChart
	Rules models.BattleRules

	// SendFn delivers an event to a connection. It is called with the session lock held
	// and must not block.
	SendFn func(connectionID uuid.UUID, ev Event)
	// OnStart and OnGameEnd are optional lifecycle hooks, also called with the lock held.
	OnStart   func(s Summary)
	OnGameEnd func(r Result)
	// Actions, if set, receives every logged action, in order, from a single goroutine.
	Actions ActionPublisher
	// Shuffle permutes a draw pile. Defaults to math/rand/v2's uniform Shuffle.
	Shuffle func(n int, swap func(i, j int))

	logger *logrus.Logger

	actionMu     sync.Mutex
	actionQueue  chan cache.ActionRecord
	actionsDone  chan struct{}
	actionsClose bool
}

// actionQueueSize bounds the records waiting for the publisher. Past it records are
// dropped so a slow Redis never stalls a battle.
const actionQueueSize = 1024

// Summary describes a battle at the moment it starts.
type Summary struct {
	RoomID    uuid.UUID
	Host      Seat
	Guest     Seat
	StartedAt time.Time
}

// NewManager returns a Manager using chart (the built-in one when nil) and rules.
func NewManager(logger *logrus.Logger, chart *TypeChart, rules models.BattleRules) *Manager {
	if chart == nil {
		chart = DefaultTypeChart()
	}
	return &Manager{
		Store:   NewSessionStore(),
		Chart:   chart,
		Rules:   rules,
		Shuffle: rand.Shuffle,
		logger:  logger,
	}
}

// InSession reports whether userID is seated in a live battle.
func (m *Manager) InSession(userID int64) bool {
	return m.Store.InSession(userID)
}

// Reserve holds userID's seat while a room request is processed. Callers must Release it.
func (m *Manager) Reserve(userID int64) error {
	return m.Store.Reserve(userID)
}

func (m *Manager) Release(userID int64) {
	m.Store.Release(userID)
}

// Start creates the battle for roomID, announces it to both seats and pushes their first
// views. It fails without side effects if either user is already seated.
func (m *Manager) Start(roomID uuid.UUID, host, guest Seat) error {
	if host.UserID == guest.UserID {
		return apperr.Validation("cannot battle yourself")
	}
	for _, seat := range []Seat{host, guest} {
		if len(seat.Deck) != DeckSize {
			return apperr.Validation("deck %d must contain exactly %d cards", seat.DeckID, DeckSize)
		}
	}

	s := NewSession(roomID, host, guest, m.Shuffle)
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if err := m.Store.Add(s); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"room":  roomID,
		"host":  host.UserID,
		"guest": guest.UserID,
	}).Info("battle started")
	m.logAction(s, host.UserID, "game_start", map[string]interface{}{
		"host_user_id":    host.UserID,
		"guest_user_id":   guest.UserID,
		"host_deck_id":    host.DeckID,
		"guest_deck_id":   guest.DeckID,
		"turn_timeout_ms": m.Rules.TurnTimeout.Milliseconds(),
	})
	if m.OnStart != nil {
		m.OnStart(Summary{RoomID: roomID, Host: host, Guest: guest, StartedAt: s.StartedAt})
	}

	started := Event{Type: EventGameStarted, Payload: GameStartedPayload{
		RoomID:              roomID,
		CurrentPlayerUserID: s.CurrentTurnUserID,
		Players:             []int64{host.UserID, guest.UserID},
	}}
	for _, p := range s.Players {
		m.send(p.ConnectionID, started)
	}
	m.pushViews(s)
	m.scheduleTurnTimer(s)
	return nil
}

// DrawCards fills the acting player's hand up to HandLimit. Drawing nothing is not an error.
func (m *Manager) DrawCards(roomID uuid.UUID, userID int64) error {
	return m.transition(roomID, userID, func(s *Session) error {
		drawn := s.drawCards()
		m.logAction(s, userID, "draw_cards", map[string]interface{}{"drawn": drawn})
		return nil
	})
}

// PlayCard moves the card at index in the acting player's hand to the active slot.
func (m *Manager) PlayCard(roomID uuid.UUID, userID int64, index int) error {
	return m.transition(roomID, userID, func(s *Session) error {
		card, err := s.playCard(index)
		if err != nil {
			return err
		}
		m.logAction(s, userID, "play_card", map[string]interface{}{"card_id": card.ID, "index": index})
		return nil
	})
}

// Attack resolves the acting player's active card against the opponent's.
func (m *Manager) Attack(roomID uuid.UUID, userID int64) error {
	return m.transition(roomID, userID, func(s *Session) error {
		res, err := s.attack(m.Chart)
		if err != nil {
			return err
		}
		m.logAction(s, userID, "attack", map[string]interface{}{
			"damage":      res.Damage,
			"defender_hp": res.DefenderHP,
			"knocked_out": res.KnockedOut,
		})
		if res.Won {
			m.finish(s, userID, ReasonKnockout)
		}
		return nil
	})
}

// EndTurn passes the turn to the opponent.
func (m *Manager) EndTurn(roomID uuid.UUID, userID int64) error {
	return m.transition(roomID, userID, func(s *Session) error {
		s.passTurn()
		m.logAction(s, userID, "end_turn", nil)
		return nil
	})
}

// Forfeit ends the battle of the user bound to connectionID in favour of the opponent.
// It reports whether a battle was ended.
func (m *Manager) Forfeit(userID int64, connectionID uuid.UUID) bool {
	s, ok := m.Store.GetByUser(userID)
	if !ok {
		return false
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	p := s.Player(userID)
	if s.ended || p == nil || p.ConnectionID != connectionID {
		return false
	}
	winner := s.Opponent(userID).UserID
	m.logAction(s, userID, "forfeit", nil)
	m.finish(s, winner, ReasonForfeit)
	return true
}

// transition runs fn on the session under its lock after the existence and turn checks,
// then pushes fresh views unless the battle ended. A failing fn must leave s untouched.
func (m *Manager) transition(roomID uuid.UUID, userID int64, fn func(s *Session) error) error {
	s, ok := m.Store.Get(roomID)
	if !ok {
		return apperr.NotFound("game %s not found", roomID)
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.ended {
		return apperr.NotFound("game %s not found", roomID)
	}
	if s.CurrentTurnUserID != userID {
		return apperr.Authorization("not your turn")
	}

	turnID := s.TurnID
	if err := fn(s); err != nil {
		return err
	}
	if s.ended {
		return nil
	}
	if s.TurnID != turnID {
		m.scheduleTurnTimer(s)
	}
	m.pushViews(s)
	return nil
}

// finish ends s with winner, removes it from the store and notifies both seats once.
// Assumes lock is held.
func (m *Manager) finish(s *Session, winner int64, reason EndReason) {
	if s.ended {
		return
	}
	s.ended = true
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	m.Store.Delete(s)

	loser := s.Opponent(winner).UserID
	scores := make(map[int64]int, len(s.Players))
	for _, p := range s.Players {
		scores[p.UserID] = p.Score
	}
	m.logAction(s, winner, "game_end", map[string]interface{}{
		"winner_user_id": winner,
		"reason":         string(reason),
	})
	m.logger.WithFields(logrus.Fields{
		"room":   s.RoomID,
		"winner": winner,
		"reason": reason,
	}).Info("battle ended")

	ended := Event{Type: EventGameEnded, Payload: GameEndedPayload{RoomID: s.RoomID, Winner: winner, Reason: reason}}
	for _, p := range s.Players {
		m.send(p.ConnectionID, ended)
	}
	if m.OnGameEnd != nil {
		m.OnGameEnd(Result{RoomID: s.RoomID, WinnerUserID: winner, LoserUserID: loser, Reason: reason, Scores: scores})
	}
}

// pushViews sends each participant its redacted snapshot. Assumes lock is held.
func (m *Manager) pushViews(s *Session) {
	for _, p := range s.Players {
		m.send(p.ConnectionID, Event{Type: EventGameStateUpdated, Payload: Project(s, p.ConnectionID)})
	}
}

func (m *Manager) send(connectionID uuid.UUID, ev Event) {
	if m.SendFn == nil {
		m.logger.Warnf("SendFn is nil, dropping %s for connection %s", ev.Type, connectionID)
		return
	}
	m.SendFn(connectionID, ev)
}

// scheduleTurnTimer restarts the turn timer if turns are timed. Assumes lock is held.
func (m *Manager) scheduleTurnTimer(s *Session) {
	if !m.Rules.HasTurnLimit() {
		return
	}
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	roomID, turnID := s.RoomID, s.TurnID
	s.turnTimer = time.AfterFunc(m.Rules.TurnTimeout, func() {
		m.expireTurn(roomID, turnID)
	})
}

// expireTurn passes the turn if turnID is still current. Stale timers are ignored.
func (m *Manager) expireTurn(roomID uuid.UUID, turnID int) {
	s, ok := m.Store.Get(roomID)
	if !ok {
		return
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.ended || s.TurnID != turnID {
		m.logger.Debugf("Room %s: stale turn timer for turn %d ignored (current %d)", roomID, turnID, s.TurnID)
		return
	}
	timedOut := s.CurrentTurnUserID
	m.logger.Infof("Room %s: user %d timed out on turn %d", roomID, timedOut, turnID)
	s.passTurn()
	m.logAction(s, timedOut, "turn_timeout", map[string]interface{}{"turn": turnID})
	m.scheduleTurnTimer(s)
	m.pushViews(s)
}

// logAction appends to the session's action log and queues it for publishing.
// Assumes lock is held.
func (m *Manager) logAction(s *Session, actorID int64, actionType string, payload map[string]interface{}) {
	s.actionIndex++
	if m.Actions == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	record := cache.ActionRecord{
		RoomID:        s.RoomID,
		ActionIndex:   s.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}

	m.actionMu.Lock()
	defer m.actionMu.Unlock()
	if m.actionsClose {
		return
	}
	if m.actionQueue == nil {
		m.actionQueue = make(chan cache.ActionRecord, actionQueueSize)
		m.actionsDone = make(chan struct{})
		go m.publishActions(m.Actions, m.actionQueue, m.actionsDone)
	}
	select {
	case m.actionQueue <- record:
	default:
		m.logger.Warnf("Room %s: action queue full, dropped action %d (%s)", record.RoomID, record.ActionIndex, actionType)
	}
}

// publishActions drains queue in order until it is closed.
func (m *Manager) publishActions(pub ActionPublisher, queue <-chan cache.ActionRecord, done chan<- struct{}) {
	defer close(done)
	for rec := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := pub.PublishAction(ctx, rec); err != nil {
			m.logger.Warnf("Room %s: failed to publish action %d: %v", rec.RoomID, rec.ActionIndex, err)
		}
		cancel()
	}
}

// Close stops accepting actions and waits until the queued ones are published or ctx
// expires.
func (m *Manager) Close(ctx context.Context) error {
	m.actionMu.Lock()
	if m.actionsClose {
		m.actionMu.Unlock()
		return nil
	}
	m.actionsClose = true
	done := m.actionsDone
	if m.actionQueue != nil {
		close(m.actionQueue)
	}
	m.actionMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
