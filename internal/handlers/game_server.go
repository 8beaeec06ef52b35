// internal/handlers/game_server.go
package handlers

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/battle"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/lobby"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// DeckService validates and loads decks from the catalog.
type DeckService interface {
	ValidateDeck(ctx context.Context, deckID, userID int64) (bool, error)
	LoadDeck(ctx context.Context, deckID int64) ([]models.Card, error)
}

// MatchRecorder stores the start and outcome of every battle.
type MatchRecorder interface {
	RecordMatchStart(ctx context.Context, m database.MatchStart) error
	RecordMatchEnd(ctx context.Context, roomID uuid.UUID, winnerUserID int64, status, reason string) error
}

// Options wires a GameServer's collaborators. Only Decks is required.
type Options struct {
	Decks          DeckService
	Matches        MatchRecorder
	Actions        battle.ActionPublisher
	Chart          *battle.TypeChart
	Rules          models.BattleRules
	OutboundBuffer int
}

// GameServer ties the connection hub, the waiting-room registry and the battle manager
// together. Every client event goes through HandleMessage.
type GameServer struct {
	Hub     *hub.Hub
	Rooms   *lobby.RoomStore
	Battles *battle.Manager

	decks          DeckService
	matches        MatchRecorder
	rules          models.BattleRules
	outboundBuffer int
	logger         *logrus.Logger

	// listMu serializes room list broadcasts so the last one sent is never stale.
	listMu sync.Mutex
	// matchWrites holds, per room, a channel closed once the start row is written.
	matchWrites sync.Map
}

func NewGameServer(logger *logrus.Logger, opts Options) *GameServer {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 32
	}
	gs := &GameServer{
		Hub:            hub.New(),
		Rooms:          lobby.NewRoomStore(),
		Battles:        battle.NewManager(logger, opts.Chart, opts.Rules),
		decks:          opts.Decks,
		matches:        opts.Matches,
		rules:          opts.Rules,
		outboundBuffer: opts.OutboundBuffer,
		logger:         logger,
	}
	gs.Battles.Actions = opts.Actions
	gs.Battles.SendFn = gs.sendBattleEvent
	if gs.matches != nil {
		gs.Battles.OnStart = gs.recordMatchStart
		gs.Battles.OnGameEnd = gs.recordMatchEnd
	}
	return gs
}

// Connect registers an authenticated connection.
func (gs *GameServer) Connect(c *hub.Connection) {
	gs.Hub.Register(c)
}

// Disconnect unregisters c. Rooms hosted by a user with no connection left are dropped,
// and the battle bound to c is forfeited when the rules say so.
func (gs *GameServer) Disconnect(c *hub.Connection) {
	if stillConnected := gs.Hub.Unregister(c); !stillConnected {
		if removed := gs.Rooms.RemoveByHost(c.UserID); len(removed) > 0 {
			gs.logger.WithField("user", c.UserID).Infof("dropped %d waiting room(s) of disconnected host", len(removed))
			gs.broadcastRooms()
		}
	}
	if gs.rules.ForfeitOnDisconnect {
		gs.Battles.Forfeit(c.UserID, c.ID)
	}
}

// HandleMessage decodes and dispatches one client frame. Every failure, a panic included,
// is reported to c only.
func (gs *GameServer) HandleMessage(ctx context.Context, c *hub.Connection, data []byte) {
	var msg ClientMessage
	defer func() {
		if r := recover(); r != nil {
			gs.logger.WithFields(logrus.Fields{
				"user":  c.UserID,
				"event": msg.Type,
			}).Errorf("panic while handling message: %v\n%s", r, debug.Stack())
			c.WriteError("internal server error", string(apperr.CodeInternal))
		}
	}()

	if err := json.Unmarshal(data, &msg); err != nil {
		gs.reportError(c, "", apperr.Validation("malformed message"))
		return
	}
	if err := gs.dispatch(ctx, c, msg); err != nil {
		gs.reportError(c, msg.Type, err)
	}
}

func (gs *GameServer) dispatch(ctx context.Context, c *hub.Connection, msg ClientMessage) error {
	switch msg.Type {
	case EventCreateRoom:
		var p createRoomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		deckID, err := requireDeckID(p.DeckID)
		if err != nil {
			return err
		}
		return gs.CreateRoom(ctx, c, deckID)

	case EventGetRooms:
		gs.ListRooms(c)
		return nil

	case EventJoinRoom:
		var p joinRoomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		roomID, err := parseRoomID(p.RoomID)
		if err != nil {
			return err
		}
		deckID, err := requireDeckID(p.DeckID)
		if err != nil {
			return err
		}
		return gs.JoinRoom(ctx, c, roomID, deckID)

	case EventDrawCards, EventAttack, EventEndTurn:
		var p roomPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		roomID, err := parseRoomID(p.RoomID)
		if err != nil {
			return err
		}
		switch msg.Type {
		case EventDrawCards:
			return gs.Battles.DrawCards(roomID, c.UserID)
		case EventAttack:
			return gs.Battles.Attack(roomID, c.UserID)
		default:
			return gs.Battles.EndTurn(roomID, c.UserID)
		}

	case EventPlayCard:
		var p playCardPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		roomID, err := parseRoomID(p.RoomID)
		if err != nil {
			return err
		}
		if p.CardIndex == nil {
			return apperr.Validation("cardIndex is required")
		}
		return gs.Battles.PlayCard(roomID, c.UserID, *p.CardIndex)

	case EventPing:
		c.Write(hub.Message{Type: EventPong})
		return nil

	default:
		return apperr.Validation("unknown event type %q", msg.Type)
	}
}

// CreateRoom opens a waiting room hosted by c with the given deck.
func (gs *GameServer) CreateRoom(ctx context.Context, c *hub.Connection, deckID int64) error {
	if err := gs.Battles.Reserve(c.UserID); err != nil {
		return err
	}
	defer gs.Battles.Release(c.UserID)

	deck, err := gs.loadOwnedDeck(ctx, c.UserID, deckID)
	if err != nil {
		return err
	}

	room := gs.Rooms.Create(c.Identity(), deckID, deck)
	// A join of one of c's other rooms may have seated c meanwhile. That join only drops
	// rooms that existed when it started, so this one is dropped here.
	if gs.Battles.InSession(c.UserID) {
		gs.Rooms.Remove(room.RoomID)
		return apperr.Validation("you are already in a game")
	}
	gs.logger.WithFields(logrus.Fields{"room": room.RoomID, "host": c.UserID, "deck": deckID}).Info("room created")
	c.Write(hub.Message{Type: EventRoomCreated, Payload: room})
	gs.broadcastRooms()
	return nil
}

// ListRooms replies to c with the rooms waiting for a guest.
func (gs *GameServer) ListRooms(c *hub.Connection) {
	c.Write(hub.Message{Type: EventRoomsList, Payload: gs.Rooms.List()})
}

// JoinRoom seats c as the guest of roomID and starts the battle. The guest's seat is
// reserved for the whole request and every check that can fail runs before the room is
// claimed, so a failed join leaves the room as it was.
func (gs *GameServer) JoinRoom(ctx context.Context, c *hub.Connection, roomID uuid.UUID, deckID int64) error {
	if err := gs.Battles.Reserve(c.UserID); err != nil {
		return err
	}
	defer gs.Battles.Release(c.UserID)

	room, err := gs.Rooms.Peek(roomID)
	if err != nil {
		return err
	}
	if room.HostID == c.UserID {
		return apperr.Validation("cannot join your own room")
	}
	guestDeck, err := gs.loadOwnedDeck(ctx, c.UserID, deckID)
	if err != nil {
		return err
	}

	handoff, err := gs.Rooms.Claim(roomID, c.UserID)
	if err != nil {
		return err
	}
	hostConn, ok := gs.Hub.ByUser(handoff.Room.HostID)
	if !ok {
		gs.dropRoom(roomID)
		return apperr.NotFound("room %s is no longer available", roomID)
	}

	host := battle.Seat{
		UserID:       handoff.Room.HostID,
		ConnectionID: hostConn.ID,
		DeckID:       handoff.Room.DeckID,
		Deck:         handoff.HostDeck,
	}
	guest := battle.Seat{
		UserID:       c.UserID,
		ConnectionID: c.ID,
		DeckID:       deckID,
		Deck:         guestDeck,
	}
	if err := gs.Battles.Start(roomID, host, guest); err != nil {
		gs.Rooms.Release(roomID, c.UserID)
		// Checked after the release: a battle seating the host from now on drops the
		// room itself.
		if gs.Battles.InSession(host.UserID) {
			gs.dropRoom(roomID)
			return apperr.NotFound("room %s is no longer available", roomID)
		}
		return err
	}

	gs.Rooms.Remove(roomID)
	gs.Rooms.RemoveByHost(host.UserID)
	gs.Rooms.RemoveByHost(guest.UserID)
	gs.broadcastRooms()
	return nil
}

// dropRoom destroys a room whose host can no longer play and tells everyone.
func (gs *GameServer) dropRoom(roomID uuid.UUID) {
	if gs.Rooms.Remove(roomID) {
		gs.broadcastRooms()
	}
}

// loadOwnedDeck validates deckID for userID and loads its cards.
func (gs *GameServer) loadOwnedDeck(ctx context.Context, userID, deckID int64) ([]models.Card, error) {
	ok, err := gs.decks.ValidateDeck(ctx, deckID, userID)
	if err != nil {
		return nil, apperr.Internal(err, "could not validate deck")
	}
	if !ok {
		return nil, apperr.Validation("invalid deck: it must exist, belong to you and hold exactly %d cards", battle.DeckSize)
	}
	cards, err := gs.decks.LoadDeck(ctx, deckID)
	if err != nil {
		return nil, apperr.Internal(err, "could not load deck")
	}
	if len(cards) != battle.DeckSize {
		return nil, apperr.Validation("deck %d holds %d cards, want %d", deckID, len(cards), battle.DeckSize)
	}
	return cards, nil
}

// broadcastRooms sends the current waiting-room list to every connection.
func (gs *GameServer) broadcastRooms() {
	gs.listMu.Lock()
	defer gs.listMu.Unlock()
	gs.Hub.Broadcast(hub.Message{Type: EventRoomsListUpdated, Payload: gs.Rooms.List()})
}

func (gs *GameServer) sendBattleEvent(connectionID uuid.UUID, ev battle.Event) {
	if !gs.Hub.SendTo(connectionID, hub.Message{Type: string(ev.Type), Payload: ev.Payload}) {
		gs.logger.Debugf("connection %s gone, dropped %s", connectionID, ev.Type)
	}
}

// reportError converts err into a scoped error frame. Internal causes are only logged.
func (gs *GameServer) reportError(c *hub.Connection, event string, err error) {
	code := apperr.PublicCode(err)
	entry := gs.logger.WithFields(logrus.Fields{
		"user":  c.UserID,
		"event": event,
		"code":  code,
	})
	if code == apperr.CodeInternal {
		entry.Errorf("request failed: %v", err)
	} else {
		entry.Debugf("request rejected: %v", err)
	}
	c.WriteError(apperr.PublicMessage(err), string(code))
}

func (gs *GameServer) recordMatchStart(s battle.Summary) {
	done := make(chan struct{})
	gs.matchWrites.Store(s.RoomID, done)
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := gs.matches.RecordMatchStart(ctx, database.MatchStart{
			RoomID:      s.RoomID,
			HostUserID:  s.Host.UserID,
			GuestUserID: s.Guest.UserID,
			HostDeckID:  s.Host.DeckID,
			GuestDeckID: s.Guest.DeckID,
			TurnTimeout: gs.rules.TurnTimeout,
			StartedAt:   s.StartedAt,
		})
		if err != nil {
			gs.logger.Errorf("failed to record match start %s: %v", s.RoomID, err)
		}
	}()
}

func (gs *GameServer) recordMatchEnd(r battle.Result) {
	started, _ := gs.matchWrites.LoadAndDelete(r.RoomID)
	status := database.StatusCompleted
	if r.Reason == battle.ReasonForfeit {
		status = database.StatusForfeit
	}
	go func() {
		if done, ok := started.(chan struct{}); ok {
			<-done
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gs.matches.RecordMatchEnd(ctx, r.RoomID, r.WinnerUserID, status, string(r.Reason)); err != nil {
			gs.logger.Errorf("failed to record match end %s: %v", r.RoomID, err)
		}
	}()
}
