package battle

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/apperr"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostID  int64 = 1
	guestID int64 = 2
)

// mockSender records every event per connection.
type mockSender struct {
	mu     sync.Mutex
	events map[uuid.UUID][]Event
}

func newMockSender() *mockSender {
	return &mockSender{events: make(map[uuid.UUID][]Event)}
}

func (m *mockSender) send(id uuid.UUID, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id] = append(m.events[id], ev)
}

func (m *mockSender) ofType(id uuid.UUID, typ EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events[id] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockSender) lastView(t *testing.T, id uuid.UUID) View {
	t.Helper()
	views := m.ofType(id, EventGameStateUpdated)
	require.NotEmpty(t, views)
	return views[len(views)-1].Payload.(View)
}

type mockPublisher struct {
	mu      sync.Mutex
	records []cache.ActionRecord
}

func (p *mockPublisher) PublishAction(_ context.Context, rec cache.ActionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *mockPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.ActionType)
	}
	return out
}

func makeDeck(base int64, typ models.ElementalType, hp, attack int) []models.Card {
	deck := make([]models.Card, DeckSize)
	for i := range deck {
		deck[i] = models.Card{ID: base + int64(i), Name: "card", HP: hp, Attack: attack, Type: typ}
	}
	return deck
}

func newTestManager(t *testing.T, rules models.BattleRules) (*Manager, *mockSender) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(logger, nil, rules)
	m.Shuffle = func(int, func(i, j int)) {}
	sender := newMockSender()
	m.SendFn = sender.send
	return m, sender
}

func startBattle(t *testing.T, m *Manager) (uuid.UUID, Seat, Seat) {
	t.Helper()
	host := Seat{UserID: hostID, ConnectionID: uuid.New(), DeckID: 10, Deck: makeDeck(100, models.TypeFire, 30, 10)}
	guest := Seat{UserID: guestID, ConnectionID: uuid.New(), DeckID: 20, Deck: makeDeck(200, models.TypeNormal, 30, 10)}
	roomID := uuid.New()
	require.NoError(t, m.Start(roomID, host, guest))
	return roomID, host, guest
}

func withSession(t *testing.T, m *Manager, roomID uuid.UUID, fn func(s *Session)) {
	t.Helper()
	s, ok := m.Store.Get(roomID)
	require.True(t, ok, "session %s should exist", roomID)
	s.Mu.Lock()
	defer s.Mu.Unlock()
	fn(s)
}

func TestStartDealsCopiesAndAnnounces(t *testing.T) {
	m, sender := newTestManager(t, models.BattleRules{})
	roomID, host, guest := startBattle(t, m)

	host.Deck[0].HP = 1 // must not leak into the session

	withSession(t, m, roomID, func(s *Session) {
		assert.Equal(t, hostID, s.CurrentTurnUserID)
		for _, p := range s.Players {
			assert.Len(t, p.DrawPile, DeckSize)
			assert.Empty(t, p.Hand)
			assert.Nil(t, p.ActiveCard)
			assert.Zero(t, p.Score)
		}
		assert.Equal(t, 30, s.Players[0].DrawPile[0].HP)
	})

	for _, conn := range []uuid.UUID{host.ConnectionID, guest.ConnectionID} {
		started := sender.ofType(conn, EventGameStarted)
		require.Len(t, started, 1)
		payload := started[0].Payload.(GameStartedPayload)
		assert.Equal(t, roomID, payload.RoomID)
		assert.Equal(t, hostID, payload.CurrentPlayerUserID)
		assert.Len(t, sender.ofType(conn, EventGameStateUpdated), 1)
	}
}

func TestStartShufflesPermutation(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	m.Shuffle = rand.Shuffle
	roomID, host, _ := startBattle(t, m)

	withSession(t, m, roomID, func(s *Session) {
		assert.ElementsMatch(t, host.Deck, s.Players[0].DrawPile)
	})
}

func TestStartRejectsSeatedUsers(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	startBattle(t, m)

	err := m.Start(uuid.New(),
		Seat{UserID: hostID, ConnectionID: uuid.New(), Deck: makeDeck(1, models.TypeFire, 10, 10)},
		Seat{UserID: 3, ConnectionID: uuid.New(), Deck: makeDeck(1, models.TypeFire, 10, 10)},
	)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.False(t, m.InSession(3))
	assert.Equal(t, 1, m.Store.Count())
}

func TestStartRejectsShortDeck(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	err := m.Start(uuid.New(),
		Seat{UserID: hostID, ConnectionID: uuid.New(), Deck: makeDeck(1, models.TypeFire, 10, 10)[:9]},
		Seat{UserID: guestID, ConnectionID: uuid.New(), Deck: makeDeck(1, models.TypeFire, 10, 10)},
	)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Zero(t, m.Store.Count())
}

func TestDrawCardsFillsHandAndIsIdempotent(t *testing.T) {
	m, sender := newTestManager(t, models.BattleRules{})
	roomID, host, _ := startBattle(t, m)

	require.NoError(t, m.DrawCards(roomID, hostID))
	first := sender.lastView(t, host.ConnectionID)
	assert.Len(t, first.Players[0].Hand, HandLimit)
	assert.Equal(t, DeckSize-HandLimit, first.Players[0].DrawPileSize)

	require.NoError(t, m.DrawCards(roomID, hostID))
	second := sender.lastView(t, host.ConnectionID)
	assert.Equal(t, first, second)
}

func TestDrawCardsStopsAtEmptyPile(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	withSession(t, m, roomID, func(s *Session) {
		p := s.Players[0]
		p.Discard = append(p.Discard, p.DrawPile[:8]...)
		p.DrawPile = p.DrawPile[8:]
	})
	require.NoError(t, m.DrawCards(roomID, hostID))
	withSession(t, m, roomID, func(s *Session) {
		assert.Len(t, s.Players[0].Hand, 2)
		assert.Empty(t, s.Players[0].DrawPile)
	})
}

func TestActionsOutOfTurnAreRejected(t *testing.T) {
	m, sender := newTestManager(t, models.BattleRules{})
	roomID, _, guest := startBattle(t, m)
	before := sender.lastView(t, guest.ConnectionID)

	for name, act := range map[string]func() error{
		"draw":     func() error { return m.DrawCards(roomID, guestID) },
		"play":     func() error { return m.PlayCard(roomID, guestID, 0) },
		"attack":   func() error { return m.Attack(roomID, guestID) },
		"end turn": func() error { return m.EndTurn(roomID, guestID) },
		"outsider": func() error { return m.DrawCards(roomID, 99) },
	} {
		err := act()
		require.Error(t, err, name)
		assert.True(t, apperr.IsCode(err, apperr.CodeAuthorization), name)
	}

	assert.Equal(t, before, sender.lastView(t, guest.ConnectionID))
	assert.Len(t, sender.ofType(guest.ConnectionID, EventGameStateUpdated), 1)
}

func TestUnknownRoomIsNotFound(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	err := m.EndTurn(uuid.New(), hostID)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestPlayCardValidation(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	err := m.PlayCard(roomID, hostID, 0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "empty hand")

	require.NoError(t, m.DrawCards(roomID, hostID))
	for _, idx := range []int{-1, HandLimit} {
		err := m.PlayCard(roomID, hostID, idx)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "index %d", idx)
	}

	require.NoError(t, m.PlayCard(roomID, hostID, 2))
	withSession(t, m, roomID, func(s *Session) {
		p := s.Players[0]
		require.NotNil(t, p.ActiveCard)
		assert.Equal(t, int64(102), p.ActiveCard.ID)
		assert.Len(t, p.Hand, HandLimit-1)
		assert.Equal(t, hostID, s.CurrentTurnUserID)
	})

	err = m.PlayCard(roomID, hostID, 0)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	assert.Contains(t, err.Error(), "already have an active card")
}

func TestAttackRequiresBothActiveCards(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	err := m.Attack(roomID, hostID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "you have no active card")

	require.NoError(t, m.DrawCards(roomID, hostID))
	require.NoError(t, m.PlayCard(roomID, hostID, 0))
	err = m.Attack(roomID, hostID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opponent has no active card")

	withSession(t, m, roomID, func(s *Session) {
		assert.Equal(t, hostID, s.CurrentTurnUserID)
	})
}

func TestAttackAppliesDamageAndPassesTurn(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	require.NoError(t, m.DrawCards(roomID, hostID))
	require.NoError(t, m.PlayCard(roomID, hostID, 0))
	require.NoError(t, m.EndTurn(roomID, hostID))
	require.NoError(t, m.DrawCards(roomID, guestID))
	require.NoError(t, m.PlayCard(roomID, guestID, 0))
	require.NoError(t, m.EndTurn(roomID, guestID))

	require.NoError(t, m.Attack(roomID, hostID))
	withSession(t, m, roomID, func(s *Session) {
		// FIRE vs NORMAL is neutral.
		assert.Equal(t, 20, s.Players[1].ActiveCard.HP)
		assert.Equal(t, guestID, s.CurrentTurnUserID)
		assert.Zero(t, s.Players[0].Score)
	})
}

func TestKnockoutScoresAndDiscards(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	withSession(t, m, roomID, func(s *Session) {
		host, guest := s.Players[0], s.Players[1]
		host.ActiveCard, host.DrawPile = &host.DrawPile[0], host.DrawPile[1:]
		guest.ActiveCard, guest.DrawPile = &guest.DrawPile[0], guest.DrawPile[1:]
		guest.ActiveCard.HP = 10
	})

	require.NoError(t, m.Attack(roomID, hostID))
	withSession(t, m, roomID, func(s *Session) {
		assert.Equal(t, 1, s.Players[0].Score)
		assert.Nil(t, s.Players[1].ActiveCard)
		assert.Len(t, s.Players[1].Discard, 1)
		assert.Equal(t, guestID, s.CurrentTurnUserID)
	})
}

func TestWinningAttackEndsBattle(t *testing.T) {
	m, sender := newTestManager(t, models.BattleRules{})
	var results []Result
	m.OnGameEnd = func(r Result) { results = append(results, r) }
	roomID, host, guest := startBattle(t, m)

	withSession(t, m, roomID, func(s *Session) {
		s.Players[0].Score = 2
		s.Players[0].ActiveCard = &models.Card{ID: 1, HP: 10, Attack: 5, Type: models.TypeNormal}
		s.Players[1].ActiveCard = &models.Card{ID: 2, HP: 1, Attack: 5, Type: models.TypeNormal}
	})
	viewsBefore := len(sender.ofType(host.ConnectionID, EventGameStateUpdated))

	require.NoError(t, m.Attack(roomID, hostID))

	for _, conn := range []uuid.UUID{host.ConnectionID, guest.ConnectionID} {
		ended := sender.ofType(conn, EventGameEnded)
		require.Len(t, ended, 1)
		payload := ended[0].Payload.(GameEndedPayload)
		assert.Equal(t, hostID, payload.Winner)
		assert.Equal(t, ReasonKnockout, payload.Reason)
	}
	assert.Len(t, sender.ofType(host.ConnectionID, EventGameStateUpdated), viewsBefore)

	require.Len(t, results, 1)
	assert.Equal(t, guestID, results[0].LoserUserID)
	assert.Equal(t, 3, results[0].Scores[hostID])

	_, ok := m.Store.Get(roomID)
	assert.False(t, ok)
	assert.False(t, m.InSession(hostID))
	assert.False(t, m.InSession(guestID))

	err := m.DrawCards(roomID, guestID)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	assert.False(t, m.Forfeit(guestID, guest.ConnectionID))
	assert.Len(t, sender.ofType(guest.ConnectionID, EventGameEnded), 1)
}

func TestForfeit(t *testing.T) {
	m, sender := newTestManager(t, models.BattleRules{ForfeitOnDisconnect: true})
	roomID, host, guest := startBattle(t, m)

	assert.False(t, m.Forfeit(guestID, uuid.New()), "only the bound connection forfeits")
	assert.True(t, m.Forfeit(guestID, guest.ConnectionID))

	ended := sender.ofType(host.ConnectionID, EventGameEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, GameEndedPayload{RoomID: roomID, Winner: hostID, Reason: ReasonForfeit}, ended[0].Payload)
	assert.Zero(t, m.Store.Count())
}

func TestTurnTimeoutPassesTurn(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{TurnTimeout: 20 * time.Millisecond})
	roomID, _, _ := startBattle(t, m)

	require.NoError(t, m.DrawCards(roomID, hostID))
	require.Eventually(t, func() bool {
		s, ok := m.Store.Get(roomID)
		if !ok {
			return false
		}
		s.Mu.Lock()
		defer s.Mu.Unlock()
		return s.TurnID >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestStaleTurnTimerIsIgnored(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	require.NoError(t, m.EndTurn(roomID, hostID))
	m.expireTurn(roomID, 0)

	withSession(t, m, roomID, func(s *Session) {
		assert.Equal(t, guestID, s.CurrentTurnUserID)
		assert.Equal(t, 1, s.TurnID)
	})
}

func TestActionsArePublished(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	pub := &mockPublisher{}
	m.Actions = pub
	roomID, _, guest := startBattle(t, m)

	require.NoError(t, m.DrawCards(roomID, hostID))
	require.NoError(t, m.EndTurn(roomID, hostID))
	require.True(t, m.Forfeit(guestID, guest.ConnectionID))

	require.Eventually(t, func() bool { return len(pub.types()) == 5 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"game_start", "draw_cards", "end_turn", "forfeit", "game_end"}, pub.types())
}

func TestConcurrentAttacksAreSerialized(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	roomID, _, _ := startBattle(t, m)

	withSession(t, m, roomID, func(s *Session) {
		host, guest := s.Players[0], s.Players[1]
		host.ActiveCard = &models.Card{ID: 1, HP: 100, Attack: 10, Type: models.TypeNormal}
		guest.ActiveCard = &models.Card{ID: 2, HP: 100, Attack: 10, Type: models.TypeNormal}
	})

	const attackers = 8
	var wg sync.WaitGroup
	errs := make(chan error, attackers)
	start := make(chan struct{})
	for i := 0; i < attackers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- m.Attack(roomID, hostID)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsCode(err, apperr.CodeAuthorization), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded, "only the first attack owns the turn")

	withSession(t, m, roomID, func(s *Session) {
		assert.Equal(t, 90, s.Players[1].ActiveCard.HP)
		assert.Equal(t, guestID, s.CurrentTurnUserID)
	})
}

func TestReserveHoldsOneRequestPerUser(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})

	require.NoError(t, m.Reserve(hostID))
	err := m.Reserve(hostID)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	// A reservation never blocks the user from being seated by someone else's join.
	startBattle(t, m)
	m.Release(hostID)

	err = m.Reserve(hostID)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "seated users cannot reserve")
	require.NoError(t, m.Reserve(3))
	m.Release(3)
	require.NoError(t, m.Reserve(3))
}

// slowPublisher makes every publish take a while so out-of-order delivery would show.
type slowPublisher struct {
	mockPublisher
	delay time.Duration
}

func (p *slowPublisher) PublishAction(ctx context.Context, rec cache.ActionRecord) error {
	time.Sleep(p.delay)
	return p.mockPublisher.PublishAction(ctx, rec)
}

func TestActionsArePublishedInOrder(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	pub := &slowPublisher{delay: time.Millisecond}
	m.Actions = pub
	roomID, _, _ := startBattle(t, m)

	for i := 0; i < 10; i++ {
		user := hostID
		if i%2 == 1 {
			user = guestID
		}
		require.NoError(t, m.DrawCards(roomID, user))
		require.NoError(t, m.EndTurn(roomID, user))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.records, 21)
	for i, rec := range pub.records {
		assert.Equal(t, i+1, rec.ActionIndex)
	}
	assert.Equal(t, "game_start", pub.records[0].ActionType)
	assert.Equal(t, int64(0), pub.records[0].ActionPayload["turn_timeout_ms"])
}

func TestCloseStopsPublishing(t *testing.T) {
	m, _ := newTestManager(t, models.BattleRules{})
	pub := &mockPublisher{}
	m.Actions = pub

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	roomID, _, _ := startBattle(t, m)
	require.NoError(t, m.EndTurn(roomID, hostID))
	assert.Empty(t, pub.types())
}

// TestRandomPlayKeepsInvariants drives a battle with random actions and checks card
// conservation, hand size, score range and turn ownership after every step.
func TestRandomPlayKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for game := 0; game < 20; game++ {
		m, _ := newTestManager(t, models.BattleRules{})
		m.Shuffle = rng.Shuffle
		host := Seat{UserID: hostID, ConnectionID: uuid.New(), Deck: makeDeck(100, models.TypeWater, 25, 12)}
		guest := Seat{UserID: guestID, ConnectionID: uuid.New(), Deck: makeDeck(200, models.TypeFire, 20, 9)}
		roomID := uuid.New()
		require.NoError(t, m.Start(roomID, host, guest))

		for step := 0; step < 400; step++ {
			actor := hostID
			if rng.IntN(2) == 0 {
				actor = guestID
			}
			switch rng.IntN(4) {
			case 0:
				_ = m.DrawCards(roomID, actor)
			case 1:
				_ = m.PlayCard(roomID, actor, rng.IntN(7)-1)
			case 2:
				_ = m.Attack(roomID, actor)
			case 3:
				if rng.IntN(3) == 0 {
					_ = m.EndTurn(roomID, actor)
				}
			}

			s, ok := m.Store.Get(roomID)
			if !ok {
				err := m.DrawCards(roomID, hostID)
				require.True(t, apperr.IsCode(err, apperr.CodeNotFound))
				break
			}
			s.Mu.Lock()
			require.Contains(t, []int64{hostID, guestID}, s.CurrentTurnUserID)
			for _, p := range s.Players {
				total := len(p.DrawPile) + len(p.Hand) + len(p.Discard)
				if p.ActiveCard != nil {
					total++
				}
				require.Equal(t, DeckSize, total)
				require.LessOrEqual(t, len(p.Hand), HandLimit)
				require.GreaterOrEqual(t, p.Score, 0)
				require.Less(t, p.Score, WinningScore)
			}
			s.Mu.Unlock()
		}
	}
}
