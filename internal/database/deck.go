// internal/database/deck.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/arena/internal/models"
)

// RequiredDeckSize is the number of cards a playable deck holds.
const RequiredDeckSize = 10

// DeckStore reads decks from the catalog tables.
type DeckStore struct {
	pool *pgxpool.Pool
}

func NewDeckStore(pool *pgxpool.Pool) *DeckStore {
	return &DeckStore{pool: pool}
}

// ValidateDeck reports whether deckID exists, belongs to userID and holds exactly
// RequiredDeckSize cards. Only storage failures are returned as errors.
func (s *DeckStore) ValidateDeck(ctx context.Context, deckID, userID int64) (bool, error) {
	q := `
		SELECT d."userId", COUNT(dc."cardId")
		FROM "Deck" d
		LEFT JOIN "DeckCard" dc ON dc."deckId" = d.id
		WHERE d.id = $1
		GROUP BY d."userId"
	`
	var owner, count int64
	err := s.pool.QueryRow(ctx, q, deckID).Scan(&owner, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate deck %d: %w", deckID, err)
	}
	return owner == userID && count == RequiredDeckSize, nil
}

// LoadDeck returns the deck's cards in the order they were added.
func (s *DeckStore) LoadDeck(ctx context.Context, deckID int64) ([]models.Card, error) {
	q := `
		SELECT c.id, c.name, c.hp, c.attack, c.type::text
		FROM "DeckCard" dc
		JOIN "Card" c ON c.id = dc."cardId"
		WHERE dc."deckId" = $1
		ORDER BY dc.id
	`
	rows, err := s.pool.Query(ctx, q, deckID)
	if err != nil {
		return nil, fmt.Errorf("load deck %d: %w", deckID, err)
	}
	cards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Card, error) {
		var c models.Card
		var typ string
		if err := row.Scan(&c.ID, &c.Name, &c.HP, &c.Attack, &typ); err != nil {
			return models.Card{}, err
		}
		c.Type = models.ElementalType(typ)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load deck %d: %w", deckID, err)
	}
	return cards, nil
}
