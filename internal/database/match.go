// internal/database/match.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/arena/internal/cache"
)

// Match statuses stored in matches.status.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusForfeit    = "forfeit"
	StatusAbandoned  = "abandoned"
)

// MatchStart describes a battle that just began.
type MatchStart struct {
	RoomID      uuid.UUID
	HostUserID  int64
	GuestUserID int64
	HostDeckID  int64
	GuestDeckID int64
	// TurnTimeout is the turn limit the battle runs under, zero when turns are untimed.
	TurnTimeout time.Duration
	StartedAt   time.Time
}

// MatchStore records battle outcomes and their action history. Rows are written for
// auditing only; nothing reads them back to resume a battle.
type MatchStore struct {
	pool *pgxpool.Pool
}

func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// RecordMatchStart inserts the in-progress row for a battle.
func (s *MatchStore) RecordMatchStart(ctx context.Context, m MatchStart) error {
	q := `
		INSERT INTO matches (id, host_user_id, guest_user_id, host_deck_id, guest_deck_id, status, turn_timeout_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, q, m.RoomID, m.HostUserID, m.GuestUserID, m.HostDeckID, m.GuestDeckID,
		StatusInProgress, m.TurnTimeout.Milliseconds(), m.StartedAt)
	if err != nil {
		return fmt.Errorf("record match start %s: %w", m.RoomID, err)
	}
	return nil
}

// RecordMatchEnd stores the winner and closes the match with status. A match the
// historian gave up on as abandoned is still closed with its real outcome.
func (s *MatchStore) RecordMatchEnd(ctx context.Context, roomID uuid.UUID, winnerUserID int64, status, reason string) error {
	q := `
		UPDATE matches
		SET status = $2, winner_user_id = $3, end_reason = $4, ended_at = NOW()
		WHERE id = $1 AND status IN ('in_progress', 'abandoned')
	`
	tag, err := s.pool.Exec(ctx, q, roomID, status, winnerUserID, reason)
	if err != nil {
		return fmt.Errorf("record match end %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record match end %s: no open match row", roomID)
	}
	return nil
}

// InsertActions writes a batch of action records in a single transaction. Replayed
// records are ignored.
func (s *MatchStore) InsertActions(ctx context.Context, records []cache.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		q := `
			INSERT INTO match_actions (match_id, action_index, actor_user_id, action_type, action_payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (match_id, action_index) DO NOTHING
		`
		for _, rec := range records {
			payload, err := json.Marshal(rec.ActionPayload)
			if err != nil {
				return fmt.Errorf("marshal payload of action %d: %w", rec.ActionIndex, err)
			}
			batch.Queue(q, rec.RoomID, rec.ActionIndex, rec.ActorUserID, rec.ActionType, payload, time.UnixMilli(rec.Timestamp))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert %d actions: %w", len(records), err)
	}
	return nil
}

// TimedMatchesInProgress returns the turn limit of every open match that runs under one.
// Untimed matches may legitimately stall forever and are left out.
func (s *MatchStore) TimedMatchesInProgress(ctx context.Context) (map[uuid.UUID]time.Duration, error) {
	q := `SELECT id, turn_timeout_ms FROM matches WHERE status = 'in_progress' AND turn_timeout_ms > 0`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query timed matches: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Duration)
	for rows.Next() {
		var (
			id uuid.UUID
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, fmt.Errorf("scan timed match: %w", err)
		}
		out[id] = time.Duration(ms) * time.Millisecond
	}
	return out, rows.Err()
}

// MarkMatchAbandoned closes a match that is still in progress. It reports whether a row
// changed.
func (s *MatchStore) MarkMatchAbandoned(ctx context.Context, roomID uuid.UUID) (bool, error) {
	q := `
		UPDATE matches
		SET status = 'abandoned', ended_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`
	tag, err := s.pool.Exec(ctx, q, roomID)
	if err != nil {
		return false, fmt.Errorf("mark match %s abandoned: %w", roomID, err)
	}
	return tag.RowsAffected() > 0, nil
}
