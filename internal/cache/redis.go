// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for battle action logs.
const DefaultQueueName = "battle_actions"

// ActionRecord holds the minimal info needed by the historian to persist one battle step.
type ActionRecord struct {
	RoomID        uuid.UUID              `json:"room_id"`
	ActionIndex   int                    `json:"action_index"`
	ActorUserID   int64                  `json:"actor_user_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}

// Connect opens a Redis client and checks it with a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes action records onto a Redis list consumed by the historian.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// NewPublisher returns a Publisher writing to queue, or DefaultQueueName when empty.
func NewPublisher(rdb *redis.Client, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue}
}

// PublishAction serializes the record to JSON and RPUSHes it to the queue.
func (p *Publisher) PublishAction(ctx context.Context, record ActionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// DecodeActionRecord parses a queue entry produced by PublishAction.
func DecodeActionRecord(payload string) (ActionRecord, error) {
	var rec ActionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return ActionRecord{}, fmt.Errorf("failed to unmarshal ActionRecord: %w", err)
	}
	if rec.RoomID == uuid.Nil {
		return ActionRecord{}, fmt.Errorf("action record without room id")
	}
	return rec, nil
}
