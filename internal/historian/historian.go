// internal/historian/historian.go
package historian

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// popTimeout bounds each blocking pop so cancellation is noticed promptly.
const popTimeout = 3 * time.Second

// Queue yields raw action records.
type Queue interface {
	// Pop waits up to timeout for the next entry. ok is false when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (payload string, ok bool, err error)
}

// Store persists action batches and closes idle matches.
type Store interface {
	InsertActions(ctx context.Context, records []cache.ActionRecord) error
	MarkMatchAbandoned(ctx context.Context, roomID uuid.UUID) (bool, error)
	TimedMatchesInProgress(ctx context.Context) (map[uuid.UUID]time.Duration, error)
}

// RedisQueue pops entries pushed by cache.Publisher.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = cache.DefaultQueueName
	}
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// Options tunes batching and the abandoned-match sweep.
type Options struct {
	BatchSize         int
	FlushInterval     time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

// activity tracks a timed match. A live timed match logs at least one action per turn
// limit, so silence past idleLimit means the server lost it.
type activity struct {
	last      time.Time
	idleLimit time.Duration
}

// Service drains the action queue into the database in batches and marks timed matches
// that went quiet as abandoned. Untimed matches may wait on a player forever and are
// never swept.
type Service struct {
	queue  Queue
	store  Store
	opts   Options
	logger *logrus.Logger

	batchMu sync.Mutex
	batch   []cache.ActionRecord

	lastActivity sync.Map // uuid.UUID -> activity
	now          func() time.Time
}

func New(logger *logrus.Logger, queue Queue, store Store, opts Options) *Service {
	return &Service{
		queue:  queue,
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Run consumes the queue until ctx is cancelled. Flushes and sweeps run on a gocron
// scheduler; a final flush happens on the way out.
func (s *Service) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(s.opts.FlushInterval),
		gocron.NewTask(func() { s.Flush(ctx) }),
	); err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(s.opts.SweepInterval),
		gocron.NewTask(func() { s.SweepInactive(ctx) }),
	); err != nil {
		return err
	}
	s.Resume(ctx)
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			s.logger.Warnf("historian scheduler shutdown: %v", err)
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Flush(flushCtx)
	}()

	s.logger.Info("historian consuming action queue")
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, ok, err := s.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("BLPop: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		s.Handle(ctx, payload)
	}
}

// Handle decodes one queue entry and adds it to the pending batch.
func (s *Service) Handle(ctx context.Context, payload string) {
	record, err := cache.DecodeActionRecord(payload)
	if err != nil {
		s.logger.Warnf("invalid action record: %v", err)
		return
	}
	s.track(record)

	s.batchMu.Lock()
	s.batch = append(s.batch, record)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

func (s *Service) track(record cache.ActionRecord) {
	switch record.ActionType {
	case "game_end":
		s.lastActivity.Delete(record.RoomID)
	case "game_start":
		if limit := turnLimit(record.ActionPayload); limit > 0 {
			s.lastActivity.Store(record.RoomID, activity{last: s.now(), idleLimit: s.idleLimit(limit)})
		}
	default:
		if v, ok := s.lastActivity.Load(record.RoomID); ok {
			a := v.(activity)
			a.last = s.now()
			s.lastActivity.Store(record.RoomID, a)
		}
	}
}

// Resume starts tracking the timed matches that were open before this process started.
func (s *Service) Resume(ctx context.Context) {
	timed, err := s.store.TimedMatchesInProgress(ctx)
	if err != nil {
		s.logger.Warnf("failed to load open timed matches: %v", err)
		return
	}
	now := s.now()
	for roomID, limit := range timed {
		s.lastActivity.LoadOrStore(roomID, activity{last: now, idleLimit: s.idleLimit(limit)})
	}
	if len(timed) > 0 {
		s.logger.Infof("Tracking %d open timed match(es)", len(timed))
	}
}

// idleLimit is the silence after which a match with the given turn limit is abandoned.
func (s *Service) idleLimit(turn time.Duration) time.Duration {
	if twoTurns := 2 * turn; twoTurns > s.opts.InactivityTimeout {
		return twoTurns
	}
	return s.opts.InactivityTimeout
}

// turnLimit reads the turn_timeout_ms of a game_start payload.
func turnLimit(payload map[string]interface{}) time.Duration {
	switch ms := payload["turn_timeout_ms"].(type) {
	case float64:
		return time.Duration(ms) * time.Millisecond
	case int64:
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}

// Flush writes the pending batch. On failure the records are kept for the next attempt.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = nil
	s.batchMu.Unlock()

	if err := s.store.InsertActions(ctx, pending); err != nil {
		s.logger.Errorf("flush %d actions: %v", len(pending), err)
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.Debugf("Flushed %d actions to DB.", len(pending))
}

// SweepInactive marks timed matches that stayed silent past their idle limit as
// abandoned.
func (s *Service) SweepInactive(ctx context.Context) {
	now := s.now()
	s.lastActivity.Range(func(key, val interface{}) bool {
		roomID, ok1 := key.(uuid.UUID)
		a, ok2 := val.(activity)
		if !ok1 || !ok2 || now.Sub(a.last) <= a.idleLimit {
			return true
		}
		changed, err := s.store.MarkMatchAbandoned(ctx, roomID)
		if err != nil {
			s.logger.Warnf("failed to mark match %s abandoned: %v", roomID, err)
			return true
		}
		s.lastActivity.Delete(roomID)
		if changed {
			s.logger.Infof("Marked match %s as abandoned due to inactivity.", roomID)
		}
		return true
	})
}

// Pending returns the number of records waiting to be flushed.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}
