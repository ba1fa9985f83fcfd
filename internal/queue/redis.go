package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jobField = "job"

type RedisOptions struct {
	Stream       string
	Group        string
	Consumer     string
	ScheduledKey string
	PromoteBatch int
	PollInterval time.Duration // promote and reclaim cadence
	BlockTimeout time.Duration // XREADGROUP block
	// VisibilityTimeout is how long a pulled, un-acked job stays with its
	// consumer before another consumer may claim it.
	VisibilityTimeout time.Duration
	Clock             clock.Clock
	Logger            *zap.Logger
}

// RedisQueue keeps ready jobs in a Redis stream read through a consumer
// group, and delayed jobs in the Scheduler's sorted set.
type RedisQueue struct {
	rdb   *redis.Client
	opts  RedisOptions
	sched *Scheduler

	mu          sync.Mutex
	lastReclaim time.Time
	reclaimFrom string
}

func NewRedisQueue(ctx context.Context, rdb *redis.Client, opts RedisOptions) (*RedisQueue, error) {
	if opts.Stream == "" || opts.Group == "" {
		return nil, fmt.Errorf("redis queue: stream and group are required")
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer"
	}
	if opts.ScheduledKey == "" {
		opts.ScheduledKey = opts.Stream + ":scheduled"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 2 * time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	opts.Clock = clock.OrReal(opts.Clock)
	opts.Logger = logger.OrNop(opts.Logger)

	err := rdb.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &RedisQueue{
		rdb:         rdb,
		opts:        opts,
		sched:       NewScheduler(rdb, opts.ScheduledKey, opts.PromoteBatch, opts.Logger),
		reclaimFrom: "0-0",
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job model.Job) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{jobField: string(raw)},
	}).Err()
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, job model.Job, at time.Time) error {
	if !at.After(q.opts.Clock.Now()) {
		return q.Enqueue(ctx, job)
	}
	return q.sched.Schedule(ctx, job, at)
}

func (q *RedisQueue) Pull(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if msg, ok, err := q.reclaim(ctx); err != nil {
			return nil, err
		} else if ok {
			if d := q.delivery(ctx, msg); d != nil {
				return d, nil
			}
			continue
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    1,
			Block:    q.opts.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				if d := q.delivery(ctx, msg); d != nil {
					return d, nil
				}
			}
		}
	}
}

// reclaim takes over one message another consumer pulled but did not ack
// within the visibility timeout, at most once per poll interval. The cursor is
// read and written under mu; the round trip runs without it.
func (q *RedisQueue) reclaim(ctx context.Context) (redis.XMessage, bool, error) {
	now := q.opts.Clock.Now()
	q.mu.Lock()
	if now.Sub(q.lastReclaim) < q.opts.PollInterval {
		q.mu.Unlock()
		return redis.XMessage{}, false, nil
	}
	start := q.reclaimFrom
	q.mu.Unlock()

	msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.VisibilityTimeout,
		Start:    start,
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(msgs) == 0 {
		q.lastReclaim = now
		q.reclaimFrom = "0-0"
		return redis.XMessage{}, false, nil
	}
	q.reclaimFrom = next
	q.opts.Logger.Info("reclaimed stale delivery job", zap.String("message_id", msgs[0].ID))
	return msgs[0], true, nil
}

// delivery decodes msg; a poison message is acked and nil is returned.
func (q *RedisQueue) delivery(ctx context.Context, msg redis.XMessage) *Delivery {
	raw, _ := msg.Values[jobField].(string)
	job, err := decode([]byte(raw))
	if err != nil {
		q.opts.Logger.Error("dropping undecodable job", zap.String("message_id", msg.ID), zap.Error(err))
		_ = q.ack(ctx, msg.ID)
		return nil
	}
	id := msg.ID
	return &Delivery{Job: job, ack: func(ctx context.Context) error { return q.ack(ctx, id) }}
}

func (q *RedisQueue) ack(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, q.opts.Stream, q.opts.Group, id)
		p.XDel(ctx, q.opts.Stream, id)
		return nil
	})
	return err
}

// Run promotes due scheduled jobs into the stream until ctx is done.
func (q *RedisQueue) Run(ctx context.Context) error {
	return runPromoter(ctx, q.opts.PollInterval, q.opts.Clock, q.opts.Logger, func(ctx context.Context, now time.Time) (int, error) {
		return q.sched.PromoteToStream(ctx, now, q.opts.Stream)
	})
}

func (q *RedisQueue) Close() error { return nil }

func runPromoter(ctx context.Context, every time.Duration, clk clock.Clock, log *zap.Logger,
	promote func(context.Context, time.Time) (int, error)) error {
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			n, err := promote(ctx, clk.Now())
			if err != nil && ctx.Err() == nil {
				log.Warn("promote scheduled jobs", zap.Error(err))
			}
			if n > 0 {
				log.Debug("promoted scheduled jobs", zap.Int("count", n))
			}
		}
	}
}
