package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// moveDue moves up to ARGV[2] members scored at or below ARGV[1] from the set
// into the stream as field ARGV[3]. The script runs as one unit, so a member
// is either still scheduled or already in the stream.
var moveDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(items) do
  redis.call('XADD', KEYS[2], '*', ARGV[3], m)
  redis.call('ZREM', KEYS[1], m)
end
return #items
`)

// removeIfDue drops ARGV[1] only while its score is still at or below
// ARGV[2]; a job rescheduled later in the meantime stays.
var removeIfDue = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if s and tonumber(s) <= tonumber(ARGV[2]) then
  return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// Scheduler holds delayed jobs in a Redis sorted set scored by due time in
// unix milliseconds. The member is the encoded job, so scheduling the same
// job twice keeps one entry.
type Scheduler struct {
	rdb   *redis.Client
	key   string
	batch int
	log   *zap.Logger
}

func NewScheduler(rdb *redis.Client, key string, batch int, log *zap.Logger) *Scheduler {
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{rdb: rdb, key: key, batch: batch, log: logger.OrNop(log)}
}

func (s *Scheduler) Schedule(ctx context.Context, job model.Job, at time.Time) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(at.UnixMilli()), Member: string(raw)}).Err()
}

// PromoteToStream moves every job due at now into stream inside Redis.
// Members are copied as they are; the stream reader drops undecodable ones.
func (s *Scheduler) PromoteToStream(ctx context.Context, now time.Time, stream string) (int, error) {
	moved := 0
	for {
		n, err := moveDue.Run(ctx, s.rdb, []string{s.key, stream},
			strconv.FormatInt(now.UnixMilli(), 10), s.batch, jobField).Int()
		if err != nil {
			return moved, err
		}
		moved += n
		if n < s.batch {
			return moved, nil
		}
	}
}

// Promote hands every job due at now to push and removes it from the set only
// after push returned. A crash in between leaves the job scheduled, so it may
// be pushed twice but is never lost.
func (s *Scheduler) Promote(ctx context.Context, now time.Time, push func(context.Context, model.Job) error) (int, error) {
	score := strconv.FormatInt(now.UnixMilli(), 10)
	moved := 0
	for {
		items, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
			Min: "-inf", Max: score, Count: int64(s.batch),
		}).Result()
		if err != nil {
			return moved, err
		}

		for _, member := range items {
			job, err := decode([]byte(member))
			if err != nil {
				s.log.Error("dropping undecodable scheduled job", zap.String("member", member), zap.Error(err))
				if err := s.rdb.ZRem(ctx, s.key, member).Err(); err != nil {
					return moved, err
				}
				continue
			}
			if err := push(ctx, job); err != nil {
				return moved, err
			}
			if err := removeIfDue.Run(ctx, s.rdb, []string{s.key}, member, score).Err(); err != nil {
				return moved, err
			}
			moved++
		}

		if len(items) < s.batch {
			return moved, nil
		}
	}
}

// Pending counts jobs waiting in the set.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.key).Result()
}
