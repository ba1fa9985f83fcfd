package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/kafka"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"go.uber.org/zap"
)

// Publisher is the producer side of a Kafka topic.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Fetcher is the consumer-group side of a Kafka topic.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
	Close() error
}

// KafkaQueue carries ready jobs on a Kafka topic. Kafka has no delayed
// delivery, so retries wait in the Redis scheduler and Run publishes them
// when due.
type KafkaQueue struct {
	producer Publisher
	consumer Fetcher // nil on the ingestion side
	sched    *Scheduler
	every    time.Duration
	clock    clock.Clock
	log      *zap.Logger
	commits  commitTracker
}

func NewKafkaQueue(producer Publisher, consumer Fetcher, sched *Scheduler, pollInterval time.Duration, c clock.Clock, log *zap.Logger) *KafkaQueue {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &KafkaQueue{
		producer: producer,
		consumer: consumer,
		sched:    sched,
		every:    pollInterval,
		clock:    clock.OrReal(c),
		log:      logger.OrNop(log),
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job model.Job) error {
	raw, err := encode(job)
	if err != nil {
		return err
	}
	return q.producer.Publish(ctx, []byte(job.WebhookID), raw)
}

func (q *KafkaQueue) EnqueueAt(ctx context.Context, job model.Job, at time.Time) error {
	if !at.After(q.clock.Now()) {
		return q.Enqueue(ctx, job)
	}
	return q.sched.Schedule(ctx, job, at)
}

func (q *KafkaQueue) Pull(ctx context.Context) (*Delivery, error) {
	if q.consumer == nil {
		return nil, ErrClosed
	}
	for {
		m, err := q.consumer.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		q.commits.fetched(m)
		job, err := decode(m.Value)
		if err != nil {
			// poison → commit, skip
			q.log.Error("dropping undecodable job",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
			_ = q.ack(ctx, m)
			continue
		}
		return &Delivery{Job: job, ack: func(ctx context.Context) error { return q.ack(ctx, m) }}, nil
	}
}

// ack commits up to the newest offset whose predecessors on the partition
// are all acked. Until then the commit waits for the slower jobs.
func (q *KafkaQueue) ack(ctx context.Context, m kafka.Message) error {
	upTo, ok := q.commits.acked(m)
	if !ok {
		return nil
	}
	return q.consumer.Commit(ctx, upTo)
}

func (q *KafkaQueue) Run(ctx context.Context) error {
	return runPromoter(ctx, q.every, q.clock, q.log, func(ctx context.Context, now time.Time) (int, error) {
		return q.sched.Promote(ctx, now, q.Enqueue)
	})
}

func (q *KafkaQueue) Close() error {
	err := q.producer.Close()
	if q.consumer != nil {
		if cerr := q.consumer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// commitTracker orders acks per partition. Workers finish jobs out of fetch
// order, and a Kafka commit covers every earlier offset of the partition.
type commitTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []int64 // fetch order, increasing
	acked    map[int64]kafka.Message
	highest  int64 // newest offset handed out for commit
}

func (t *commitTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parts == nil {
		t.parts = map[int]*partitionOffsets{}
	}
	p := t.parts[m.Partition]
	// A rebalance rewinds the partition to its committed offset.
	if p == nil || (len(p.inflight) > 0 && m.Offset <= p.inflight[len(p.inflight)-1]) {
		p = &partitionOffsets{acked: map[int64]kafka.Message{}, highest: m.Offset - 1}
		t.parts[m.Partition] = p
	}
	p.inflight = append(p.inflight, m.Offset)
}

// acked records m and returns the message to commit when the acked prefix of
// its partition grew.
func (t *commitTracker) acked(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil {
		return kafka.Message{}, false
	}
	i := sort.Search(len(p.inflight), func(i int) bool { return p.inflight[i] >= m.Offset })
	if i == len(p.inflight) || p.inflight[i] != m.Offset {
		return kafka.Message{}, false
	}
	p.acked[m.Offset] = m

	var last kafka.Message
	moved := false
	for len(p.inflight) > 0 {
		done, ok := p.acked[p.inflight[0]]
		if !ok {
			break
		}
		delete(p.acked, p.inflight[0])
		p.inflight = p.inflight[1:]
		last, moved = done, true
	}
	if !moved || last.Offset <= p.highest {
		return kafka.Message{}, false
	}
	p.highest = last.Offset
	return last, true
}
