package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/model"
)

// MemoryQueue is a channel-backed, process-local queue. Nothing survives a
// restart and Ack is a no-op; tests and single-process runs use it.
type MemoryQueue struct {
	ch    chan model.Job
	clock clock.Clock
	every time.Duration

	mu      sync.Mutex
	delayed map[model.Job]time.Time
	done    chan struct{}
	closed  bool
}

func NewMemoryQueue(size int, c clock.Clock) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		ch:      make(chan model.Job, size),
		clock:   clock.OrReal(c),
		every:   50 * time.Millisecond,
		delayed: map[model.Job]time.Time{},
		done:    make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job model.Job) error {
	if _, err := encode(job); err != nil {
		return err
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAt keeps one pending entry per job, like the Redis scheduler.
func (q *MemoryQueue) EnqueueAt(ctx context.Context, job model.Job, at time.Time) error {
	if !at.After(q.clock.Now()) {
		return q.Enqueue(ctx, job)
	}
	if _, err := encode(job); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.delayed[job] = at
	return nil
}

func (q *MemoryQueue) Pull(ctx context.Context) (*Delivery, error) {
	select {
	case job := <-q.ch:
		return &Delivery{Job: job}, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PromoteDue moves every delayed job due at the clock's now onto the ready
// channel and returns how many moved.
func (q *MemoryQueue) PromoteDue(ctx context.Context) int {
	now := q.clock.Now()
	q.mu.Lock()
	var due []model.Job
	for job, at := range q.delayed {
		if !at.After(now) {
			due = append(due, job)
			delete(q.delayed, job)
		}
	}
	q.mu.Unlock()

	moved := 0
	for _, job := range due {
		if err := q.Enqueue(ctx, job); err != nil {
			q.mu.Lock()
			q.delayed[job] = now
			q.mu.Unlock()
			continue
		}
		moved++
	}
	return moved
}

// Delayed returns a copy of the pending delayed jobs and their due times.
func (q *MemoryQueue) Delayed() map[model.Job]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[model.Job]time.Time, len(q.delayed))
	for j, at := range q.delayed {
		out[j] = at
	}
	return out
}

// Ready is the number of jobs waiting to be pulled.
func (q *MemoryQueue) Ready() int { return len(q.ch) }

func (q *MemoryQueue) Run(ctx context.Context) error {
	tick := time.NewTicker(q.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case <-tick.C:
			q.PromoteDue(ctx)
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
