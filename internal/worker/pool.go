package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/queue"
	"go.uber.org/zap"
)

type JobProcessor interface {
	Process(ctx context.Context, job model.Job) error
}

// Pool:
// - runs the queue's upkeep loop,
// - pulls jobs with one fetcher goroutine,
// - fans them out to Workers processors.
type Pool struct {
	Queue     queue.Queue
	Processor JobProcessor
	Workers   int

	// InfraRetryDelay is how long a job that hit an infrastructure error
	// waits before it is tried again.
	InfraRetryDelay time.Duration

	Clock clock.Clock
	Log   *zap.Logger
}

// Run blocks until ctx is cancelled and every in-flight job is finished.
func (p *Pool) Run(ctx context.Context) error {
	if p.Workers <= 0 {
		p.Workers = 16
	}
	if p.InfraRetryDelay <= 0 {
		p.InfraRetryDelay = 5 * time.Second
	}
	p.Clock = clock.OrReal(p.Clock)
	p.Log = logger.OrNop(p.Log)

	var upkeep sync.WaitGroup
	upkeep.Add(1)
	go func() {
		defer upkeep.Done()
		if err := p.Queue.Run(ctx); err != nil && ctx.Err() == nil {
			p.Log.Error("queue upkeep stopped", zap.Error(err))
		}
	}()

	in := make(chan *queue.Delivery, p.Workers)

	go func() {
		defer close(in)
		for {
			d, err := p.Queue.Pull(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
					return
				}
				p.Log.Warn("pull job", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			in <- d
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range in {
				p.handle(ctx, d)
			}
		}()
	}

	wg.Wait()
	upkeep.Wait()
	return nil
}

// handle processes d to completion even if ctx is cancelled meanwhile, so a
// shutdown never leaves half an attempt behind.
func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	work := context.WithoutCancel(ctx)
	log := p.Log.With(zap.String("webhook_id", d.Job.WebhookID), zap.Int("attempt", d.Job.Attempt))

	if err := p.Processor.Process(work, d.Job); err != nil {
		at := p.Clock.Now().Add(p.InfraRetryDelay)
		log.Error("process job", zap.Error(err), zap.Time("retry_at", at))
		if rerr := p.Queue.EnqueueAt(work, d.Job, at); rerr != nil {
			// Left un-acked; the queue hands it out again.
			log.Error("reschedule job", zap.Error(rerr))
			metrics.Jobs.WithLabelValues("failed").Inc()
			return
		}
		metrics.Jobs.WithLabelValues("rescheduled").Inc()
	}

	if err := d.Ack(work); err != nil {
		log.Warn("ack job", zap.Error(err))
	}
}
