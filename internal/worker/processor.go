package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/dispatcher"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/util"
	"go.uber.org/zap"
)

type SubscriptionGetter interface {
	Get(ctx context.Context, id string) (*model.Subscription, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, r dispatcher.Request) dispatcher.Result
}

type Scheduler interface {
	EnqueueAt(ctx context.Context, job model.Job, at time.Time) error
}

// Processor runs one delivery attempt for a job and records it.
type Processor struct {
	Webhooks      repository.WebhooksRepository
	Attempts      repository.AttemptsRepository
	Subscriptions SubscriptionGetter
	Client        Deliverer
	Queue         Scheduler
	Backoff       Backoff
	MaxRetries    int
	Clock         clock.Clock
	Log           *zap.Logger
}

func (p *Processor) clock() clock.Clock { return clock.OrReal(p.Clock) }
func (p *Processor) log() *zap.Logger   { return logger.OrNop(p.Log) }

// Process handles job. A returned error is an infrastructure failure and the
// job should be tried again later; delivery failures are recorded and return
// nil.
func (p *Processor) Process(ctx context.Context, job model.Job) error {
	log := p.log().With(zap.String("webhook_id", job.WebhookID), zap.Int("attempt", job.Attempt))

	wh, err := p.Webhooks.Get(ctx, job.WebhookID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("dropping job for unknown webhook")
		metrics.Jobs.WithLabelValues("dropped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}
	if wh.Status.Terminal() {
		log.Debug("dropping job for finished webhook", zap.String("status", wh.Status.String()))
		metrics.Jobs.WithLabelValues("dropped").Inc()
		return nil
	}

	latest, err := p.Attempts.Latest(ctx, wh.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		latest = nil
	case err != nil:
		return fmt.Errorf("load latest attempt: %w", err)
	}

	// An empty log means retention took the history; the job itself is then
	// the only record of where the webhook is.
	last := job.Attempt - 1
	if latest != nil {
		last = latest.AttemptNumber
	}
	switch {
	case last > job.Attempt:
		log.Debug("dropping stale job", zap.Int("latest_attempt", last))
		metrics.Jobs.WithLabelValues("dropped").Inc()
		return nil
	case last == job.Attempt:
		// Recorded by an earlier run that died before its follow-up.
		log.Info("replaying follow-up of recorded attempt")
		return p.settle(ctx, job, latest)
	case last != job.Attempt-1:
		log.Warn("dropping out-of-order job", zap.Int("latest_attempt", last))
		metrics.Jobs.WithLabelValues("dropped").Inc()
		return nil
	}

	if err := p.Webhooks.MarkProcessing(ctx, wh.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	attempt, err := p.attempt(ctx, job, wh)
	if err != nil {
		return err
	}

	inserted, err := p.Attempts.Insert(ctx, *attempt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if !inserted {
		stored, err := p.Attempts.Get(ctx, wh.ID, job.Attempt)
		if err != nil {
			return fmt.Errorf("load recorded attempt: %w", err)
		}
		log.Info("attempt already recorded by another worker", zap.String("outcome", stored.Outcome.String()))
		return p.settle(ctx, job, stored)
	}

	metrics.DeliveryAttempts.WithLabelValues(attempt.Outcome.String()).Inc()
	log.Info("delivery attempt recorded",
		zap.String("outcome", attempt.Outcome.String()),
		zap.Intp("status_code", attempt.HTTPStatusCode))
	return p.settle(ctx, job, attempt)
}

// attempt resolves the subscription, posts the payload and classifies the
// result. It does not write anything.
func (p *Processor) attempt(ctx context.Context, job model.Job, wh *model.Webhook) (*model.DeliveryAttempt, error) {
	a := &model.DeliveryAttempt{
		WebhookID:     wh.ID,
		AttemptNumber: job.Attempt,
	}

	sub, err := p.Subscriptions.Get(ctx, wh.SubscriptionID)
	if errors.Is(err, repository.ErrNotFound) {
		now := p.clock().Now()
		a.ID = util.NewIDAt(now)
		a.AttemptedAt = now
		a.Outcome = model.OutcomePermanentlyFailed
		a.ErrorDetails = ptr(fmt.Sprintf("Subscription %s not found.", wh.SubscriptionID))
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}

	req := dispatcher.Request{
		URL:       sub.TargetURL,
		Payload:   wh.Payload,
		Secret:    sub.SigningSecret(),
		WebhookID: wh.ID,
		Attempt:   job.Attempt,
	}
	if wh.EventType != nil {
		req.EventType = *wh.EventType
	}
	res := p.Client.Deliver(ctx, req)

	now := p.clock().Now()
	a.ID = util.NewIDAt(now)
	a.AttemptedAt = now
	if res.StatusCode != 0 {
		a.HTTPStatusCode = ptr(res.StatusCode)
	}
	if res.Detail != "" {
		a.ErrorDetails = ptr(res.Detail)
	}

	switch {
	case res.Succeeded():
		a.Outcome = model.OutcomeSucceeded
	case job.Attempt < p.MaxRetries:
		a.Outcome = model.OutcomeFailedAttempt
		a.NextAttemptAt = ptr(now.Add(p.Backoff.Delay(job.Attempt)))
	default:
		a.Outcome = model.OutcomePermanentlyFailed
	}
	return a, nil
}

// settle applies the follow-up of a recorded attempt: the terminal status,
// or the next attempt. Running it twice for the same attempt is harmless.
func (p *Processor) settle(ctx context.Context, job model.Job, a *model.DeliveryAttempt) error {
	if status := a.Outcome.WebhookStatus(); status != "" {
		if _, err := p.Webhooks.Finalize(ctx, job.WebhookID, status); err != nil {
			return fmt.Errorf("finalize webhook: %w", err)
		}
		metrics.Jobs.WithLabelValues("processed").Inc()
		return nil
	}

	at := p.clock().Now()
	if a.NextAttemptAt != nil {
		at = *a.NextAttemptAt
	}
	if err := p.Webhooks.MarkQueued(ctx, job.WebhookID); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	if err := p.Queue.EnqueueAt(ctx, job.Next(), at); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	metrics.Jobs.WithLabelValues("processed").Inc()
	return nil
}

func ptr[T any](v T) *T { return &v }
