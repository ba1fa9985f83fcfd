// Package ingest accepts inbound webhooks for a subscription: it
// authenticates them, filters by event type, persists them and enqueues the
// first delivery attempt.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/signature"
	"github.com/jmehdipour/webhook-delivery/internal/util"
	"go.uber.org/zap"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMalformedBody        = errors.New("malformed body")
	ErrEnqueue              = errors.New("enqueue failed")
)

type SubscriptionGetter interface {
	Get(ctx context.Context, id string) (*model.Subscription, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) error
}

type Result struct {
	WebhookID string
	Filtered  bool
}

type body struct {
	Payload   json.RawMessage `json:"payload"`
	EventType *string         `json:"event_type"`
}

// Service is the ingestion gateway.
type Service struct {
	subs     SubscriptionGetter
	webhooks repository.WebhooksRepository
	queue    Enqueuer
	clock    clock.Clock
	log      *zap.Logger
}

func New(subs SubscriptionGetter, webhooks repository.WebhooksRepository, q Enqueuer, c clock.Clock, log *zap.Logger) *Service {
	return &Service{
		subs:     subs,
		webhooks: webhooks,
		queue:    q,
		clock:    clock.OrReal(c),
		log:      logger.OrNop(log),
	}
}

// Ingest checks, in order: subscription, signature, body, event filter. Only
// then is the webhook stored (queued) and attempt 1 enqueued. sigHeader is
// the raw X-Hub-Signature-256 value.
func (s *Service) Ingest(ctx context.Context, subscriptionID string, raw []byte, sigHeader string) (Result, error) {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.WebhooksIngested.WithLabelValues("not_found").Inc()
		return Result{}, ErrSubscriptionNotFound
	}
	if err != nil {
		metrics.WebhooksIngested.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("lookup subscription: %w", err)
	}

	if secret := sub.SigningSecret(); secret != "" {
		if err := signature.Verify(secret, raw, sigHeader); err != nil {
			metrics.WebhooksIngested.WithLabelValues("unauthorized").Inc()
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	b, err := parse(raw)
	if err != nil {
		metrics.WebhooksIngested.WithLabelValues("malformed").Inc()
		return Result{}, err
	}

	if b.EventType != nil && !sub.EventTypes.Allows(*b.EventType) {
		metrics.WebhooksIngested.WithLabelValues("filtered").Inc()
		s.log.Debug("webhook filtered",
			zap.String("subscription_id", sub.ID), zap.String("event_type", *b.EventType))
		return Result{Filtered: true}, nil
	}

	now := s.clock.Now()
	wh := model.Webhook{
		ID:             util.NewIDAt(now),
		SubscriptionID: sub.ID,
		Payload:        []byte(b.Payload),
		EventType:      b.EventType,
		IngestedAt:     now,
		Status:         model.WebhookQueued,
	}
	if err := s.webhooks.Insert(ctx, wh); err != nil {
		metrics.WebhooksIngested.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("store webhook: %w", err)
	}

	if err := s.queue.Enqueue(ctx, model.Job{WebhookID: wh.ID, Attempt: 1}); err != nil {
		metrics.WebhooksIngested.WithLabelValues("error").Inc()
		s.log.Error("enqueue webhook", zap.String("webhook_id", wh.ID), zap.Error(err))
		if _, ferr := s.webhooks.Finalize(context.WithoutCancel(ctx), wh.ID, model.WebhookFailed); ferr != nil {
			s.log.Error("mark unqueued webhook failed", zap.String("webhook_id", wh.ID), zap.Error(ferr))
		}
		return Result{}, fmt.Errorf("%w: %w", ErrEnqueue, err)
	}

	metrics.WebhooksIngested.WithLabelValues("accepted").Inc()
	s.log.Info("webhook accepted", zap.String("webhook_id", wh.ID), zap.String("subscription_id", sub.ID))
	return Result{WebhookID: wh.ID}, nil
}

func parse(raw []byte) (body, error) {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return body{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	p := bytes.TrimSpace(b.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return body{}, fmt.Errorf("%w: payload is required", ErrMalformedBody)
	}
	b.Payload = p
	return b, nil
}
