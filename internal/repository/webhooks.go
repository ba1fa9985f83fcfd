package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
)

// WebhooksRepository persists webhooks. Every status write is guarded so a
// terminal webhook is never moved again.
type WebhooksRepository interface {
	Insert(ctx context.Context, w model.Webhook) error
	Get(ctx context.Context, id string) (*model.Webhook, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkQueued(ctx context.Context, id string) error
	// Finalize moves a non-terminal webhook to status and reports whether
	// this call made the change.
	Finalize(ctx context.Context, id string, status model.WebhookStatus) (bool, error)
}

type WebhooksRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhooksRepository(db *sqlx.DB) *WebhooksRepositoryImpl {
	return &WebhooksRepositoryImpl{db: db}
}

var _ WebhooksRepository = (*WebhooksRepositoryImpl)(nil)

func (r *WebhooksRepositoryImpl) Insert(ctx context.Context, w model.Webhook) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks
		    (id, subscription_id, payload, event_type, ingested_at, status)
		VALUES
		    (?,  ?,               ?,       ?,          ?,           ?)
	`, w.ID, w.SubscriptionID, w.Payload, w.EventType, w.IngestedAt, w.Status.String())
	return err
}

func (r *WebhooksRepositoryImpl) Get(ctx context.Context, id string) (*model.Webhook, error) {
	var w model.Webhook
	err := r.db.GetContext(ctx, &w, `
		SELECT id, subscription_id, payload, event_type, ingested_at, status
		  FROM webhooks
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WebhooksRepositoryImpl) MarkProcessing(ctx context.Context, id string) error {
	return r.setPending(ctx, id, model.WebhookProcessing)
}

func (r *WebhooksRepositoryImpl) MarkQueued(ctx context.Context, id string) error {
	return r.setPending(ctx, id, model.WebhookQueued)
}

func (r *WebhooksRepositoryImpl) setPending(ctx context.Context, id string, status model.WebhookStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhooks SET status = ?
		 WHERE id = ? AND status IN ('queued', 'processing')
	`, status.String(), id)
	return err
}

func (r *WebhooksRepositoryImpl) Finalize(ctx context.Context, id string, status model.WebhookStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhooks SET status = ?
		 WHERE id = ? AND status IN ('queued', 'processing')
	`, status.String(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
