package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptsRepository is the append-only attempt log.
type AttemptsRepository interface {
	// Insert is insert-or-ignore on (webhook_id, attempt_number); it reports
	// false when that attempt was already recorded.
	Insert(ctx context.Context, a model.DeliveryAttempt) (bool, error)
	Get(ctx context.Context, webhookID string, attemptNumber int) (*model.DeliveryAttempt, error)
	Latest(ctx context.Context, webhookID string) (*model.DeliveryAttempt, error)

	ListByWebhook(ctx context.Context, webhookID string) ([]model.AttemptLog, error)
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]model.AttemptLog, error)
	List(ctx context.Context, skip, limit int) ([]model.AttemptLog, error)

	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.DeliveryAttempt, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type AttemptsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAttemptsRepository(db *sqlx.DB) *AttemptsRepositoryImpl {
	return &AttemptsRepositoryImpl{db: db}
}

var _ AttemptsRepository = (*AttemptsRepositoryImpl)(nil)

const attemptColumns = `a.id, a.webhook_id, a.attempt_number, a.attempted_at, a.outcome,
		       a.http_status_code, a.error_details, a.next_attempt_at`

const attemptLogSelect = `
		SELECT ` + attemptColumns + `,
		       w.subscription_id, s.target_url
		  FROM delivery_attempts a
		  JOIN webhooks w      ON w.id = a.webhook_id
		  JOIN subscriptions s ON s.id = w.subscription_id
`

func (r *AttemptsRepositoryImpl) Insert(ctx context.Context, a model.DeliveryAttempt) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts
		    (id, webhook_id, attempt_number, attempted_at, outcome, http_status_code, error_details, next_attempt_at)
		VALUES
		    (?,  ?,          ?,              ?,            ?,       ?,                ?,             ?)
		ON DUPLICATE KEY UPDATE id = id
	`, a.ID, a.WebhookID, a.AttemptNumber, a.AttemptedAt, a.Outcome.String(),
		a.HTTPStatusCode, a.ErrorDetails, a.NextAttemptAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *AttemptsRepositoryImpl) Get(ctx context.Context, webhookID string, attemptNumber int) (*model.DeliveryAttempt, error) {
	return r.getOne(ctx, `
		SELECT `+attemptColumns+`
		  FROM delivery_attempts a
		 WHERE a.webhook_id = ? AND a.attempt_number = ?
	`, webhookID, attemptNumber)
}

func (r *AttemptsRepositoryImpl) Latest(ctx context.Context, webhookID string) (*model.DeliveryAttempt, error) {
	return r.getOne(ctx, `
		SELECT `+attemptColumns+`
		  FROM delivery_attempts a
		 WHERE a.webhook_id = ?
		 ORDER BY a.attempt_number DESC
		 LIMIT 1
	`, webhookID)
}

func (r *AttemptsRepositoryImpl) getOne(ctx context.Context, q string, args ...any) (*model.DeliveryAttempt, error) {
	var a model.DeliveryAttempt
	err := r.db.GetContext(ctx, &a, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByWebhook returns every attempt of one webhook, oldest first.
func (r *AttemptsRepositoryImpl) ListByWebhook(ctx context.Context, webhookID string) ([]model.AttemptLog, error) {
	rows := []model.AttemptLog{}
	err := r.db.SelectContext(ctx, &rows, attemptLogSelect+`
		 WHERE a.webhook_id = ?
		 ORDER BY a.attempt_number ASC
	`, webhookID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBySubscription returns the newest attempts across a subscription's webhooks.
func (r *AttemptsRepositoryImpl) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]model.AttemptLog, error) {
	rows := []model.AttemptLog{}
	err := r.db.SelectContext(ctx, &rows, attemptLogSelect+`
		 WHERE w.subscription_id = ?
		 ORDER BY a.attempted_at DESC, a.id DESC
		 LIMIT ?
	`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AttemptsRepositoryImpl) List(ctx context.Context, skip, limit int) ([]model.AttemptLog, error) {
	rows := []model.AttemptLog{}
	err := r.db.SelectContext(ctx, &rows, attemptLogSelect+`
		 ORDER BY a.attempted_at DESC, a.id DESC
		 LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOlderThan returns up to limit attempts with attempted_at strictly before
// cutoff. The latest attempt of each webhook is never returned: the worker
// derives the next attempt number from it and status queries explain the
// webhook status with it.
func (r *AttemptsRepositoryImpl) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.DeliveryAttempt, error) {
	rows := []model.DeliveryAttempt{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+`
		  FROM delivery_attempts a
		 WHERE a.attempted_at < ?
		   AND a.attempt_number < (
		       SELECT MAX(m.attempt_number)
		         FROM delivery_attempts m
		        WHERE m.webhook_id = a.webhook_id)
		 ORDER BY a.attempted_at ASC
		 LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AttemptsRepositoryImpl) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM delivery_attempts WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
