package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
)

// SubscriptionsRepository is the subscription store. The delivery path only
// calls Get; the rest backs the admin endpoints.
type SubscriptionsRepository interface {
	Get(ctx context.Context, id string) (*model.Subscription, error)
	List(ctx context.Context, skip, limit int) ([]model.Subscription, error)
	Create(ctx context.Context, s model.Subscription) error
	Update(ctx context.Context, s model.Subscription) error
	Delete(ctx context.Context, id string) error
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

const subscriptionColumns = `id, target_url, secret, event_types, created_at, updated_at`

func (r *SubscriptionsRepositoryImpl) Get(ctx context.Context, id string) (*model.Subscription, error) {
	var s model.Subscription
	err := r.db.GetContext(ctx, &s, `
		SELECT `+subscriptionColumns+`
		  FROM subscriptions
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionsRepositoryImpl) List(ctx context.Context, skip, limit int) ([]model.Subscription, error) {
	rows := []model.Subscription{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+subscriptionColumns+`
		  FROM subscriptions
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SubscriptionsRepositoryImpl) Create(ctx context.Context, s model.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.TargetURL, s.Secret, s.EventTypes, s.CreatedAt, s.UpdatedAt)
	return err
}

// Update rewrites the mutable fields. Callers check existence first; MySQL
// reports zero affected rows for an update that changes nothing.
func (r *SubscriptionsRepositoryImpl) Update(ctx context.Context, s model.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		   SET target_url = ?, secret = ?, event_types = ?, updated_at = ?
		 WHERE id = ?
	`, s.TargetURL, s.Secret, s.EventTypes, s.UpdatedAt, s.ID)
	return err
}

// Delete removes the subscription; webhooks and attempts go with it through
// the foreign key cascade.
func (r *SubscriptionsRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
