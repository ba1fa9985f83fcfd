package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

var (
	ts          = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	attemptCols = []string{
		"id", "webhook_id", "attempt_number", "attempted_at", "outcome",
		"http_status_code", "error_details", "next_attempt_at",
	}
	attemptLogCols = append(append([]string{}, attemptCols...), "subscription_id", "target_url")
)

func TestSubscriptionsRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		rows := sqlmock.NewRows([]string{"id", "target_url", "secret", "event_types", "created_at", "updated_at"}).
			AddRow("sub-1", "https://example.test/hook", "s3cr3t", []byte(`["order.*"]`), ts, ts)
		mock.ExpectQuery(`SELECT id, target_url, secret, event_types, created_at, updated_at\s+FROM subscriptions`).
			WithArgs("sub-1").
			WillReturnRows(rows)

		sub, err := repo.Get(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/hook", sub.TargetURL)
		assert.Equal(t, "s3cr3t", sub.SigningSecret())
		assert.Equal(t, model.EventTypes{"order.*"}, sub.EventTypes)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		mock.ExpectQuery(`FROM subscriptions`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store error is passed through", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		boom := errors.New("connection reset")
		mock.ExpectQuery(`FROM subscriptions`).WillReturnError(boom)

		_, err := repo.Get(ctx, "sub-1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestSubscriptionsRepository_Writes(t *testing.T) {
	ctx := context.Background()
	secret := "k"
	sub := model.Subscription{
		ID:         "sub-1",
		TargetURL:  "https://example.test/hook",
		Secret:     &secret,
		EventTypes: model.EventTypes{"a", "b"},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}

	t.Run("create stores event types as json", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		mock.ExpectExec(`INSERT INTO subscriptions`).
			WithArgs("sub-1", "https://example.test/hook", "k", `["a","b"]`, ts, ts).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(ctx, sub))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update without secret stores NULL", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		s := sub
		s.Secret = nil
		s.EventTypes = nil
		mock.ExpectExec(`UPDATE subscriptions`).
			WithArgs("https://example.test/hook", nil, nil, ts, "sub-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(ctx, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete missing row", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewSubscriptionsRepository(db)

		mock.ExpectExec(`DELETE FROM subscriptions`).
			WithArgs("sub-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(ctx, "sub-1"), ErrNotFound)
	})
}

func TestWebhooksRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("insert", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewWebhooksRepository(db)

		ev := "order.created"
		mock.ExpectExec(`INSERT INTO webhooks`).
			WithArgs("wh-1", "sub-1", []byte(`{"a":1}`), "order.created", ts, "queued").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Insert(ctx, model.Webhook{
			ID: "wh-1", SubscriptionID: "sub-1", Payload: []byte(`{"a":1}`),
			EventType: &ev, IngestedAt: ts, Status: model.WebhookQueued,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewWebhooksRepository(db)

		mock.ExpectQuery(`FROM webhooks`).
			WithArgs("wh-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "payload", "event_type", "ingested_at", "status"}).
				AddRow("wh-1", "sub-1", []byte(`{"a":1}`), nil, ts, "processing"))

		wh, err := repo.Get(ctx, "wh-1")
		require.NoError(t, err)
		assert.Equal(t, model.WebhookProcessing, wh.Status)
		assert.JSONEq(t, `{"a":1}`, string(wh.Payload))
		assert.Nil(t, wh.EventType)
	})

	t.Run("status writes are guarded against terminal rows", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewWebhooksRepository(db)

		mock.ExpectExec(`UPDATE webhooks SET status = \?\s+WHERE id = \? AND status IN \('queued', 'processing'\)`).
			WithArgs("processing", "wh-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE webhooks SET status = \?\s+WHERE id = \? AND status IN \('queued', 'processing'\)`).
			WithArgs("succeeded", "wh-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE webhooks SET status = \?\s+WHERE id = \? AND status IN \('queued', 'processing'\)`).
			WithArgs("failed", "wh-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, repo.MarkProcessing(ctx, "wh-1"))

		changed, err := repo.Finalize(ctx, "wh-1", model.WebhookSucceeded)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.Finalize(ctx, "wh-1", model.WebhookFailed)
		require.NoError(t, err)
		assert.False(t, changed)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAttemptsRepository_Insert(t *testing.T) {
	ctx := context.Background()
	code := 503
	detail := "HTTP Status Code: 503"
	next := ts.Add(10 * time.Second)
	a := model.DeliveryAttempt{
		ID: "at-1", WebhookID: "wh-1", AttemptNumber: 1, AttemptedAt: ts,
		Outcome: model.OutcomeFailedAttempt, HTTPStatusCode: &code, ErrorDetails: &detail, NextAttemptAt: &next,
	}

	t.Run("new attempt", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		mock.ExpectExec(`INSERT INTO delivery_attempts .* ON DUPLICATE KEY UPDATE id = id`).
			WithArgs("at-1", "wh-1", 1, ts, "failed_attempt", 503, detail, next).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := repo.Insert(ctx, a)
		require.NoError(t, err)
		assert.True(t, inserted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate attempt number is ignored", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		mock.ExpectExec(`INSERT INTO delivery_attempts`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		inserted, err := repo.Insert(ctx, a)
		require.NoError(t, err)
		assert.False(t, inserted)
	})
}

func TestAttemptsRepository_Queries(t *testing.T) {
	ctx := context.Background()

	t.Run("latest not found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		mock.ExpectQuery(`ORDER BY a.attempt_number DESC\s+LIMIT 1`).
			WithArgs("wh-1").
			WillReturnRows(sqlmock.NewRows(attemptCols))

		_, err := repo.Latest(ctx, "wh-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("subscription logs join target url", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		rows := sqlmock.NewRows(attemptLogCols).
			AddRow("at-2", "wh-1", 2, ts.Add(time.Minute), "succeeded", 200, nil, nil, "sub-1", "https://example.test/hook").
			AddRow("at-1", "wh-1", 1, ts, "failed_attempt", nil, "Request Error: x", ts.Add(10*time.Second), "sub-1", "https://example.test/hook")
		mock.ExpectQuery(`JOIN subscriptions s ON s.id = w.subscription_id\s+WHERE w.subscription_id = \?\s+ORDER BY a.attempted_at DESC`).
			WithArgs("sub-1", 20).
			WillReturnRows(rows)

		logs, err := repo.ListBySubscription(ctx, "sub-1", 20)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "at-2", logs[0].ID)
		assert.Equal(t, "https://example.test/hook", logs[0].TargetURL)
		require.NotNil(t, logs[0].HTTPStatusCode)
		assert.Equal(t, 200, *logs[0].HTTPStatusCode)
		assert.Nil(t, logs[1].HTTPStatusCode)
		require.NotNil(t, logs[1].NextAttemptAt)
		assert.Equal(t, model.OutcomeFailedAttempt, logs[1].Outcome)
	})

	t.Run("global logs paginate", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		mock.ExpectQuery(`ORDER BY a.attempted_at DESC, a.id DESC\s+LIMIT \? OFFSET \?`).
			WithArgs(100, 0).
			WillReturnRows(sqlmock.NewRows(attemptLogCols))

		logs, err := repo.List(ctx, 0, 100)
		require.NoError(t, err)
		assert.Empty(t, logs)
		assert.NotNil(t, logs)
	})

	t.Run("retention selects strictly older rows but not the latest attempt", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		cutoff := ts.Add(-72 * time.Hour)
		mock.ExpectQuery(`WHERE a.attempted_at < \?\s+AND a.attempt_number < \(\s+SELECT MAX\(m.attempt_number\)`).
			WithArgs(cutoff, 500).
			WillReturnRows(sqlmock.NewRows(attemptCols).
				AddRow("at-1", "wh-1", 1, cutoff.Add(-time.Second), "succeeded", 200, nil, nil))

		old, err := repo.ListOlderThan(ctx, cutoff, 500)
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, "at-1", old[0].ID)
	})

	t.Run("delete by ids expands the IN list", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAttemptsRepository(db)

		mock.ExpectExec(`DELETE FROM delivery_attempts WHERE id IN \(\?, \?\)`).
			WithArgs("at-1", "at-2").
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := repo.DeleteByIDs(ctx, []string{"at-1", "at-2"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = repo.DeleteByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
