package sweeper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type mockArchive struct{ mock.Mock }

func (m *mockArchive) Archive(ctx context.Context, attempts []model.DeliveryAttempt) error {
	return m.Called(ctx, attempts).Error(0)
}

func seed(store *repotest.Store, ages ...time.Duration) {
	store.PutWebhook(model.Webhook{ID: "wh-1", SubscriptionID: "sub-1", Status: model.WebhookFailed})
	for i, age := range ages {
		store.PutAttempt(model.DeliveryAttempt{
			ID:            fmt.Sprintf("a%02d", i),
			WebhookID:     "wh-1",
			AttemptNumber: i + 1,
			AttemptedAt:   now.Add(-age),
			Outcome:       model.OutcomeFailedAttempt,
		})
	}
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	window := 72 * time.Hour

	t.Run("deletes all and only expired attempts", func(t *testing.T) {
		store := repotest.NewStore()
		seed(store, 100*time.Hour, 73*time.Hour, 72*time.Hour, time.Hour)
		s := &Sweeper{Attempts: store.Attempts(), BatchSize: 1}

		n, err := s.Sweep(ctx, now, window)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left := store.AttemptsOf("wh-1")
		require.Len(t, left, 2)
		assert.Equal(t, now.Add(-72*time.Hour), left[0].AttemptedAt, "boundary is kept")
		assert.Equal(t, 1, store.WebhookCount())
	})

	t.Run("nothing expired", func(t *testing.T) {
		store := repotest.NewStore()
		seed(store, time.Minute)
		s := &Sweeper{Attempts: store.Attempts()}

		n, err := s.Sweep(ctx, now, window)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 1, store.AttemptCount())
	})

	t.Run("archives each batch before deleting", func(t *testing.T) {
		store := repotest.NewStore()
		seed(store, 90*time.Hour, 80*time.Hour, 75*time.Hour, time.Hour)
		archive := &mockArchive{}
		archive.On("Archive", ctx, mock.MatchedBy(func(a []model.DeliveryAttempt) bool { return len(a) == 2 })).Return(nil).Once()
		archive.On("Archive", ctx, mock.MatchedBy(func(a []model.DeliveryAttempt) bool { return len(a) == 1 })).Return(nil).Once()
		s := &Sweeper{Attempts: store.Attempts(), Archive: archive, BatchSize: 2}

		n, err := s.Sweep(ctx, now, window)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		archive.AssertExpectations(t)
	})

	t.Run("archive failure keeps the rows", func(t *testing.T) {
		store := repotest.NewStore()
		seed(store, 90*time.Hour, time.Hour)
		archive := &mockArchive{}
		archive.On("Archive", ctx, mock.Anything).Return(errors.New("clickhouse down"))
		s := &Sweeper{Attempts: store.Attempts(), Archive: archive}

		_, err := s.Sweep(ctx, now, window)
		require.Error(t, err)
		assert.Equal(t, 2, store.AttemptCount())
	})

	t.Run("latest attempt of each webhook is kept", func(t *testing.T) {
		store := repotest.NewStore()
		seed(store, 200*time.Hour, 150*time.Hour, 100*time.Hour)
		store.PutWebhook(model.Webhook{ID: "wh-2", SubscriptionID: "sub-1", Status: model.WebhookQueued})
		store.PutAttempt(model.DeliveryAttempt{ID: "b01", WebhookID: "wh-2", AttemptNumber: 1,
			AttemptedAt: now.Add(-90 * time.Hour), Outcome: model.OutcomeFailedAttempt})
		s := &Sweeper{Attempts: store.Attempts()}

		n, err := s.Sweep(ctx, now, window)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left := store.AttemptsOf("wh-1")
		require.Len(t, left, 1)
		assert.Equal(t, 3, left[0].AttemptNumber)
		assert.Len(t, store.AttemptsOf("wh-2"), 1)
	})
}

func TestSweeper_RunSweepsImmediately(t *testing.T) {
	store := repotest.NewStore()
	seed(store, 100*time.Hour, time.Hour)
	s := &Sweeper{Attempts: store.Attempts(), Window: 72 * time.Hour, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.AttemptCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
