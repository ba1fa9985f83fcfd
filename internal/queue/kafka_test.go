package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/kafka"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, key, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockPublisher) Close() error { return m.Called().Error(0) }

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *mockFetcher) Commit(ctx context.Context, msg kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockFetcher) Close() error { return m.Called().Error(0) }

func TestKafkaQueue(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("enqueue publishes keyed by webhook", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", ctx, []byte("w1"), []byte(`{"webhook_id":"w1","attempt":1}`)).Return(nil)
		q := NewKafkaQueue(pub, nil, nil, 0, clock.NewFake(t0), nil)

		require.NoError(t, q.Enqueue(ctx, model.Job{WebhookID: "w1", Attempt: 1}))
		require.NoError(t, q.EnqueueAt(ctx, model.Job{WebhookID: "w1", Attempt: 1}, t0))
		pub.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("publish failure is returned", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("no leader"))
		q := NewKafkaQueue(pub, nil, nil, 0, nil, nil)

		assert.Error(t, q.Enqueue(ctx, model.Job{WebhookID: "w1", Attempt: 1}))
	})

	t.Run("pull skips poison and acks by commit", func(t *testing.T) {
		poison := kafka.Message{Offset: 1, Value: []byte("garbage")}
		good := kafka.Message{Offset: 2, Value: []byte(`{"webhook_id":"w9","attempt":3}`)}

		fetch := &mockFetcher{}
		fetch.On("Fetch", ctx).Return(poison, nil).Once()
		fetch.On("Fetch", ctx).Return(good, nil).Once()
		fetch.On("Commit", ctx, poison).Return(nil).Once()
		fetch.On("Commit", ctx, good).Return(nil).Once()

		q := NewKafkaQueue(&mockPublisher{}, fetch, nil, 0, nil, nil)
		d, err := q.Pull(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Job{WebhookID: "w9", Attempt: 3}, d.Job)

		require.NoError(t, d.Ack(ctx))
		fetch.AssertExpectations(t)
	})

	t.Run("commit waits for earlier jobs of the partition", func(t *testing.T) {
		msgs := make([]kafka.Message, 3)
		fetch := &mockFetcher{}
		for i := range msgs {
			msgs[i] = kafka.Message{Partition: 0, Offset: int64(10 + i), Value: []byte(`{"webhook_id":"w1","attempt":1}`)}
			fetch.On("Fetch", ctx).Return(msgs[i], nil).Once()
		}
		fetch.On("Commit", ctx, msgs[2]).Return(nil).Once()

		q := NewKafkaQueue(&mockPublisher{}, fetch, nil, 0, nil, nil)
		ds := make([]*Delivery, 3)
		for i := range ds {
			d, err := q.Pull(ctx)
			require.NoError(t, err)
			ds[i] = d
		}

		require.NoError(t, ds[1].Ack(ctx))
		require.NoError(t, ds[2].Ack(ctx))
		fetch.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)

		require.NoError(t, ds[0].Ack(ctx))
		fetch.AssertExpectations(t)
		fetch.AssertNumberOfCalls(t, "Commit", 1)
	})

	t.Run("partitions commit independently", func(t *testing.T) {
		a := kafka.Message{Partition: 0, Offset: 5, Value: []byte(`{"webhook_id":"w1","attempt":1}`)}
		b := kafka.Message{Partition: 1, Offset: 7, Value: []byte(`{"webhook_id":"w2","attempt":1}`)}
		fetch := &mockFetcher{}
		fetch.On("Fetch", ctx).Return(a, nil).Once()
		fetch.On("Fetch", ctx).Return(b, nil).Once()
		fetch.On("Commit", ctx, b).Return(nil).Once()

		q := NewKafkaQueue(&mockPublisher{}, fetch, nil, 0, nil, nil)
		_, err := q.Pull(ctx)
		require.NoError(t, err)
		db, err := q.Pull(ctx)
		require.NoError(t, err)

		require.NoError(t, db.Ack(ctx))
		fetch.AssertExpectations(t)
	})

	t.Run("producer-only queue cannot pull", func(t *testing.T) {
		q := NewKafkaQueue(&mockPublisher{}, nil, nil, 0, nil, nil)
		_, err := q.Pull(ctx)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCommitTracker(t *testing.T) {
	msg := func(p int, off int64) kafka.Message { return kafka.Message{Partition: p, Offset: off} }

	t.Run("acked prefix is released in order", func(t *testing.T) {
		var tr commitTracker
		for off := int64(0); off < 4; off++ {
			tr.fetched(msg(0, off))
		}

		_, ok := tr.acked(msg(0, 2))
		assert.False(t, ok)
		m, ok := tr.acked(msg(0, 0))
		require.True(t, ok)
		assert.Equal(t, int64(0), m.Offset)
		m, ok = tr.acked(msg(0, 1))
		require.True(t, ok)
		assert.Equal(t, int64(2), m.Offset)
	})

	t.Run("unknown and repeated acks are ignored", func(t *testing.T) {
		var tr commitTracker
		tr.fetched(msg(0, 3))

		_, ok := tr.acked(msg(1, 3))
		assert.False(t, ok)
		_, ok = tr.acked(msg(0, 3))
		assert.True(t, ok)
		_, ok = tr.acked(msg(0, 3))
		assert.False(t, ok)
	})

	t.Run("rewind after rebalance starts over", func(t *testing.T) {
		var tr commitTracker
		tr.fetched(msg(0, 10))
		tr.fetched(msg(0, 11))
		tr.fetched(msg(0, 10))

		m, ok := tr.acked(msg(0, 10))
		require.True(t, ok)
		assert.Equal(t, int64(10), m.Offset)
		_, ok = tr.acked(msg(0, 11))
		assert.False(t, ok, "11 was not fetched again yet")
	})
}
