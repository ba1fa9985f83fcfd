// Package sweeper enforces the delivery attempt retention window.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"go.uber.org/zap"
)

type AttemptStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.DeliveryAttempt, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Sweeper deletes attempts older than Window, optionally copying each batch
// to Archive first. Webhook rows are never touched.
type Sweeper struct {
	Attempts  AttemptStore
	Archive   repository.AttemptArchive // nil: delete without archiving
	Window    time.Duration
	Interval  time.Duration
	BatchSize int
	Clock     clock.Clock
	Log       *zap.Logger
}

// Sweep deletes every attempt with attempted_at < now - window, except the
// latest attempt of each webhook, and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = 500
	}
	cutoff := now.Add(-window)

	var total int64
	for {
		rows, err := s.Attempts.ListOlderThan(ctx, cutoff, batch)
		if err != nil {
			return total, fmt.Errorf("list expired attempts: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		if s.Archive != nil {
			if err := s.Archive.Archive(ctx, rows); err != nil {
				return total, fmt.Errorf("archive attempts: %w", err)
			}
		}

		ids := make([]string, len(rows))
		for i, a := range rows {
			ids[i] = a.ID
		}
		n, err := s.Attempts.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete attempts: %w", err)
		}
		total += n
		metrics.AttemptsSwept.Add(float64(n))

		if n == 0 || len(rows) < batch {
			return total, nil
		}
	}
}

// Run sweeps once right away and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	clk := clock.OrReal(s.Clock)
	log := logger.OrNop(s.Log)

	pass := func() {
		n, err := s.Sweep(ctx, clk.Now(), s.Window)
		if err != nil && ctx.Err() == nil {
			log.Error("retention sweep", zap.Error(err), zap.Int64("deleted", n))
			return
		}
		log.Info("retention sweep done", zap.Int64("deleted", n), zap.Duration("window", s.Window))
	}

	pass()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			pass()
		}
	}
}
