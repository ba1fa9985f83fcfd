package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/webhook-delivery/internal/cache"
	"github.com/jmehdipour/webhook-delivery/internal/db"
	"github.com/jmehdipour/webhook-delivery/internal/dispatcher"
	"github.com/jmehdipour/webhook-delivery/internal/queue"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Run the webhook delivery worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		dbx, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q, err := queue.Open(ctx, cfg, rdb, queue.Consumer, log)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer func() { _ = q.Close() }()

		subCache, err := cache.Open(cfg.Cache, repository.NewSubscriptionsRepository(dbx), rdb, log)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}

		proc := &worker.Processor{
			Webhooks:      repository.NewWebhooksRepository(dbx),
			Attempts:      repository.NewAttemptsRepository(dbx),
			Subscriptions: subCache,
			Client:        dispatcher.NewClient(cfg.Delivery.Timeout(), cfg.Delivery.UserAgent),
			Queue:         q,
			Backoff:       worker.Backoff{Base: cfg.Delivery.BaseRetryDelay(), Max: cfg.Delivery.MaxRetryDelay()},
			MaxRetries:    cfg.Delivery.MaxRetries,
			Log:           log,
		}
		pool := &worker.Pool{
			Queue:           q,
			Processor:       proc,
			Workers:         cfg.Delivery.WorkerCount,
			InfraRetryDelay: cfg.Delivery.InfraRetryDelay(),
			Log:             log,
		}

		log.Info("delivery worker started",
			zap.String("queue", cfg.Queue.Driver),
			zap.Int("workers", cfg.Delivery.WorkerCount),
			zap.Int("max_retries", cfg.Delivery.MaxRetries),
			zap.Duration("timeout", cfg.Delivery.Timeout()))

		return pool.Run(ctx)
	},
}
