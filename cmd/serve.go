package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/cache"
	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmehdipour/webhook-delivery/internal/db"
	httpSrv "github.com/jmehdipour/webhook-delivery/internal/http"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/queue"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/service/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q, err := queue.Open(ctx, cfg, redisClient, queue.Producer, log)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer func() { _ = q.Close() }()

		subsRepo := repository.NewSubscriptionsRepository(mysqlDB)
		webhooksRepo := repository.NewWebhooksRepository(mysqlDB)
		attemptsRepo := repository.NewAttemptsRepository(mysqlDB)

		subCache, err := cache.Open(cfg.Cache, subsRepo, redisClient, log)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}

		server := httpSrv.NewServer(httpSrv.Deps{
			Config:        cfg,
			Ingest:        ingest.New(subCache, webhooksRepo, q, nil, log),
			Subscriptions: subsRepo,
			Webhooks:      webhooksRepo,
			Attempts:      attemptsRepo,
			Cache:         subCache,
			Redis:         redisClient,
			Logger:        log,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		return nil
	},
}
