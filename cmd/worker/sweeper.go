package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/db"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"github.com/jmehdipour/webhook-delivery/internal/sweeper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepOnce bool

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Delete delivery attempts older than the retention window",
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

		s := &sweeper.Sweeper{
			Attempts:  repository.NewAttemptsRepository(dbx),
			Window:    cfg.Retention.Window(),
			Interval:  cfg.Retention.SweepInterval,
			BatchSize: cfg.Retention.BatchSize,
			Log:       log,
		}

		if cfg.Retention.ArchiveToClickHouse {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer chDB.Close()
			s.Archive = repository.NewCHAttemptArchive(chDB)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if sweepOnce {
			n, err := s.Sweep(ctx, time.Now().UTC(), s.Window)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			log.Info("retention sweep done", zap.Int64("deleted", n))
			return nil
		}

		log.Info("sweeper started",
			zap.Duration("window", s.Window), zap.Duration("interval", s.Interval))
		return s.Run(ctx)
	},
}

func init() {
	sweeperCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single pass and exit")
}
