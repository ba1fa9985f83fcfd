package cmd

import (
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmehdipour/webhook-delivery/internal/db"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		subs := demoSubscriptions()
		if err := seedSubscriptions(sqlDB, subs); err != nil {
			return err
		}
		for _, s := range subs {
			log.Info("seeded subscription", zap.String("subscription_id", s.ID), zap.String("target_url", s.TargetURL))
		}
		return nil
	},
}

// demoSubscriptions have fixed ids so seeding twice updates in place.
func demoSubscriptions() []model.Subscription {
	secret := "demo-secret"
	return []model.Subscription{
		{
			ID:        "00000000-0000-4000-8000-000000000001",
			TargetURL: "http://localhost:9000/hooks/open",
		},
		{
			ID:         "00000000-0000-4000-8000-000000000002",
			TargetURL:  "http://localhost:9000/hooks/orders",
			Secret:     &secret,
			EventTypes: model.EventTypes{"order.*"},
		},
	}
}

func seedSubscriptions(dbx *sqlx.DB, subs []model.Subscription) error {
	const q = `
INSERT INTO subscriptions
    (id, target_url, secret, event_types, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    target_url  = VALUES(target_url),
    secret      = VALUES(secret),
    event_types = VALUES(event_types),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, s := range subs {
		if _, err := tx.Exec(q, s.ID, s.TargetURL, s.Secret, s.EventTypes, now, now); err != nil {
			return fmt.Errorf("upsert subscription %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscriptions: %w", err)
	}
	return nil
}
