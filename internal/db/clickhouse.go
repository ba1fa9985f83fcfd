package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the attempt archive, e.g.
// clickhouse://default:@localhost:9000/whd?dial_timeout=5s&compress=true
func NewClickHouseConnection(cfg config.ClickHouseConfig) (*sqlx.DB, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("clickhouse is disabled")
	}
	db, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(db, cfg.DatabaseConfig)

	if err := ping(db, cfg.PingTimeout, 3*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return db, nil
}
