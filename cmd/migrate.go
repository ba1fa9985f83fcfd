package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmehdipour/webhook-delivery/internal/db"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the SQL schema (dev helper)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)
		ctx := cmd.Context()

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		path := filepath.Join("migrations", "001_init.sql")
		n, err := applyFile(ctx, sqlDB, path)
		if err != nil {
			return err
		}
		log.Info("mysql migration applied", zap.String("file", path), zap.Int("statements", n))

		if !migrateClickHouse {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		path = filepath.Join("migrations", "clickhouse", "001_attempts_archive.sql")
		n, err = applyFile(ctx, chDB, path)
		if err != nil {
			return err
		}
		log.Info("clickhouse migration applied", zap.String("file", path), zap.Int("statements", n))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateClickHouse, "clickhouse", false, "also create the ClickHouse archive table")
}

// applyFile runs each ";"-terminated statement in path. Neither driver
// accepts multi-statement Exec by default.
func applyFile(ctx context.Context, dbx *sqlx.DB, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read migration file %s: %w", path, err)
	}
	n := 0
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return n, fmt.Errorf("exec %s statement %d: %w", path, n+1, err)
		}
		n++
	}
	return n, nil
}

func splitStatements(sql string) []string {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
