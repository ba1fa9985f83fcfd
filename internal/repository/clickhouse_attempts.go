package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptArchive keeps swept attempts for long-term audit.
type AttemptArchive interface {
	Archive(ctx context.Context, attempts []model.DeliveryAttempt) error
}

type chAttemptArchive struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptArchive(ch *sqlx.DB) AttemptArchive {
	return &chAttemptArchive{ch: ch}
}

// Archive writes one ClickHouse batch: clickhouse-go sends everything
// prepared inside the transaction as a single block on Commit.
func (r *chAttemptArchive) Archive(ctx context.Context, attempts []model.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO whd.delivery_attempts_archive
		    (id, webhook_id, attempt_number, attempted_at, outcome, http_status_code, error_details, next_attempt_at, archived_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range attempts {
		var code *int32
		if a.HTTPStatusCode != nil {
			c := int32(*a.HTTPStatusCode)
			code = &c
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.WebhookID, uint32(a.AttemptNumber), a.AttemptedAt, a.Outcome.String(),
			code, a.ErrorDetails, a.NextAttemptAt, now,
		); err != nil {
			return fmt.Errorf("append %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}
