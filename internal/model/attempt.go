package model

import "time"

type AttemptOutcome string

const (
	OutcomeSucceeded         AttemptOutcome = "succeeded"
	OutcomeFailedAttempt     AttemptOutcome = "failed_attempt"
	OutcomePermanentlyFailed AttemptOutcome = "permanently_failed"
)

func (o AttemptOutcome) String() string { return string(o) }

// WebhookStatus maps a terminal outcome to the final webhook status.
// failed_attempt has no terminal status and returns "".
func (o AttemptOutcome) WebhookStatus() WebhookStatus {
	switch o {
	case OutcomeSucceeded:
		return WebhookSucceeded
	case OutcomePermanentlyFailed:
		return WebhookFailed
	}
	return ""
}

// DeliveryAttempt is an append-only audit row. NextAttemptAt is set only on
// failed_attempt.
type DeliveryAttempt struct {
	ID             string         `db:"id"               json:"id"`
	WebhookID      string         `db:"webhook_id"       json:"webhook_id"`
	AttemptNumber  int            `db:"attempt_number"   json:"attempt_number"`
	AttemptedAt    time.Time      `db:"attempted_at"     json:"attempted_at"`
	Outcome        AttemptOutcome `db:"outcome"          json:"outcome"`
	HTTPStatusCode *int           `db:"http_status_code" json:"http_status_code"`
	ErrorDetails   *string        `db:"error_details"    json:"error_details"`
	NextAttemptAt  *time.Time     `db:"next_attempt_at"  json:"next_attempt_at"`
}

// AttemptLog is an attempt joined with its webhook's subscription, as
// returned by the log and status queries.
type AttemptLog struct {
	DeliveryAttempt
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	TargetURL      string `db:"target_url"      json:"target_url"`
}
