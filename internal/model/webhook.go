package model

import "time"

type WebhookStatus string

const (
	WebhookQueued     WebhookStatus = "queued"
	WebhookProcessing WebhookStatus = "processing"
	WebhookSucceeded  WebhookStatus = "succeeded"
	WebhookFailed     WebhookStatus = "failed"
)

func (s WebhookStatus) String() string { return string(s) }

func (s WebhookStatus) Valid() bool {
	switch s {
	case WebhookQueued, WebhookProcessing, WebhookSucceeded, WebhookFailed:
		return true
	}
	return false
}

// Terminal reports whether no further delivery may happen.
func (s WebhookStatus) Terminal() bool {
	return s == WebhookSucceeded || s == WebhookFailed
}

// Webhook is one accepted event. Payload holds the bytes of the "payload"
// field exactly as they are stored and later POSTed.
type Webhook struct {
	ID             string        `db:"id"              json:"id"`
	SubscriptionID string        `db:"subscription_id" json:"subscription_id"`
	Payload        []byte        `db:"payload"         json:"-"`
	EventType      *string       `db:"event_type"      json:"event_type,omitempty"`
	IngestedAt     time.Time     `db:"ingested_at"     json:"ingested_at"`
	Status         WebhookStatus `db:"status"          json:"status"`
}
