package model

// Job is the delivery queue message: deliver webhook WebhookID as attempt
// number Attempt (1-based).
type Job struct {
	WebhookID string `json:"webhook_id"`
	Attempt   int    `json:"attempt"`
}

func (j Job) Valid() bool { return j.WebhookID != "" && j.Attempt > 0 }

// Next is the job for the following attempt.
func (j Job) Next() Job { return Job{WebhookID: j.WebhookID, Attempt: j.Attempt + 1} }
