package models

import "time"

// Webhook event processing outcomes.
const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusFailed    = "failed"
)

// WebhookEvent is the immutable record of one received provider callback.
// (provider, event_id) is globally unique; a duplicate insert is how retries
// are detected and short-circuited.
type WebhookEvent struct {
	ID          string     `json:"id" db:"id"`
	Provider    string     `json:"provider" db:"provider"`
	EventID     string     `json:"event_id" db:"event_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	ResourceID  string     `json:"resource_id" db:"resource_id"`
	Status      string     `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	Payload     string     `json:"payload" db:"payload"`
	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}
