package models

import "time"

// Fulfillment order statuses. Completed and failed are terminal; canceled is
// only reachable before dispatch.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
	OrderStatusCanceled   = "canceled"
)

// Order is a fulfillment order against the upstream panel. ProviderStatus
// keeps the raw upstream string for audit; Status holds the normalized value.
type Order struct {
	ID              string     `json:"id" db:"id"`
	UserID          string     `json:"user_id" db:"user_id"`
	ServiceID       string     `json:"service_id" db:"service_id"`
	Link            string     `json:"link" db:"link"`
	Quantity        int        `json:"quantity" db:"quantity"`
	Price           float64    `json:"price" db:"price"`
	Status          string     `json:"status" db:"status"`
	ProviderOrderID string     `json:"provider_order_id" db:"provider_order_id"`
	ProviderStatus  string     `json:"provider_status" db:"provider_status"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Service is one sellable catalog item, priced per 1000 units.
type Service struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	ExternalID  string  `json:"external_id" db:"external_id"`
	MinQuantity int     `json:"min_quantity" db:"min_quantity"`
	MaxQuantity int     `json:"max_quantity" db:"max_quantity"`
	RatePer1000 float64 `json:"rate_per_1000" db:"rate_per_1000"`
	Active      bool    `json:"active" db:"active"`
}
