package models

import "time"

type User struct {
	ID        string     `json:"id" db:"id"`
	Email     string     `json:"email" example:"user@example.com" db:"email"` // User email
	Role      string     `json:"role" db:"role"`                              // user or admin
	Balance   float64    `json:"balance" db:"balance"`                        // Wallet balance, 2-decimal
	Currency  string     `json:"currency" db:"currency"`                      // Wallet currency, ISO-like 3-letter
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
