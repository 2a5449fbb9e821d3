package services

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	EntryID   string    `json:"entry_id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogCredit(entryID, userID, provider string, amount, balanceAfter float64) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "CREDIT",
		EntryID:   entryID,
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]float64{
			"balance_after": balanceAfter,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(entryID, userID string, err error) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		EntryID:   entryID,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
