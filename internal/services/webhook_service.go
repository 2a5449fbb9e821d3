package services

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/boostpanel/backend/internal/models"
	"github.com/boostpanel/backend/internal/payments"
)

// WebhookService receives provider payment callbacks, deduplicates them on
// (provider, event_id), and hands distinct events to the credit path at most
// once each.
type WebhookService struct {
	db       *sql.DB
	registry *payments.Registry
	ledger   *LedgerService
	checkout *CheckoutService
}

func NewWebhookService(db *sql.DB, registry *payments.Registry, ledger *LedgerService, checkout *CheckoutService) *WebhookService {
	return &WebhookService{
		db:       db,
		registry: registry,
		ledger:   ledger,
		checkout: checkout,
	}
}

// IngestResult describes what one webhook delivery ended up doing.
type IngestResult struct {
	Duplicate bool
	Outcome   string // processed, ignored, failed
}

// HandleProviderWebhook receives POST /webhooks/{provider}. Internal failures
// are recorded on the WebhookEvent row and never surfaced to the transport:
// a non-200 here only buys a retry storm. Malformed payloads (no event id)
// are the one exception, rejected up front with no durable record.
func (ws *WebhookService) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		SendErrorResponse(w, "Failed to read body", http.StatusBadRequest, nil)
		return
	}

	if !ws.registry.Has(providerName) {
		log.Printf("[WEBHOOK] Event for unconfigured provider %q, acknowledging without processing", providerName)
		SendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	result, err := ws.Ingest(providerName, body, r.Header)
	if err != nil {
		if errors.Is(err, payments.ErrMalformedEvent) {
			SendErrorResponse(w, "Malformed event", http.StatusBadRequest, nil)
			return
		}
		// Recorded on the event row; acknowledge anyway.
		log.Printf("[WEBHOOK] Internal failure processing %s event: %v", providerName, err)
		SendJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	if result.Duplicate {
		SendJSON(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}
	SendJSON(w, http.StatusOK, map[string]string{"status": result.Outcome})
}

// Ingest runs the dedup boundary: parse, insert-or-detect-duplicate, then
// dispatch. Everything downstream of the insert runs at most once per
// distinct (provider, event_id).
func (ws *WebhookService) Ingest(providerName string, body []byte, headers http.Header) (*IngestResult, error) {
	provider, err := ws.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	msg, err := provider.ParseWebhook(body, headers)
	if err != nil {
		return nil, err
	}
	if msg.EventID == "" {
		return nil, fmt.Errorf("%w: empty event id", payments.ErrMalformedEvent)
	}

	resourceID := msg.OrderID
	if resourceID == "" {
		resourceID = msg.CaptureID
	}

	eventRowID := uuid.New().String()
	_, err = ws.db.Exec(`
		INSERT INTO webhook_events
		(id, provider, event_id, event_type, resource_id, status, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, 'received', $6, $7)
	`, eventRowID, providerName, msg.EventID, msg.EventType, resourceID, string(body), time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WEBHOOK] Duplicate %s event %s, already handled", providerName, msg.EventID)
			return &IngestResult{Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	outcome, dispatchErr := ws.dispatch(provider, msg, string(body))
	ws.recordOutcome(eventRowID, outcome, dispatchErr)

	log.Printf("[WEBHOOK] %s event %s (%s) -> %s", providerName, msg.EventID, msg.EventType, outcome)
	return &IngestResult{Outcome: outcome}, nil
}

func (ws *WebhookService) dispatch(provider payments.Provider, msg *payments.WebhookMessage, payload string) (string, error) {
	switch msg.Action {
	case payments.ActionCapture:
		result, err := ws.checkout.CaptureAndCredit(provider.Name(), msg.OrderID)
		if err != nil {
			return models.WebhookStatusFailed, err
		}
		if !result.Credited && !result.Already {
			return models.WebhookStatusFailed, fmt.Errorf("capture for order %s did not complete", msg.OrderID)
		}
		return models.WebhookStatusProcessed, nil

	case payments.ActionCredit:
		entry, err := ws.ledger.FindByCaptureID(provider.Name(), msg.CaptureID, models.EntryTypeTopUp)
		if err != nil {
			return models.WebhookStatusFailed, err
		}
		if entry == nil {
			entry, err = ws.ledger.FindByOrderID(provider.Name(), msg.OrderID, models.EntryTypeTopUp)
			if err != nil {
				return models.WebhookStatusFailed, err
			}
		}
		if entry == nil {
			return models.WebhookStatusFailed, fmt.Errorf("no ledger entry matches event %s", msg.EventID)
		}

		_, err = ws.ledger.CreditOnce(entry, CreditOptions{
			EventID:         msg.EventID,
			EventType:       msg.EventType,
			CaptureID:       msg.CaptureID,
			ProviderPayload: payload,
		})
		if err != nil {
			return models.WebhookStatusFailed, err
		}
		return models.WebhookStatusProcessed, nil

	default:
		return models.WebhookStatusIgnored, nil
	}
}

func (ws *WebhookService) recordOutcome(eventRowID, outcome string, dispatchErr error) {
	errMsg := ""
	if dispatchErr != nil {
		errMsg = truncateError(dispatchErr.Error())
	}
	if _, err := ws.db.Exec(`
		UPDATE webhook_events SET status = $1, error = $2, processed_at = $3 WHERE id = $4
	`, outcome, errMsg, time.Now(), eventRowID); err != nil {
		log.Printf("[WEBHOOK] Failed to record outcome for event row %s: %v", eventRowID, err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
