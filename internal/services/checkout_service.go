package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/boostpanel/backend/internal/config"
	"github.com/boostpanel/backend/internal/middleware"
	"github.com/boostpanel/backend/internal/models"
	"github.com/boostpanel/backend/internal/money"
	"github.com/boostpanel/backend/internal/payments"
)

var ErrEntryNotFound = errors.New("ledger entry not found")

// CheckoutService drives the create -> approve -> capture top-up flow.
// Capture is reachable from three triggers (redirect page, explicit client
// confirmation, webhook auto-capture); CreditOnce makes that redundancy safe.
type CheckoutService struct {
	registry  *payments.Registry
	ledger    *LedgerService
	validator *ValidationHelper
	cfg       *config.PaymentsConfig
	timeout   time.Duration
}

func NewCheckoutService(registry *payments.Registry, ledger *LedgerService, cfg *config.PaymentsConfig, providerTimeout time.Duration) *CheckoutService {
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &CheckoutService{
		registry:  registry,
		ledger:    ledger,
		validator: NewValidationHelper(),
		cfg:       cfg,
		timeout:   providerTimeout,
	}
}

type createTopUpRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"omitempty,len=3"`
	Provider string  `json:"provider" validate:"required"`
}

// CreateTopUp handles POST /wallet/topup
// @Summary Start a wallet top-up
// @Description Creates a pending ledger entry and opens a provider payment session. No balance changes here.
// @Tags wallet
// @Accept json
// @Produce json
// @Router /wallet/topup [post]
func (cs *CheckoutService) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createTopUpRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Currency == "" {
		req.Currency = cs.cfg.DefaultCurrency
	}

	amount := money.Round2(req.Amount)
	if amount < cs.cfg.MinTopUp || amount > cs.cfg.MaxTopUp {
		SendErrorResponse(w, fmt.Sprintf("Amount must be between %.2f and %.2f", cs.cfg.MinTopUp, cs.cfg.MaxTopUp), http.StatusBadRequest, nil)
		return
	}
	if !cs.registry.Has(req.Provider) {
		SendErrorResponse(w, "Unknown payment provider", http.StatusBadRequest, nil)
		return
	}

	entry, session, err := cs.CreateCheckout(userID, amount, req.Currency, req.Provider)
	if err != nil {
		log.Printf("[CHECKOUT] Failed to open %s session for user %s: %v", req.Provider, userID, err)
		SendErrorResponse(w, "Failed to open payment session", http.StatusBadGateway, nil)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]interface{}{
		"entry_id":          entry.ID,
		"provider_order_id": session.ProviderOrderID,
		"approve_url":       session.ApproveURL,
		"meta":              session.Meta,
	})
}

// CreateCheckout creates the pending entry, opens the provider session, and
// stamps the session id onto the entry. Nothing is credited.
func (cs *CheckoutService) CreateCheckout(userID string, amount float64, currency, providerName string) (*models.LedgerEntry, *payments.CheckoutSession, error) {
	provider, err := cs.registry.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	entry, err := cs.ledger.CreatePendingEntry(userID, models.EntryTypeTopUp, amount, currency, providerName, "")
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cs.timeout)
	defer cancel()

	session, err := provider.CreateCheckout(ctx, payments.CheckoutParams{
		UserID:    userID,
		EntryID:   entry.ID,
		Amount:    entry.Amount,
		Currency:  currency,
		ReturnURL: cs.cfg.ReturnURL,
		CancelURL: cs.cfg.CancelURL,
	})
	if err != nil {
		if markErr := cs.ledger.MarkFailed(entry.ID, err.Error()); markErr != nil {
			log.Printf("[CHECKOUT] Failed to mark entry %s failed: %v", entry.ID, markErr)
		}
		return nil, nil, fmt.Errorf("provider session failed: %w", err)
	}

	if session.ProviderOrderID != "" {
		if err := cs.ledger.SetProviderOrderID(entry.ID, session.ProviderOrderID); err != nil {
			return nil, nil, fmt.Errorf("failed to store provider order id: %w", err)
		}
		entry.ProviderOrderID = session.ProviderOrderID
	}

	log.Printf("[CHECKOUT] Opened %s session %s for entry %s (%.2f %s)",
		providerName, session.ProviderOrderID, entry.ID, amount, currency)
	return entry, session, nil
}

type confirmTopUpRequest struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderOrderID string `json:"provider_order_id" validate:"required"`
}

// ConfirmTopUp handles POST /wallet/topup/confirm
// @Summary Capture an approved top-up
// @Description Idempotent: safe to call from the redirect page even when the webhook already credited the entry.
// @Tags wallet
// @Accept json
// @Produce json
// @Router /wallet/topup/confirm [post]
func (cs *CheckoutService) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	var req confirmTopUpRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := cs.CaptureAndCredit(req.Provider, req.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			SendErrorResponse(w, "No top-up found for this payment", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CHECKOUT] Capture failed for %s order %s: %v", req.Provider, req.ProviderOrderID, err)
		SendErrorResponse(w, "Capture failed", http.StatusBadGateway, nil)
		return
	}

	if !result.Credited && !result.Already {
		SendJSON(w, http.StatusAccepted, map[string]interface{}{"status": "pending"})
		return
	}
	SendJSON(w, http.StatusOK, result)
}

// CaptureAndCredit is the idempotent capture step. Whatever trigger calls it
// first performs the capture; every later call short-circuits on the
// confirmed entry or loses the conditional transition inside CreditOnce.
func (cs *CheckoutService) CaptureAndCredit(providerName, providerOrderID string) (*CreditResult, error) {
	provider, err := cs.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	entry, err := cs.ledger.FindByOrderID(providerName, providerOrderID, models.EntryTypeTopUp)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s order %s", ErrEntryNotFound, providerName, providerOrderID)
	}
	if entry.Status == models.EntryStatusConfirmed {
		return &CreditResult{Already: true}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cs.timeout)
	defer cancel()

	capture, err := provider.Capture(ctx, providerOrderID)
	if err != nil {
		return nil, fmt.Errorf("capture call failed: %w", err)
	}
	if !capture.Paid {
		return &CreditResult{}, nil
	}

	return cs.ledger.CreditOnce(entry, CreditOptions{
		CaptureID:       capture.CaptureID,
		ProviderPayload: capture.Raw,
	})
}
