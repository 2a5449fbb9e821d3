package services

import (
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/boostpanel/backend/internal/middleware"
)

// WalletService exposes read access to a user's wallet plus the explicit
// admin adjustment path. All mutations go through the LedgerService.
type WalletService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, ledger *LedgerService) *WalletService {
	return &WalletService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// GetBalance handles GET /wallet/balance
// @Summary Get wallet balance
// @Tags wallet
// @Produce json
// @Router /wallet/balance [get]
func (ws *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var balance float64
	var currency string
	err := ws.db.QueryRow(`
		SELECT balance, currency FROM users WHERE id = $1
	`, userID).Scan(&balance, &currency)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"balance":  balance,
		"currency": currency,
	})
}

// GetHistory handles GET /wallet/transactions
// @Summary List the wallet's ledger entries, newest first
// @Tags wallet
// @Produce json
// @Param limit query int false "Number of entries (default 50, max 100)"
// @Router /wallet/transactions [get]
func (ws *WalletService) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := ws.ledger.ListEntries(userID, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetTransaction handles GET /wallet/transactions/{entryId}
// @Summary Fetch one ledger entry
// @Tags wallet
// @Produce json
// @Router /wallet/transactions/{entryId} [get]
func (ws *WalletService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entry, err := ws.ledger.FindByID(chi.URLParam(r, "entryId"))
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	// Entries are only visible to their owner.
	if entry.UserID != userID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	SendJSON(w, http.StatusOK, entry)
}

type adjustRequest struct {
	UserID   string  `json:"user_id" validate:"required"`
	Amount   float64 `json:"amount" validate:"required"`
	Currency string  `json:"currency" validate:"omitempty,len=3"`
	Note     string  `json:"note" validate:"required,max=200"`
}

// AdminAdjust handles POST /admin/wallet/adjust
// @Summary Manually adjust a wallet balance
// @Description Writes a confirmed adjustment entry and the balance change as one atomic unit. Amount may be negative.
// @Tags admin
// @Accept json
// @Produce json
// @Router /admin/wallet/adjust [post]
func (ws *WalletService) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576)).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}

	adminID := middleware.UserID(r.Context())
	entry, err := ws.ledger.AdjustBalance(req.UserID, req.Amount, req.Currency, req.Note, adminID)
	if err != nil {
		if err == ErrUserNotFound {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		return
	}

	SendJSON(w, http.StatusOK, entry)
}

// AdminAudit handles GET /admin/wallet/{userId}/audit
// @Summary Check balance-ledger consistency for one wallet
// @Description Compares the stored balance against the sum of confirmed signed entry amounts.
// @Tags admin
// @Produce json
// @Router /admin/wallet/{userId}/audit [get]
func (ws *WalletService) AdminAudit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var balance float64
	err := ws.db.QueryRow(`
		SELECT balance FROM users WHERE id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	ledgerSum, err := ws.ledger.SumConfirmed(userID)
	if err != nil {
		SendErrorResponse(w, "Failed to sum ledger", http.StatusInternalServerError, nil)
		return
	}

	drift := balance - ledgerSum
	SendJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"balance":    balance,
		"ledger_sum": ledgerSum,
		"drift":      drift,
		"consistent": math.Abs(drift) < 0.005,
	})
}
