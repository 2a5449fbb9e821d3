package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boostpanel/backend/internal/middleware"
	"github.com/boostpanel/backend/internal/models"
	"github.com/boostpanel/backend/internal/money"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// OrderService creates and exposes fulfillment orders. Placing an order is
// the spend-side mirror of the credit engine: the wallet debit and its
// order_debit ledger entry are written in the same transaction as the order.
type OrderService struct {
	db        *sql.DB
	catalog   *CatalogService
	validator *ValidationHelper
}

func NewOrderService(db *sql.DB, catalog *CatalogService) *OrderService {
	return &OrderService{
		db:        db,
		catalog:   catalog,
		validator: NewValidationHelper(),
	}
}

type createOrderRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	Link      string `json:"link" validate:"required,url"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateOrder handles POST /orders
// @Summary Place a fulfillment order
// @Description Debits the wallet and records the order; the dispatch loop submits it upstream.
// @Tags orders
// @Accept json
// @Produce json
// @Router /orders [post]
func (os *OrderService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createOrderRequest
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
	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	svc, err := os.catalog.GetService(req.ServiceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			SendErrorResponse(w, "Unknown service", http.StatusBadRequest, nil)
			return
		}
		SendErrorResponse(w, "Failed to resolve service", http.StatusInternalServerError, nil)
		return
	}
	if !svc.Active {
		SendErrorResponse(w, "Service is not available", http.StatusBadRequest, nil)
		return
	}
	if req.Quantity < svc.MinQuantity || req.Quantity > svc.MaxQuantity {
		SendErrorResponse(w, fmt.Sprintf("Quantity must be between %d and %d", svc.MinQuantity, svc.MaxQuantity), http.StatusBadRequest, nil)
		return
	}

	order, newBalance, err := os.PlaceOrder(userID, svc, req.Link, req.Quantity)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			SendErrorResponse(w, "Insufficient wallet balance", http.StatusPaymentRequired, nil)
			return
		}
		log.Printf("[ORDER] Failed to place order for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to place order", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]interface{}{
		"order":   order,
		"balance": newBalance,
	})
}

// PlaceOrder writes the order, the order_debit ledger entry, and the balance
// change as one atomic unit. The order starts pending with no provider order
// id; the dispatch loop picks it up.
func (os *OrderService) PlaceOrder(userID string, svc *models.Service, link string, quantity int) (*models.Order, float64, error) {
	price := money.Round2(float64(quantity) * svc.RatePer1000 / 1000)
	if price <= 0 {
		return nil, 0, errors.New("computed price must be positive")
	}

	tx, err := os.db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceBefore float64
	var currency string
	err = tx.QueryRow(`
		SELECT balance, currency FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&balanceBefore, &currency)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, ErrUserNotFound
		}
		return nil, 0, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if balanceBefore < price {
		return nil, 0, fmt.Errorf("%w: have %.2f need %.2f", ErrInsufficientBalance, balanceBefore, price)
	}
	balanceAfter := money.Round2(balanceBefore - price)

	now := time.Now()
	order := &models.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		ServiceID: svc.ID,
		Link:      link,
		Quantity:  quantity,
		Price:     price,
		Status:    models.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := tx.Exec(`
		INSERT INTO orders
		(id, user_id, service_id, link, quantity, price, status,
		 provider_order_id, provider_status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', '', $8, $8)
	`, order.ID, order.UserID, order.ServiceID, order.Link, order.Quantity,
		order.Price, order.Status, now); err != nil {
		return nil, 0, fmt.Errorf("failed to write order: %w", err)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"order_id":   order.ID,
		"service_id": svc.ID,
		"quantity":   quantity,
	})
	if _, err := tx.Exec(`
		INSERT INTO ledger_entries
		(id, user_id, type, status, amount, currency, provider,
		 provider_order_id, provider_capture_id, provider_event_id,
		 balance_before, balance_after, confirmed_at, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', '', $8, $9, $10, $11, $10, $10)
	`, uuid.New().String(), userID, models.EntryTypeOrderDebit, models.EntryStatusConfirmed,
		price, currency, models.ProviderWallet, balanceBefore, balanceAfter, now, string(meta)); err != nil {
		return nil, 0, fmt.Errorf("failed to write debit entry: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET balance = $1, updated_at = $2 WHERE id = $3
	`, balanceAfter, now, userID); err != nil {
		return nil, 0, fmt.Errorf("failed to debit wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit order: %w", err)
	}

	log.Printf("[ORDER] Placed order %s for user %s (%d x service %s, %.2f %s)",
		order.ID, userID, quantity, svc.ID, price, currency)
	return order, balanceAfter, nil
}

// ListOrders handles GET /orders
// @Summary List the caller's orders, newest first
// @Tags orders
// @Produce json
// @Router /orders [get]
func (os *OrderService) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := os.db.Query(`
		SELECT `+orderColumns+`
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT 50
	`, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
			return
		}
		orders = append(orders, *order)
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// GetOrder handles GET /orders/{orderId}
// @Summary Get one order
// @Tags orders
// @Produce json
// @Router /orders/{orderId} [get]
func (os *OrderService) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	orderID := chi.URLParam(r, "orderId")

	row := os.db.QueryRow(`
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1 AND user_id = $2
	`, orderID, userID)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, order)
}

const orderColumns = `id, user_id, service_id, link, quantity, price, status,
	       provider_order_id, provider_status, last_error, completed_at, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var completedAt sql.NullTime

	err := row.Scan(
		&order.ID, &order.UserID, &order.ServiceID, &order.Link, &order.Quantity,
		&order.Price, &order.Status, &order.ProviderOrderID, &order.ProviderStatus,
		&order.LastError, &completedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		order.CompletedAt = &t
	}
	return order, nil
}
