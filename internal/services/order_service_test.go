package services

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boostpanel/backend/internal/middleware"
	"github.com/boostpanel/backend/internal/models"
)

func newOrderFixture(t *testing.T) (*OrderService, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOrderService(db, NewCatalogService(db, nil)), sqlMock
}

func followerService() *models.Service {
	return &models.Service{
		ID:          "svc-1",
		Name:        "Instagram Followers",
		ExternalID:  "1001",
		MinQuantity: 100,
		MaxQuantity: 10000,
		RatePer1000: 2.00,
		Active:      true,
	}
}

func TestOrderService_PlaceOrder(t *testing.T) {
	t.Run("debits the wallet atomically with the order", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)
		svc := followerService()

		// 1000 units at 2.00 per 1000.
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance, currency FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "currency"}).AddRow(10.00, "EUR"))
		sqlMock.ExpectExec("INSERT INTO orders").
			WithArgs(sqlmock.AnyArg(), "user-1", "svc-1", "https://instagram.com/acct", 1000, 2.00, "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "user-1", "order_debit", "confirmed", 2.00, "EUR", "wallet",
				10.00, 8.00, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectExec("UPDATE users SET balance").
			WithArgs(8.00, sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		sqlMock.ExpectCommit()

		order, newBalance, err := os.PlaceOrder("user-1", svc, "https://instagram.com/acct", 1000)
		require.NoError(t, err)
		assert.Equal(t, 2.00, order.Price)
		assert.Equal(t, "pending", order.Status)
		assert.Empty(t, order.ProviderOrderID)
		assert.Equal(t, 8.00, newBalance)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("insufficient balance refuses before any write", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)

		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance, currency FROM users WHERE id = \\$1 FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "currency"}).AddRow(1.00, "EUR"))
		sqlMock.ExpectRollback()

		_, _, err := os.PlaceOrder("user-1", followerService(), "https://instagram.com/acct", 1000)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)

		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance, currency FROM users WHERE id = \\$1 FOR UPDATE").
			WillReturnError(errNoRows())
		sqlMock.ExpectRollback()

		_, _, err := os.PlaceOrder("ghost", followerService(), "https://instagram.com/acct", 1000)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("fractional rates round half away from zero", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)
		svc := followerService()
		svc.RatePer1000 = 3.33

		// 150 * 3.33 / 1000 = 0.4995 -> 0.50
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance, currency FROM users WHERE id = \\$1 FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "currency"}).AddRow(10.00, "EUR"))
		sqlMock.ExpectExec("INSERT INTO orders").
			WithArgs(sqlmock.AnyArg(), "user-1", "svc-1", "https://instagram.com/acct", 150, 0.50, "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectExec("UPDATE users SET balance").
			WithArgs(9.50, sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		sqlMock.ExpectCommit()

		order, newBalance, err := os.PlaceOrder("user-1", svc, "https://instagram.com/acct", 150)
		require.NoError(t, err)
		assert.Equal(t, 0.50, order.Price)
		assert.Equal(t, 9.50, newBalance)
	})
}

func TestOrderService_CreateOrderHandler(t *testing.T) {
	authed := func(r *http.Request, userID string) *http.Request {
		return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
	}

	t.Run("rejects anonymous requests", func(t *testing.T) {
		os, _ := newOrderFixture(t)

		r := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{}`))
		w := httptest.NewRecorder()
		os.CreateOrder(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects quantity outside the service bounds", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)

		sqlMock.ExpectQuery("SELECT id, name, external_id, min_quantity, max_quantity, rate_per_1000, active").
			WithArgs("svc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "external_id", "min_quantity", "max_quantity", "rate_per_1000", "active"}).
				AddRow("svc-1", "Instagram Followers", "1001", 100, 10000, 2.00, true))

		body := `{"service_id":"svc-1","link":"https://instagram.com/acct","quantity":50}`
		r := authed(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "user-1")
		w := httptest.NewRecorder()
		os.CreateOrder(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "between 100 and 10000")
	})

	t.Run("rejects unknown fields and non-url links", func(t *testing.T) {
		os, _ := newOrderFixture(t)

		for _, body := range []string{
			`{"service_id":"svc-1","link":"not a url","quantity":500}`,
			`{"service_id":"svc-1","link":"https://x.com/a","quantity":500,"price":0.01}`,
		} {
			r := authed(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "user-1")
			w := httptest.NewRecorder()
			os.CreateOrder(w, r)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	})

	t.Run("insufficient balance maps to 402", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)

		sqlMock.ExpectQuery("SELECT id, name, external_id, min_quantity, max_quantity, rate_per_1000, active").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "external_id", "min_quantity", "max_quantity", "rate_per_1000", "active"}).
				AddRow("svc-1", "Instagram Followers", "1001", 100, 10000, 2.00, true))
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance, currency FROM users WHERE id = \\$1 FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "currency"}).AddRow(0.50, "EUR"))
		sqlMock.ExpectRollback()

		body := `{"service_id":"svc-1","link":"https://instagram.com/acct","quantity":1000}`
		r := authed(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "user-1")
		w := httptest.NewRecorder()
		os.CreateOrder(w, r)
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})

	t.Run("inactive service is not orderable", func(t *testing.T) {
		os, sqlMock := newOrderFixture(t)

		sqlMock.ExpectQuery("SELECT id, name, external_id, min_quantity, max_quantity, rate_per_1000, active").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "external_id", "min_quantity", "max_quantity", "rate_per_1000", "active"}).
				AddRow("svc-1", "Instagram Followers", "1001", 100, 10000, 2.00, false))

		body := `{"service_id":"svc-1","link":"https://instagram.com/acct","quantity":1000}`
		r := authed(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "user-1")
		w := httptest.NewRecorder()
		os.CreateOrder(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestScanOrder_CompletedAt(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	sqlMock.ExpectQuery("SELECT (.+) FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "service_id", "link", "quantity", "price", "status",
			"provider_order_id", "provider_status", "last_error", "completed_at", "created_at", "updated_at",
		}).AddRow("order-1", "user-1", "svc-1", "https://x.com/a", 1000, 2.00, "completed",
			"98765", "Completed", "", now, now, now))

	row := db.QueryRow(`SELECT ` + orderColumns + ` FROM orders WHERE id = 'order-1'`)
	order, err := scanOrder(row)
	require.NoError(t, err)
	require.NotNil(t, order.CompletedAt)
	assert.Equal(t, "completed", order.Status)
	assert.Equal(t, "98765", order.ProviderOrderID)
}
