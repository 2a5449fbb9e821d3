package services

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boostpanel/backend/internal/config"
	"github.com/boostpanel/backend/internal/payments"
)

func newCheckoutFixture(t *testing.T) (*CheckoutService, *MockPaymentProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider := &MockPaymentProvider{}
	registry := payments.NewRegistry(provider)
	ledger := NewLedgerService(db, nil)
	cfg := &config.PaymentsConfig{MinTopUp: 5, MaxTopUp: 1000, DefaultCurrency: "EUR",
		ReturnURL: "https://app.example/success", CancelURL: "https://app.example/cancel"}

	return NewCheckoutService(registry, ledger, cfg, time.Second), provider, sqlMock
}

func TestCheckoutService_CreateCheckout(t *testing.T) {
	t.Run("pending entry plus provider session, nothing credited", func(t *testing.T) {
		cs, provider, sqlMock := newCheckoutFixture(t)

		sqlMock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "user-1", "topup", "pending", 50.00, "EUR", "paypal", "{}", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		provider.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(p payments.CheckoutParams) bool {
			return p.UserID == "user-1" && p.Amount == 50.00 && p.Currency == "EUR"
		})).Return(&payments.CheckoutSession{ProviderOrderID: "PAY-1", ApproveURL: "https://paypal.example/approve/PAY-1"}, nil)
		sqlMock.ExpectExec("UPDATE ledger_entries SET provider_order_id").
			WithArgs("PAY-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		entry, session, err := cs.CreateCheckout("user-1", 50.00, "EUR", "paypal")
		require.NoError(t, err)
		assert.Equal(t, "pending", entry.Status)
		assert.Equal(t, "PAY-1", entry.ProviderOrderID)
		assert.Equal(t, "https://paypal.example/approve/PAY-1", session.ApproveURL)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("provider session failure marks the entry failed", func(t *testing.T) {
		cs, provider, sqlMock := newCheckoutFixture(t)

		sqlMock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		provider.On("CreateCheckout", mock.Anything, mock.Anything).
			Return(nil, errors.New("paypal 503"))
		sqlMock.ExpectExec("UPDATE ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, _, err := cs.CreateCheckout("user-1", 50.00, "EUR", "paypal")
		assert.Error(t, err)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cs, _, sqlMock := newCheckoutFixture(t)

		_, _, err := cs.CreateCheckout("user-1", 50.00, "EUR", "stripe")
		assert.Error(t, err)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestCheckoutService_ConfirmTopUp(t *testing.T) {
	t.Run("unknown field rejected before any provider call", func(t *testing.T) {
		cs, provider, _ := newCheckoutFixture(t)

		body := `{"provider":"paypal","provider_order_id":"PAY-1","amount":99}`
		w := httptest.NewRecorder()
		cs.ConfirmTopUp(w, walletRequest(http.MethodPost, "/wallet/topup/confirm", body, "user-1"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		provider.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	})

	t.Run("trailing second object rejected", func(t *testing.T) {
		cs, provider, _ := newCheckoutFixture(t)

		body := `{"provider":"paypal","provider_order_id":"PAY-1"}{}`
		w := httptest.NewRecorder()
		cs.ConfirmTopUp(w, walletRequest(http.MethodPost, "/wallet/topup/confirm", body, "user-1"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		provider.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	})

	t.Run("missing provider fails validation", func(t *testing.T) {
		cs, _, _ := newCheckoutFixture(t)

		body := `{"provider_order_id":"PAY-1"}`
		w := httptest.NewRecorder()
		cs.ConfirmTopUp(w, walletRequest(http.MethodPost, "/wallet/topup/confirm", body, "user-1"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCheckoutService_CaptureAndCredit(t *testing.T) {
	t.Run("confirmed entry short-circuits without a capture call", func(t *testing.T) {
		cs, provider, sqlMock := newCheckoutFixture(t)
		now := time.Now()

		sqlMock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE provider = \\$1 AND provider_order_id = \\$2").
			WithArgs("paypal", "PAY-1", "topup").
			WillReturnRows(ledgerRows().AddRow(
				"entry-1", "user-1", "topup", "confirmed", 50.00, "EUR", "paypal",
				"PAY-1", "cap-1", "evt-1", 0.00, 50.00, now, "{}", now, now))

		result, err := cs.CaptureAndCredit("paypal", "PAY-1")
		require.NoError(t, err)
		assert.True(t, result.Already)
		provider.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("successful capture credits via the credit engine", func(t *testing.T) {
		cs, provider, sqlMock := newCheckoutFixture(t)
		now := time.Now()

		sqlMock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE provider = \\$1 AND provider_order_id = \\$2").
			WithArgs("paypal", "PAY-1", "topup").
			WillReturnRows(ledgerRows().AddRow(
				"entry-1", "user-1", "topup", "pending", 50.00, "EUR", "paypal",
				"PAY-1", "", "", nil, nil, nil, "{}", now, now))
		provider.On("Capture", mock.Anything, "PAY-1").
			Return(&payments.CaptureResult{CaptureID: "cap-1", Paid: true, Raw: `{"ok":true}`}, nil)
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT balance FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0.00))
		sqlMock.ExpectExec("UPDATE ledger_entries").
			WithArgs("entry-1", sqlmock.AnyArg(), 0.00, 50.00, "cap-1", "", `{"ok":true}`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		sqlMock.ExpectExec("UPDATE users SET balance").
			WithArgs(50.00, sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		sqlMock.ExpectCommit()

		result, err := cs.CaptureAndCredit("paypal", "PAY-1")
		require.NoError(t, err)
		assert.True(t, result.Credited)
		assert.Equal(t, 50.00, result.NewBalance)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unpaid capture leaves the entry pending", func(t *testing.T) {
		cs, provider, sqlMock := newCheckoutFixture(t)
		now := time.Now()

		sqlMock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE provider = \\$1 AND provider_order_id = \\$2").
			WillReturnRows(ledgerRows().AddRow(
				"entry-1", "user-1", "topup", "pending", 50.00, "EUR", "paypal",
				"PAY-1", "", "", nil, nil, nil, "{}", now, now))
		provider.On("Capture", mock.Anything, "PAY-1").
			Return(&payments.CaptureResult{Paid: false, Raw: `{"status":"PENDING"}`}, nil)

		result, err := cs.CaptureAndCredit("paypal", "PAY-1")
		require.NoError(t, err)
		assert.False(t, result.Credited)
		assert.False(t, result.Already)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unknown session id", func(t *testing.T) {
		cs, _, sqlMock := newCheckoutFixture(t)

		sqlMock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE provider = \\$1 AND provider_order_id = \\$2").
			WillReturnError(errNoRows())

		_, err := cs.CaptureAndCredit("paypal", "PAY-404")
		assert.ErrorIs(t, err, ErrEntryNotFound)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}
