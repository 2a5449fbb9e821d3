package services

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/boostpanel/backend/internal/payments"
)

func errNoRows() error { return sql.ErrNoRows }

type MockPaymentProvider struct {
	mock.Mock
	ProviderName string
}

func (m *MockPaymentProvider) Name() string {
	if m.ProviderName == "" {
		return "paypal"
	}
	return m.ProviderName
}

func (m *MockPaymentProvider) CreateCheckout(ctx context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.CheckoutSession), args.Error(1)
}

func (m *MockPaymentProvider) Capture(ctx context.Context, providerOrderID string) (*payments.CaptureResult, error) {
	args := m.Called(ctx, providerOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.CaptureResult), args.Error(1)
}

func (m *MockPaymentProvider) QueryOrder(ctx context.Context, providerOrderID string) (*payments.OrderStatus, error) {
	args := m.Called(ctx, providerOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.OrderStatus), args.Error(1)
}

func (m *MockPaymentProvider) ParseWebhook(body []byte, headers http.Header) (*payments.WebhookMessage, error) {
	args := m.Called(body, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.WebhookMessage), args.Error(1)
}

type MockFulfillmentClient struct {
	mock.Mock
}

func (m *MockFulfillmentClient) CreateOrder(ctx context.Context, externalServiceID, link string, quantity int) (string, error) {
	args := m.Called(ctx, externalServiceID, link, quantity)
	return args.String(0), args.Error(1)
}

func (m *MockFulfillmentClient) GetStatus(ctx context.Context, providerOrderID string) (string, error) {
	args := m.Called(ctx, providerOrderID)
	return args.String(0), args.Error(1)
}
