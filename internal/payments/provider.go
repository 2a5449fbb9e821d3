// Package payments defines the capability contract a payment provider must
// satisfy and the registry the core dispatches through. The ledger core never
// branches on provider names; it selects a Provider and calls the contract.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedEvent marks a webhook payload that cannot yield an event id.
// Such payloads are rejected without a durable record.
var ErrMalformedEvent = errors.New("malformed webhook event")

// CheckoutParams describes one top-up attempt about to open a provider session.
type CheckoutParams struct {
	UserID    string
	EntryID   string
	Amount    float64
	Currency  string
	ReturnURL string
	CancelURL string
}

// CheckoutSession is the provider-side session opened for a pending entry.
type CheckoutSession struct {
	ProviderOrderID string
	ApproveURL      string
	Meta            map[string]string
}

// CaptureResult reports the outcome of a capture attempt.
type CaptureResult struct {
	CaptureID string
	Paid      bool
	Raw       string
}

// OrderStatus is the authoritative provider-side state of a payment session,
// used by the reconciliation sweep.
type OrderStatus struct {
	Paid      bool
	CaptureID string
	Raw       string
}

// WebhookAction tells the intake layer which business step an event asks for.
type WebhookAction int

const (
	// ActionNone marks event types the core has no interest in.
	ActionNone WebhookAction = iota
	// ActionCapture means the session was approved and a capture should run.
	ActionCapture
	// ActionCredit means funds moved and the matching entry should be credited.
	ActionCredit
)

// WebhookMessage is the provider-agnostic view of one provider callback.
type WebhookMessage struct {
	EventID   string
	EventType string
	OrderID   string
	CaptureID string
	Action    WebhookAction
}

// Provider is the per-provider capability set. Implementations own the wire
// format knowledge; the core owns the ledger semantics.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	Capture(ctx context.Context, providerOrderID string) (*CaptureResult, error)
	QueryOrder(ctx context.Context, providerOrderID string) (*OrderStatus, error)
	ParseWebhook(body []byte, headers http.Header) (*WebhookMessage, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider %q not configured", name)
	}
	return p, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}
