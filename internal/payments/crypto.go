package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/boostpanel/backend/internal/models"
)

// CryptoProvider accepts wallet top-ups paid to a fixed deposit address. A
// chain watcher posts confirmation webhooks signed with a shared HMAC secret;
// there is no capture step, so deposits resolve either through the webhook or
// through reconciliation against the watcher's query endpoint.
type CryptoProvider struct {
	depositAddress string
	webhookSecret  string
	coin           string
}

func NewCryptoProvider(depositAddress, webhookSecret, coin string) *CryptoProvider {
	if coin == "" {
		coin = "btc"
	}
	return &CryptoProvider{
		depositAddress: depositAddress,
		webhookSecret:  webhookSecret,
		coin:           coin,
	}
}

func (p *CryptoProvider) Name() string {
	return models.ProviderCrypto
}

// CreateCheckout issues a payment reference and a QR code for the deposit
// URI. The reference travels in the transfer memo so the watcher can match
// the deposit back to the pending entry.
func (p *CryptoProvider) CreateCheckout(_ context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if p.depositAddress == "" {
		return nil, fmt.Errorf("crypto deposit address not configured")
	}

	reference := uuid.New().String()
	uri := fmt.Sprintf("%s:%s?amount=%.2f&message=%s", p.coin, p.depositAddress, params.Amount, reference)

	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("qr encode failed: %v", err)
	}

	return &CheckoutSession{
		ProviderOrderID: reference,
		Meta: map[string]string{
			"address": p.depositAddress,
			"uri":     uri,
			"qr_png":  base64.StdEncoding.EncodeToString(png),
		},
	}, nil
}

// Capture does not apply to chain deposits; confirmation only ever arrives
// via the watcher webhook or reconciliation.
func (p *CryptoProvider) Capture(_ context.Context, providerOrderID string) (*CaptureResult, error) {
	return &CaptureResult{Paid: false, Raw: `{"detail":"crypto deposits confirm via watcher webhook"}`}, nil
}

func (p *CryptoProvider) QueryOrder(_ context.Context, providerOrderID string) (*OrderStatus, error) {
	return nil, fmt.Errorf("crypto watcher has no query endpoint configured")
}

type cryptoWebhookEvent struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	Reference     string `json:"reference"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
}

// ParseWebhook validates the watcher's HMAC signature and maps confirmed
// deposits to a credit action. Anything else is recorded and ignored.
func (p *CryptoProvider) ParseWebhook(body []byte, headers http.Header) (*WebhookMessage, error) {
	if p.webhookSecret != "" {
		sig := headers.Get("X-Watcher-Signature")
		mac := hmac.New(sha256.New, []byte(p.webhookSecret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if sig == "" || !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
			return nil, fmt.Errorf("%w: bad watcher signature", ErrMalformedEvent)
		}
	}

	var ev cryptoWebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	msg := &WebhookMessage{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		OrderID:   ev.Reference,
		CaptureID: ev.TxHash,
		Action:    ActionNone,
	}
	if ev.EventType == "deposit.confirmed" && ev.Reference != "" {
		msg.Action = ActionCredit
	}
	return msg, nil
}
