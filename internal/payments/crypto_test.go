package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCryptoProvider_CreateCheckout(t *testing.T) {
	provider := NewCryptoProvider("bc1qexampleaddress", "whsec", "btc")

	session, err := provider.CreateCheckout(context.Background(), CheckoutParams{
		UserID:   "user-1",
		Amount:   50.00,
		Currency: "EUR",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, session.ProviderOrderID)
	assert.Equal(t, "bc1qexampleaddress", session.Meta["address"])
	assert.Contains(t, session.Meta["uri"], "btc:bc1qexampleaddress")
	assert.Contains(t, session.Meta["uri"], "amount=50.00")
	assert.Contains(t, session.Meta["uri"], session.ProviderOrderID)

	png, err := base64.StdEncoding.DecodeString(session.Meta["qr_png"])
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	t.Run("unconfigured address rejected", func(t *testing.T) {
		bare := NewCryptoProvider("", "", "")
		_, err := bare.CreateCheckout(context.Background(), CheckoutParams{Amount: 10})
		assert.Error(t, err)
	})
}

func TestCryptoProvider_ParseWebhook(t *testing.T) {
	provider := NewCryptoProvider("bc1qexampleaddress", "whsec", "btc")

	t.Run("confirmed deposit maps to credit action", func(t *testing.T) {
		body := []byte(`{"event_id":"evt-1","event_type":"deposit.confirmed","reference":"ref-1","tx_hash":"abc123","confirmations":6}`)
		headers := http.Header{}
		headers.Set("X-Watcher-Signature", signBody("whsec", body))

		msg, err := provider.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, "evt-1", msg.EventID)
		assert.Equal(t, "ref-1", msg.OrderID)
		assert.Equal(t, "abc123", msg.CaptureID)
		assert.Equal(t, ActionCredit, msg.Action)
	})

	t.Run("seen deposit is recorded but ignored", func(t *testing.T) {
		body := []byte(`{"event_id":"evt-2","event_type":"deposit.seen","reference":"ref-1"}`)
		headers := http.Header{}
		headers.Set("X-Watcher-Signature", signBody("whsec", body))

		msg, err := provider.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, ActionNone, msg.Action)
	})

	t.Run("missing event id is malformed", func(t *testing.T) {
		body := []byte(`{"event_type":"deposit.confirmed","reference":"ref-1"}`)
		headers := http.Header{}
		headers.Set("X-Watcher-Signature", signBody("whsec", body))

		_, err := provider.ParseWebhook(body, headers)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("bad signature is malformed", func(t *testing.T) {
		body := []byte(`{"event_id":"evt-3","event_type":"deposit.confirmed","reference":"ref-1"}`)
		headers := http.Header{}
		headers.Set("X-Watcher-Signature", "deadbeef")

		_, err := provider.ParseWebhook(body, headers)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestRegistry(t *testing.T) {
	provider := NewCryptoProvider("bc1qexampleaddress", "", "")
	registry := NewRegistry(provider)

	got, err := registry.Get("crypto")
	require.NoError(t, err)
	assert.Same(t, provider, got.(*CryptoProvider))
	assert.True(t, registry.Has("crypto"))

	_, err = registry.Get("paypal")
	assert.Error(t, err)
	assert.False(t, registry.Has("paypal"))
}
