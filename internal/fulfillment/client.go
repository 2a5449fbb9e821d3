// Package fulfillment talks to the upstream SMM panel: order creation,
// status polling, and normalization of the panel's status vocabulary.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the contract the dispatch/sync loop needs from the panel.
type Client interface {
	// CreateOrder submits an order and returns the provider's order id.
	CreateOrder(ctx context.Context, externalServiceID, link string, quantity int) (string, error)
	// GetStatus returns the raw upstream status string for a provider order id.
	GetStatus(ctx context.Context, providerOrderID string) (string, error)
}

// APIError is a logical rejection from the panel, as opposed to a transport
// failure.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panel api error: %s", e.Message)
}

// PanelClient implements Client against the common SMM panel API shape
// (form-encoded key/action requests, JSON responses).
type PanelClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewPanelClient(baseURL, apiKey string, timeout time.Duration) *PanelClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PanelClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *PanelClient) CreateOrder(ctx context.Context, externalServiceID, link string, quantity int) (string, error) {
	params := url.Values{
		"action":   {"add"},
		"service":  {externalServiceID},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}

	var resp struct {
		Order json.Number `json:"order"`
		Error string      `json:"error"`
	}
	if err := c.call(ctx, params, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &APIError{Message: resp.Error}
	}
	if resp.Order.String() == "" || resp.Order.String() == "0" {
		return "", &APIError{Message: "no order id in response"}
	}
	return resp.Order.String(), nil
}

func (c *PanelClient) GetStatus(ctx context.Context, providerOrderID string) (string, error) {
	params := url.Values{
		"action": {"status"},
		"order":  {providerOrderID},
	}

	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.call(ctx, params, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &APIError{Message: resp.Error}
	}
	return resp.Status, nil
}

func (c *PanelClient) call(ctx context.Context, params url.Values, out any) error {
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("panel request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("panel response read failed: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("panel returned HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("panel response decode failed: %w", err)
	}
	return nil
}
