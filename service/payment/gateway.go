package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/homerun-app/homerun-server/cmd/models"
)

// Authorization statuses mirrored from the provider.
const (
	AuthStatusRequiresCapture = "requires_capture"
	AuthStatusSucceeded       = "succeeded"
	AuthStatusCanceled        = "canceled"
	AuthStatusFailed          = "failed"
)

// Authorization is the provider-side reservation of funds. The booking row
// stores only its id and a status mirror; the provider owns the rest.
type Authorization struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type CaptureResult struct {
	CapturedAmount int64  `json:"captured_amount"`
	Status         string `json:"status"`
}

// Gateway wraps the provider's authorize-then-capture primitives in manual
// capture mode. The gateway does not deduplicate: callers must not authorize
// twice for the same booking.
type Gateway interface {
	Authorize(ctx context.Context, amount int64, currency, payerRef string, bookingID uint) (*Authorization, error)
	UpdateAuthorizedAmount(ctx context.Context, authorizationID string, newAmount int64) (string, error)
	Capture(ctx context.Context, authorizationID string, amount int64) (*CaptureResult, error)
	Void(ctx context.Context, authorizationID string) (string, error)
	GetAuthorization(ctx context.Context, authorizationID string) (*Authorization, error)
}

// PayVaultClient talks to the PayVault REST API. Every authorization is
// created with capture_method=manual: the final amount is unknown at booking
// time (extensions, no-shows) and must stay voidable until check-in.
type PayVaultClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPayVaultClient(baseURL, secretKey string) *PayVaultClient {
	return &PayVaultClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type providerAuthorization struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Message  string `json:"message,omitempty"`
	Captured int64  `json:"amount_captured,omitempty"`
}

func (c *PayVaultClient) Authorize(ctx context.Context, amount int64, currency, payerRef string, bookingID uint) (*Authorization, error) {
	payload := map[string]interface{}{
		"amount":          amount,
		"currency":        currency,
		"payer_reference": payerRef,
		"capture_method":  "manual",
		"metadata": map[string]interface{}{
			"booking_id": bookingID,
		},
	}

	var resp providerAuthorization
	if err := c.post(ctx, "/v1/authorizations", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status == AuthStatusFailed {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentDeclined, resp.Message)
	}
	return &Authorization{ID: resp.ID, Status: resp.Status, Amount: resp.Amount, Currency: resp.Currency}, nil
}

func (c *PayVaultClient) UpdateAuthorizedAmount(ctx context.Context, authorizationID string, newAmount int64) (string, error) {
	payload := map[string]interface{}{"amount": newAmount}
	var resp providerAuthorization
	if err := c.post(ctx, "/v1/authorizations/"+authorizationID, payload, &resp); err != nil {
		return "", err
	}
	if resp.Status == AuthStatusFailed {
		return resp.Status, fmt.Errorf("%w: %s", models.ErrPaymentDeclined, resp.Message)
	}
	return resp.Status, nil
}

func (c *PayVaultClient) Capture(ctx context.Context, authorizationID string, amount int64) (*CaptureResult, error) {
	payload := map[string]interface{}{"amount": amount}
	var resp providerAuthorization
	if err := c.post(ctx, "/v1/authorizations/"+authorizationID+"/capture", payload, &resp); err != nil {
		return nil, err
	}
	captured := resp.Captured
	if captured == 0 {
		captured = resp.Amount
	}
	return &CaptureResult{CapturedAmount: captured, Status: resp.Status}, nil
}

func (c *PayVaultClient) Void(ctx context.Context, authorizationID string) (string, error) {
	var resp providerAuthorization
	if err := c.post(ctx, "/v1/authorizations/"+authorizationID+"/cancel", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *PayVaultClient) GetAuthorization(ctx context.Context, authorizationID string) (*Authorization, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/authorizations/"+authorizationID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("authorization %s: %w", authorizationID, models.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("get authorization: provider returned %d", resp.StatusCode)
	}

	var auth providerAuthorization
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("decode authorization: %w", err)
	}
	return &Authorization{ID: auth.ID, Status: auth.Status, Amount: auth.Amount, Currency: auth.Currency}, nil
}

func (c *PayVaultClient) post(ctx context.Context, path string, payload interface{}, out *providerAuthorization) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		var decline providerAuthorization
		json.NewDecoder(resp.Body).Decode(&decline)
		return fmt.Errorf("%w: %s", models.ErrPaymentDeclined, decline.Message)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider call %s: returned %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
