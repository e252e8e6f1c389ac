package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amajid/jamiya/pkg/money"
)

// Error is a classified gateway failure. Retryable errors (timeouts,
// 5xx, throttling) may be retried once immediately by callers; terminal
// errors (declines, invalid requests) are recorded and surfaced.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether err is a retryable gateway error
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// AuthorizeResult carries the gateway order created for a payment
type AuthorizeResult struct {
	OrderID string `json:"order_id"`
}

// CaptureResult carries the outcome of a capture call
type CaptureResult struct {
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"`
}

// PayoutResult carries the outcome of a payout call
type PayoutResult struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// Client is the outbound payment gateway boundary. Calls run outside any
// store transaction; only the transition recording their result is atomic.
type Client interface {
	Authorize(ctx context.Context, amount money.Amount, currency string, metadata map[string]string) (*AuthorizeResult, error)
	Capture(ctx context.Context, orderID, authorizationID string) (*CaptureResult, error)
	Void(ctx context.Context, authorizationID string) error
	Payout(ctx context.Context, amount money.Amount, currency, receiverEmail string) (*PayoutResult, error)
}

// HTTPClient talks to a PayPal-style authorize-and-capture gateway
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a gateway client with a request timeout. The
// timeout guarantees an outbound call can never hang a request handler;
// a timed-out call surfaces as a retryable gateway error and the payment
// record stays PENDING or is marked FAILED by the caller.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Authorize creates a gateway order for the given amount
func (c *HTTPClient) Authorize(ctx context.Context, amount money.Amount, currency string, metadata map[string]string) (*AuthorizeResult, error) {
	body := map[string]interface{}{
		"amount":   amount.Decimal(),
		"currency": currency,
		"metadata": metadata,
	}

	var result AuthorizeResult
	if err := c.post(ctx, "/v2/checkout/orders", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Capture captures an approved order or authorization
func (c *HTTPClient) Capture(ctx context.Context, orderID, authorizationID string) (*CaptureResult, error) {
	var path string
	switch {
	case authorizationID != "":
		path = fmt.Sprintf("/v2/payments/authorizations/%s/capture", authorizationID)
	case orderID != "":
		path = fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	default:
		return nil, &Error{Code: "MISSING_REFERENCE", Message: "order or authorization id required", Retryable: false}
	}

	var result CaptureResult
	if err := c.post(ctx, path, map[string]interface{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Void voids a pending authorization
func (c *HTTPClient) Void(ctx context.Context, authorizationID string) error {
	path := fmt.Sprintf("/v2/payments/authorizations/%s/void", authorizationID)
	return c.post(ctx, path, map[string]interface{}{}, nil)
}

// Payout sends pooled funds to the round recipient
func (c *HTTPClient) Payout(ctx context.Context, amount money.Amount, currency, receiverEmail string) (*PayoutResult, error) {
	body := map[string]interface{}{
		"amount":   amount.Decimal(),
		"currency": currency,
		"receiver": receiverEmail,
	}

	var result PayoutResult
	if err := c.post(ctx, "/v1/payments/payouts", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure or timeout: retryable, record stays pending
		return &Error{Code: "NETWORK", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &Error{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: "gateway unavailable", Retryable: true}
	}
	if resp.StatusCode >= 400 {
		var gwBody struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&gwBody)
		code := gwBody.Name
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return &Error{Code: code, Message: gwBody.Message, Retryable: false}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}

	return nil
}
