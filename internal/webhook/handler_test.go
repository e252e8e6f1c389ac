package webhook_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/webhook"
)

func postEvent(t *testing.T, handler http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/gateway", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Gateway-Signature", signature)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	verifier := webhook.NewVerifier("topsecret")
	handler := webhook.NewHandler(verifier, f.svc).Routes()

	body := captureCompleted("evt-1", "cap-1", "ord-1")

	if res := postEvent(t, handler, body, ""); res.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: expected 400, got %d", res.Code)
	}
	if res := postEvent(t, handler, body, "deadbeef"); res.Code != http.StatusBadRequest {
		t.Fatalf("wrong signature: expected 400, got %d", res.Code)
	}
}

func TestWebhookEndpointUnavailableWithoutSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	handler := webhook.NewHandler(webhook.NewVerifier(""), f.svc).Routes()

	body := captureCompleted("evt-1", "cap-1", "ord-1")
	if res := postEvent(t, handler, body, "deadbeef"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without secret, got %d", res.Code)
	}
}

func TestWebhookEndpointAcknowledgesProcessedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	verifier := webhook.NewVerifier("topsecret")
	handler := webhook.NewHandler(verifier, f.svc).Routes()

	body := captureCompleted("evt-1", "cap-1", "ord-1")
	res := postEvent(t, handler, body, verifier.Sign([]byte(body)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success || envelope.Data.Outcome != string(webhook.OutcomeApplied) {
		t.Fatalf("unexpected response: %s", res.Body.String())
	}
}

func TestWebhookEndpointRejectsMalformedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	verifier := webhook.NewVerifier("topsecret")
	handler := webhook.NewHandler(verifier, f.svc).Routes()

	body := `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`
	if res := postEvent(t, handler, body, verifier.Sign([]byte(body))); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed event, got %d", res.Code)
	}

	// An orphaned event is still acknowledged so the gateway stops resending
	orphan := captureCompleted("evt-x", "cap-x", "ord-x")
	if res := postEvent(t, handler, orphan, verifier.Sign([]byte(orphan))); res.Code != http.StatusOK {
		t.Fatalf("expected 200 for orphaned event, got %d", res.Code)
	}
}

func TestWebhookEndpointAcknowledgesUnrecognizedEventType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	verifier := webhook.NewVerifier("topsecret")
	handler := webhook.NewHandler(verifier, f.svc).Routes()

	// A signed delivery of an event family we have no handler for is
	// recorded as an anomaly and acknowledged, never bounced with a 4xx
	body := `{"id":"evt-u2","event_type":"PAYMENT.CAPTURE.PENDING","resource":{"id":"cap-1","order_id":"ord-1"}}`
	res := postEvent(t, handler, body, verifier.Sign([]byte(body)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success || envelope.Data.Outcome != string(webhook.OutcomeAnomaly) {
		t.Fatalf("unexpected response: %s", res.Body.String())
	}
}
