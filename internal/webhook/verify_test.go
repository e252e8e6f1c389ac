package webhook

import (
	"errors"
	"testing"
)

func TestVerifyAcceptsSignedBody(t *testing.T) {
	t.Parallel()

	v := NewVerifier("topsecret")
	body := []byte(`{"id":"evt-1"}`)

	if err := v.Verify(body, v.Sign(body)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	t.Parallel()

	v := NewVerifier("topsecret")
	body := []byte(`{"id":"evt-1"}`)

	cases := []string{
		"",
		"not-hex",
		"deadbeef",
		NewVerifier("othersecret").Sign(body),
	}
	for _, sig := range cases {
		if err := v.Verify(body, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("signature %q: expected ErrInvalidSignature, got %v", sig, err)
		}
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	v := NewVerifier("topsecret")
	sig := v.Sign([]byte(`{"amount":"10.00"}`))

	if err := v.Verify([]byte(`{"amount":"99.00"}`), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestVerifyUnavailableWithoutSecret(t *testing.T) {
	t.Parallel()

	v := NewVerifier("")
	if err := v.Verify([]byte("{}"), "deadbeef"); !errors.Is(err, ErrVerifierUnavailable) {
		t.Fatalf("expected ErrVerifierUnavailable, got %v", err)
	}
}

func TestParseEventCorrelationMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		wantType EventType
		check    func(t *testing.T, evt *Event)
	}{
		{
			name:     "order approved maps resource id to order",
			body:     `{"id":"evt-1","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ord-1"}}`,
			wantType: EventOrderApproved,
			check: func(t *testing.T, evt *Event) {
				if evt.OrderID != "ord-1" {
					t.Fatalf("expected order id ord-1, got %q", evt.OrderID)
				}
			},
		},
		{
			name:     "authorization created maps resource id to authorization",
			body:     `{"id":"evt-2","event_type":"PAYMENT.AUTHORIZATION.CREATED","resource":{"id":"auth-1","order_id":"ord-1"}}`,
			wantType: EventAuthorizationCreated,
			check: func(t *testing.T, evt *Event) {
				if evt.AuthorizationID != "auth-1" || evt.OrderID != "ord-1" {
					t.Fatalf("unexpected correlation: %+v", evt)
				}
			},
		},
		{
			name:     "capture completed maps resource id to capture",
			body:     `{"id":"evt-3","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","order_id":"ord-1","amount":{"value":"10.00","currency_code":"SAR"}}}`,
			wantType: EventCaptureCompleted,
			check: func(t *testing.T, evt *Event) {
				if evt.CaptureID != "cap-1" || evt.OrderID != "ord-1" {
					t.Fatalf("unexpected correlation: %+v", evt)
				}
				if evt.Amount != 1000 || evt.CurrencyCode != "SAR" {
					t.Fatalf("unexpected amount: %d %s", evt.Amount, evt.CurrencyCode)
				}
			},
		},
		{
			name:     "payout item maps batch id",
			body:     `{"id":"evt-4","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{"payout_batch_id":"batch-1"}}`,
			wantType: EventPayoutSucceeded,
			check: func(t *testing.T, evt *Event) {
				if evt.OrderID != "batch-1" {
					t.Fatalf("expected batch id in order correlation, got %q", evt.OrderID)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt, err := ParseEvent([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseEvent failed: %v", err)
			}
			if evt.Type != tc.wantType {
				t.Fatalf("expected type %s, got %s", tc.wantType, evt.Type)
			}
			tc.check(t, evt)
		})
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		`not json`,
		`{}`,
		`{"id":"evt-1"}`,
		`{"id":"evt-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","amount":{"value":"abc"}}}`,
	}
	for _, body := range cases {
		if _, err := ParseEvent([]byte(body)); err == nil {
			t.Fatalf("ParseEvent(%q) succeeded, expected error", body)
		}
	}
}

func TestParseEventKeepsUnrecognizedTypes(t *testing.T) {
	t.Parallel()

	// Gateways add event families over time; a well-formed envelope with
	// a type we have no handler for must still parse so it can be stored
	body := `{"id":"evt-5","event_type":"PAYMENT.CAPTURE.PENDING","resource":{"id":"cap-1","order_id":"ord-1"}}`
	evt, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if evt.Type.Supported() {
		t.Fatalf("expected %s to be unsupported", evt.Type)
	}
	if evt.OrderID != "ord-1" {
		t.Fatalf("expected explicit order correlation kept, got %q", evt.OrderID)
	}
}
