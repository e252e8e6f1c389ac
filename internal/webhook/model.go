package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amajid/jamiya/pkg/money"
)

// EventType identifies a supported gateway event
type EventType string

const (
	EventOrderApproved        EventType = "CHECKOUT.ORDER.APPROVED"
	EventOrderCompleted       EventType = "CHECKOUT.ORDER.COMPLETED"
	EventAuthorizationCreated EventType = "PAYMENT.AUTHORIZATION.CREATED"
	EventAuthorizationVoided  EventType = "PAYMENT.AUTHORIZATION.VOIDED"
	EventCaptureCompleted     EventType = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied        EventType = "PAYMENT.CAPTURE.DENIED"
	EventCaptureRefunded      EventType = "PAYMENT.CAPTURE.REFUNDED"
	EventPayoutSucceeded      EventType = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	EventPayoutFailed         EventType = "PAYMENT.PAYOUTS-ITEM.FAILED"
)

// ErrMalformedEvent marks a payload that cannot be normalized at all
var ErrMalformedEvent = errors.New("malformed webhook event payload")

// Supported reports whether the reconciler has a handler for the event
// type. Unsupported events still parse, get stored, and resolve as
// anomalies; only structurally broken payloads are rejected.
func (t EventType) Supported() bool {
	switch t {
	case EventOrderApproved, EventOrderCompleted,
		EventAuthorizationCreated, EventAuthorizationVoided,
		EventCaptureCompleted, EventCaptureDenied, EventCaptureRefunded,
		EventPayoutSucceeded, EventPayoutFailed:
		return true
	}
	return false
}

// Event is the normalized form of a gateway notification. The raw
// payload's loosely-typed resource block is validated and mapped onto
// these fields before any transition logic sees it.
type Event struct {
	ID              string
	Type            EventType
	OrderID         string
	AuthorizationID string
	CaptureID       string
	Amount          money.Amount
	CurrencyCode    string
	Reason          string
	CreateTime      time.Time
}

// envelope mirrors the gateway's wire format
type envelope struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID              string `json:"id"`
		OrderID         string `json:"order_id"`
		AuthorizationID string `json:"authorization_id"`
		PayoutBatchID   string `json:"payout_batch_id"`
		Amount          struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

// ParseEvent validates and normalizes a raw gateway payload. The meaning
// of resource.id depends on the event family, so it is mapped onto the
// correct correlation field here and nowhere else.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: missing id or event_type", ErrMalformedEvent)
	}

	evt := &Event{
		ID:              env.ID,
		Type:            EventType(env.EventType),
		OrderID:         env.Resource.OrderID,
		AuthorizationID: env.Resource.AuthorizationID,
		Reason:          env.Resource.StatusDetails.Reason,
		CreateTime:      env.CreateTime,
	}

	switch evt.Type {
	case EventOrderApproved, EventOrderCompleted:
		evt.OrderID = env.Resource.ID
	case EventAuthorizationCreated, EventAuthorizationVoided:
		evt.AuthorizationID = env.Resource.ID
	case EventCaptureCompleted, EventCaptureDenied, EventCaptureRefunded:
		evt.CaptureID = env.Resource.ID
	case EventPayoutSucceeded, EventPayoutFailed:
		// Payout items correlate via the batch id recorded at execution
		evt.OrderID = env.Resource.PayoutBatchID
	default:
		// Unrecognized families keep whatever correlation ids the
		// resource block carried explicitly
	}

	if env.Resource.Amount.Value != "" {
		amount, err := money.ParseDecimal(env.Resource.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedEvent, env.Resource.Amount.Value)
		}
		evt.Amount = amount
		evt.CurrencyCode = env.Resource.Amount.CurrencyCode
	}

	return evt, nil
}

// Outcome records how an event was resolved
type Outcome string

const (
	// OutcomeReceived: durably stored, not yet applied
	OutcomeReceived Outcome = "RECEIVED"
	// OutcomeApplied: drove a payment transition
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeNoop: record already in the target state (duplicate delivery)
	OutcomeNoop Outcome = "NOOP"
	// OutcomeOrphaned: no matching payment record yet; kept for retry
	OutcomeOrphaned Outcome = "ORPHANED"
	// OutcomeAnomaly: incompatible with the record's terminal state;
	// logged for operator investigation, never force-applied
	OutcomeAnomaly Outcome = "ANOMALY"
)

// StoredEvent is the durable audit row for a received gateway event
type StoredEvent struct {
	ID          int64
	EventID     string
	EventType   EventType
	Payload     []byte
	Outcome     Outcome
	Note        string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
