package payment

import (
	"time"

	"github.com/amajid/jamiya/pkg/money"
)

// Type classifies a money-movement record
type Type string

const (
	TypeContribution  Type = "CONTRIBUTION"
	TypeEscrow        Type = "ESCROW"
	TypeEscrowRelease Type = "ESCROW_RELEASE"
	TypePayout        Type = "PAYOUT"
	TypeRefund        Type = "REFUND"
	TypeFee           Type = "FEE"
)

// Status represents the lifecycle status of a payment record
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusScheduled  Status = "SCHEDULED"
	StatusEscrowed   Status = "ESCROWED"
	StatusCompleted  Status = "COMPLETED"
	StatusReleased   Status = "RELEASED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether a record in this status is immutable
// (except for denormalized display fields)
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusReleased, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExternalIDField names a gateway correlation column for reconciliation
// lookups. The gateway never knows our payment ID, so webhook events are
// matched on one of these.
type ExternalIDField string

const (
	ExternalOrderID         ExternalIDField = "gateway_order_id"
	ExternalAuthorizationID ExternalIDField = "gateway_authorization_id"
	ExternalCaptureID       ExternalIDField = "gateway_capture_id"
)

// Record is the atomic unit of money movement. PaymentID doubles as the
// idempotency key for local operations.
type Record struct {
	PaymentID              string       `json:"payment_id"`
	PoolID                 int64        `json:"pool_id"`
	MemberID               int64        `json:"member_id"`
	UserID                 int64        `json:"user_id"`
	Round                  int          `json:"round"`
	Amount                 money.Amount `json:"amount"`
	CurrencyCode           string       `json:"currency_code"`
	Type                   Type         `json:"type"`
	Status                 Status       `json:"status"`
	GatewayOrderID         *string      `json:"gateway_order_id,omitempty"`
	GatewayAuthorizationID *string      `json:"gateway_authorization_id,omitempty"`
	GatewayCaptureID       *string      `json:"gateway_capture_id,omitempty"`
	RelatedPaymentID       *string      `json:"related_payment_id,omitempty"`
	FailureReason          *string      `json:"failure_reason,omitempty"`
	FailureCount           int          `json:"failure_count"`
	ReleaseDate            *time.Time   `json:"release_date,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	ProcessedAt            *time.Time   `json:"processed_at,omitempty"`
	ReleasedAt             *time.Time   `json:"released_at,omitempty"`
}

// Effects are side effects applied atomically with a status transition.
// All of them execute in the same transaction as the conditional status
// update; partial application is the failure mode this exists to prevent.
type Effects struct {
	// CreditPool adjusts the pool's held balance (signed minor units)
	CreditPool money.Amount

	// CountContribution bumps the member's total_contributed and
	// payments_on_time counters by the record amount
	CountContribution bool

	// MarkPayoutReceived sets payout_received on the record's member
	MarkPayoutReceived bool

	// AdvancePoolRound increments the pool's current round and marks the
	// pool COMPLETE once the round passes total_rounds
	AdvancePoolRound bool

	// InsertLinked inserts a new record (e.g. an escrow release) tied to
	// the transitioned record via related_payment_id
	InsertLinked *Record

	// Correlation ids observed from the gateway
	SetOrderID         *string
	SetAuthorizationID *string
	SetCaptureID       *string

	// Failure metadata
	SetFailureReason      *string
	IncrementFailureCount bool

	// Timestamps
	SetProcessedAt bool
	SetReleasedAt  bool
}
