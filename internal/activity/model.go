package activity

import "time"

// EventType classifies activity log entries
type EventType string

const (
	EventContributionInitiated EventType = "CONTRIBUTION_INITIATED"
	EventContributionCompleted EventType = "CONTRIBUTION_COMPLETED"
	EventContributionFailed    EventType = "CONTRIBUTION_FAILED"
	EventEscrowReleased        EventType = "ESCROW_RELEASED"
	EventEscrowVoided          EventType = "ESCROW_VOIDED"
	EventPayoutExecuted        EventType = "PAYOUT_EXECUTED"
	EventPaymentCancelled      EventType = "PAYMENT_CANCELLED"
)

// Activity represents one entry in the user-visible activity log
type Activity struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"user_id"`
	EventType EventType         `json:"event_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
