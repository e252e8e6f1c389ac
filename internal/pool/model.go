package pool

import (
	"time"

	"github.com/amajid/jamiya/pkg/money"
)

// Status represents the lifecycle status of a pool
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusComplete Status = "COMPLETE"
)

// Frequency represents the round cadence of a pool
type Frequency string

const (
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// MemberRole represents the role of a pool member
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// Pool represents a rotating savings pool. One member receives the pooled
// payout per round; currentRound runs 1..totalRounds, and totalRounds+1
// denotes a completed pool.
type Pool struct {
	ID                 int64        `json:"id"`
	Name               string       `json:"name"`
	ContributionAmount money.Amount `json:"contribution_amount"`
	CurrencyCode       string       `json:"currency_code"`
	Frequency          Frequency    `json:"frequency"`
	CurrentRound       int          `json:"current_round"`
	TotalRounds        int          `json:"total_rounds"`
	TotalAmount        money.Amount `json:"total_amount"` // escrow balance held for the pool
	Status             Status       `json:"status"`
	RoundStartedAt     time.Time    `json:"round_started_at"`
	CreatedAt          time.Time    `json:"created_at"`
}

// IsComplete reports whether every member has received a payout
func (p *Pool) IsComplete() bool {
	return p.CurrentRound > p.TotalRounds
}

// Member represents a user's membership in a pool. Position (1..N) fixes
// the round-robin payout order: the member whose position equals the
// pool's current round is that round's recipient.
type Member struct {
	ID               int64        `json:"id"`
	PoolID           int64        `json:"pool_id"`
	UserID           int64        `json:"user_id"`
	Position         int          `json:"position"`
	Role             MemberRole   `json:"role"`
	Email            string       `json:"email,omitempty"`
	Name             string       `json:"name,omitempty"`
	TotalContributed money.Amount `json:"total_contributed"`
	PaymentsOnTime   int          `json:"payments_on_time"`
	PaymentsMissed   int          `json:"payments_missed"`
	PayoutReceived   bool         `json:"payout_received"`
	JoinedAt         time.Time    `json:"joined_at"`
}
