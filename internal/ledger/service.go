package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/pkg/money"
)

// Common errors. Contribution-guard sentinels (ErrAlreadyContributed and
// friends) live in the payment package, which owns the contribution flow.
var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrRoundOutOfRange = errors.New("round is out of range for this pool")
)

// PaymentSource is the read surface the ledger needs from the payment store
type PaymentSource interface {
	ListByPoolRound(ctx context.Context, poolID int64, round int, typ payment.Type) ([]*payment.Record, error)
}

// MemberContribution is one member's contribution state within a round
type MemberContribution struct {
	MemberID    int64        `json:"member_id"`
	UserID      int64        `json:"user_id"`
	Name        string       `json:"name,omitempty"`
	Position    int          `json:"position"`
	Contributed bool         `json:"contributed"`
	PaymentID   *string      `json:"payment_id,omitempty"`
	Amount      money.Amount `json:"amount"`
}

// RoundStatus is the per-round aggregate: recipient, who has paid, and
// whether the payout gate is open
type RoundStatus struct {
	PoolID                   int64                 `json:"pool_id"`
	Round                    int                   `json:"round"`
	RecipientMemberID        int64                 `json:"recipient_member_id"`
	RecipientUserID          int64                 `json:"recipient_user_id"`
	RecipientName            string                `json:"recipient_name,omitempty"`
	Contributions            []*MemberContribution `json:"contributions"`
	AllContributionsReceived bool                  `json:"all_contributions_received"`
}

// Obligation describes what a member owes into an upcoming round
type Obligation struct {
	PoolID       int64        `json:"pool_id"`
	PoolName     string       `json:"pool_name"`
	Round        int          `json:"round"`
	Amount       money.Amount `json:"amount"`
	CurrencyCode string       `json:"currency_code"`
	DueDate      time.Time    `json:"due_date"`
	IsRecipient  bool         `json:"is_recipient"`
	Contributed  bool         `json:"contributed"`
}

// Service computes round ledger state on read from the payment store.
// Nothing here is cached: the store's uniqueness constraints are the
// source of truth, so the ledger converges regardless of event order.
type Service struct {
	pools    pool.Directory
	payments PaymentSource
	policy   Policy
}

// NewService creates a new ledger service
func NewService(pools pool.Directory, payments PaymentSource, policy Policy) *Service {
	return &Service{
		pools:    pools,
		payments: payments,
		policy:   policy,
	}
}

// Policy exposes the configured payout policy (shared with the payout scheduler)
func (s *Service) Policy() Policy {
	return s.policy
}

// GetStatus computes the contribution ledger for a pool round
func (s *Service) GetStatus(ctx context.Context, poolID int64, round int) (*RoundStatus, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	if round < 1 || round > p.TotalRounds {
		return nil, ErrRoundOutOfRange
	}

	members, err := s.pools.ListMembers(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var recipient *pool.Member
	for _, m := range members {
		if m.Position == round {
			recipient = m
			break
		}
	}
	if recipient == nil {
		return nil, payment.ErrNoRecipient
	}

	counted, err := s.countedContributions(ctx, poolID, round)
	if err != nil {
		return nil, err
	}

	status := &RoundStatus{
		PoolID:                   poolID,
		Round:                    round,
		RecipientMemberID:        recipient.ID,
		RecipientUserID:          recipient.UserID,
		RecipientName:            recipient.Name,
		AllContributionsReceived: true,
	}

	for _, m := range members {
		if !s.policy.OwesContribution(m, round) {
			continue
		}

		entry := &MemberContribution{
			MemberID: m.ID,
			UserID:   m.UserID,
			Name:     m.Name,
			Position: m.Position,
			Amount:   p.ContributionAmount,
		}
		if rec, ok := counted[m.ID]; ok {
			entry.Contributed = true
			entry.PaymentID = &rec.PaymentID
		} else {
			status.AllContributionsReceived = false
		}
		status.Contributions = append(status.Contributions, entry)
	}

	return status, nil
}

// CheckContribution validates that a member may contribute into a round.
// Rejections: the round recipient under the recipient-exempt policy, and
// members who already have a counted contribution.
func (s *Service) CheckContribution(ctx context.Context, poolID int64, round int, memberID int64) error {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPoolNotFound
	}

	members, err := s.pools.ListMembers(ctx, poolID)
	if err != nil {
		return err
	}

	var member *pool.Member
	hasRecipient := false
	for _, m := range members {
		if m.ID == memberID {
			member = m
		}
		if m.Position == round {
			hasRecipient = true
		}
	}
	if member == nil {
		return payment.ErrMemberNotFound
	}
	if !hasRecipient {
		return payment.ErrNoRecipient
	}

	if !s.policy.OwesContribution(member, round) {
		return payment.ErrRecipientCannotContribute
	}

	counted, err := s.countedContributions(ctx, poolID, round)
	if err != nil {
		return err
	}
	if _, ok := counted[memberID]; ok {
		return payment.ErrAlreadyContributed
	}

	return nil
}

// GetUpcomingObligations returns what the user owes into the current round
// of each active pool they belong to
func (s *Service) GetUpcomingObligations(ctx context.Context, userID int64) ([]*Obligation, error) {
	poolIDs, err := s.pools.ListPoolIDsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var obligations []*Obligation
	for _, poolID := range poolIDs {
		p, err := s.pools.GetByID(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if p == nil || p.IsComplete() {
			continue
		}

		member, err := s.pools.GetMemberByUserID(ctx, poolID, userID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			continue
		}

		isRecipient := member.Position == p.CurrentRound
		if !s.policy.OwesContribution(member, p.CurrentRound) {
			obligations = append(obligations, &Obligation{
				PoolID:       p.ID,
				PoolName:     p.Name,
				Round:        p.CurrentRound,
				Amount:       0,
				CurrencyCode: p.CurrencyCode,
				DueDate:      roundDueDate(p),
				IsRecipient:  isRecipient,
				Contributed:  true,
			})
			continue
		}

		counted, err := s.countedContributions(ctx, poolID, p.CurrentRound)
		if err != nil {
			return nil, err
		}
		_, contributed := counted[member.ID]

		obligations = append(obligations, &Obligation{
			PoolID:       p.ID,
			PoolName:     p.Name,
			Round:        p.CurrentRound,
			Amount:       p.ContributionAmount,
			CurrencyCode: p.CurrencyCode,
			DueDate:      roundDueDate(p),
			IsRecipient:  isRecipient,
			Contributed:  contributed,
		})
	}

	return obligations, nil
}

// countedContributions maps member IDs to their counted (COMPLETED or
// RELEASED) contribution for the round. At most one exists per member;
// the store's uniqueness constraint enforces that.
func (s *Service) countedContributions(ctx context.Context, poolID int64, round int) (map[int64]*payment.Record, error) {
	records, err := s.payments.ListByPoolRound(ctx, poolID, round, payment.TypeContribution)
	if err != nil {
		return nil, err
	}

	counted := make(map[int64]*payment.Record)
	for _, rec := range records {
		if rec.Status == payment.StatusCompleted || rec.Status == payment.StatusReleased {
			counted[rec.MemberID] = rec
		}
	}
	return counted, nil
}

// roundDueDate computes when the current round's contributions are due
func roundDueDate(p *pool.Pool) time.Time {
	switch p.Frequency {
	case pool.FrequencyWeekly:
		return p.RoundStartedAt.AddDate(0, 0, 7)
	case pool.FrequencyMonthly:
		return p.RoundStartedAt.AddDate(0, 1, 0)
	default:
		return p.RoundStartedAt.AddDate(0, 1, 0)
	}
}
