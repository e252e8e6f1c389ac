package payout

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/amajid/jamiya/internal/activity"
	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/internal/ledger"
	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/pkg/money"
)

// Common errors
var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrPoolComplete    = errors.New("pool has completed all rounds")
	ErrNotAuthorized   = errors.New("pool admin capability required")
	ErrRoundIncomplete = errors.New("round is not fully funded yet")
	ErrNoRecipient     = errors.New("no member occupies the recipient position for this round")
)

// RoundReader is the ledger surface the payout flow gates on
type RoundReader interface {
	GetStatus(ctx context.Context, poolID int64, round int) (*ledger.RoundStatus, error)
	Policy() ledger.Policy
}

// Eligibility reports whether the current round can pay out and for how
// much. Eligible means the round is fully funded and no live payout
// record exists yet; Executed means a completed payout already went out.
type Eligibility struct {
	PoolID            int64        `json:"pool_id"`
	Round             int          `json:"round"`
	RecipientMemberID int64        `json:"recipient_member_id"`
	RecipientUserID   int64        `json:"recipient_user_id"`
	Amount            money.Amount `json:"amount"`
	CurrencyCode      string       `json:"currency_code"`
	Eligible          bool         `json:"eligible"`
	Executed          bool         `json:"executed"`
}

// Service executes round payouts. The eligibility gate is recomputed
// inside ExecutePayout immediately before the transfer, never trusted
// from an earlier read, and the one-payout-per-round uniqueness lives in
// the store so concurrent executions collapse to a single transfer.
type Service struct {
	store    payment.Store
	pools    pool.Directory
	rounds   RoundReader
	gw       gateway.Client
	activity activity.Logger
}

// NewService creates a new payout service
func NewService(store payment.Store, pools pool.Directory, rounds RoundReader, gw gateway.Client, activityLog activity.Logger) *Service {
	return &Service{
		store:    store,
		pools:    pools,
		rounds:   rounds,
		gw:       gw,
		activity: activityLog,
	}
}

// CanPayout computes the current round's payout eligibility
func (s *Service) CanPayout(ctx context.Context, poolID int64) (*Eligibility, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	if p.IsComplete() {
		return nil, ErrPoolComplete
	}

	status, err := s.rounds.GetStatus(ctx, poolID, p.CurrentRound)
	if err != nil {
		if errors.Is(err, payment.ErrNoRecipient) {
			return nil, ErrNoRecipient
		}
		return nil, err
	}

	members, err := s.pools.ListMembers(ctx, poolID)
	if err != nil {
		return nil, err
	}

	existing, err := s.existingPayout(ctx, poolID, p.CurrentRound)
	if err != nil {
		return nil, err
	}

	return &Eligibility{
		PoolID:            poolID,
		Round:             p.CurrentRound,
		RecipientMemberID: status.RecipientMemberID,
		RecipientUserID:   status.RecipientUserID,
		Amount:            s.rounds.Policy().PayoutAmount(p.ContributionAmount, len(members)),
		CurrencyCode:      p.CurrencyCode,
		Eligible:          status.AllContributionsReceived && existing == nil,
		Executed:          existing != nil && existing.Status == payment.StatusCompleted,
	}, nil
}

// ExecutePayout transfers the round's pooled funds to the recipient and
// advances the pool to the next round. Requires the pool-admin
// capability. Idempotent: re-executing a paid round returns the existing
// payout record.
func (s *Service) ExecutePayout(ctx context.Context, actorID int64, poolID int64) (*payment.Record, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	if p.IsComplete() {
		return nil, ErrPoolComplete
	}

	isAdmin, err := s.pools.IsAdmin(ctx, poolID, actorID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrNotAuthorized
	}

	round := p.CurrentRound

	// Recompute the gate now; an eligibility check made earlier in the
	// request cannot be trusted after other transitions landed
	status, err := s.rounds.GetStatus(ctx, poolID, round)
	if err != nil {
		if errors.Is(err, payment.ErrNoRecipient) {
			return nil, ErrNoRecipient
		}
		return nil, err
	}
	if !status.AllContributionsReceived {
		return nil, ErrRoundIncomplete
	}

	members, err := s.pools.ListMembers(ctx, poolID)
	if err != nil {
		return nil, err
	}
	amount := s.rounds.Policy().PayoutAmount(p.ContributionAmount, len(members))

	var recipient *pool.Member
	for _, m := range members {
		if m.ID == status.RecipientMemberID {
			recipient = m
			break
		}
	}
	if recipient == nil {
		return nil, ErrNoRecipient
	}

	rec, err := s.payoutRecord(ctx, p, status, amount)
	if err != nil {
		return nil, err
	}
	if rec.Status == payment.StatusCompleted {
		return rec, nil
	}

	// A record that already carries a batch id had its transfer go out on
	// an earlier attempt that died before completing; skip the gateway and
	// finish the bookkeeping
	if rec.GatewayOrderID == nil {
		result, err := s.payoutWithRetry(ctx, amount, p.CurrencyCode, recipient.Email)
		if err != nil {
			s.recordFailure(ctx, rec.PaymentID, err)
			return nil, err
		}

		// Stage the batch id in the order-id column the moment the
		// transfer exists, so a payout item webhook can correlate even if
		// the completion transition below never lands
		staged, err := s.store.Transition(ctx, rec.PaymentID,
			[]payment.Status{payment.StatusPending, payment.StatusProcessing},
			payment.StatusProcessing,
			payment.Effects{SetOrderID: &result.BatchID})
		if err != nil {
			if errors.Is(err, payment.ErrInvalidTransition) && staged != nil && staged.Status == payment.StatusCompleted {
				return staged, nil
			}
			return nil, err
		}
	}

	completed, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing},
		payment.StatusCompleted,
		payment.Effects{
			CreditPool:         -amount,
			MarkPayoutReceived: true,
			AdvancePoolRound:   true,
			SetProcessedAt:     true,
		})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && completed != nil && completed.Status == payment.StatusCompleted {
			// A concurrent execution or the webhook reconciler finished
			// first; the transfer stands
			return completed, nil
		}
		return nil, err
	}

	s.activity.LogActivity(ctx, actorID, activity.EventPayoutExecuted, map[string]string{
		"payment_id": completed.PaymentID,
		"pool_id":    formatInt(poolID),
		"round":      formatInt(int64(round)),
	})

	return completed, nil
}

// payoutRecord returns the round's payout record, creating a PENDING one
// if none exists. The store's one-payout-per-round constraint makes the
// create race safe: the loser re-reads the winner's record.
func (s *Service) payoutRecord(ctx context.Context, p *pool.Pool, status *ledger.RoundStatus, amount money.Amount) (*payment.Record, error) {
	existing, err := s.existingPayout(ctx, p.ID, status.Round)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rec := &payment.Record{
		PaymentID:    uuid.NewString(),
		PoolID:       p.ID,
		MemberID:     status.RecipientMemberID,
		UserID:       status.RecipientUserID,
		Round:        status.Round,
		Amount:       amount,
		CurrencyCode: p.CurrencyCode,
		Type:         payment.TypePayout,
		Status:       payment.StatusPending,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, payment.ErrDuplicatePayment) {
			existing, getErr := s.existingPayout(ctx, p.ID, status.Round)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	return rec, nil
}

// existingPayout finds the round's live payout record, if any. Failed and
// cancelled attempts do not count; a retry creates a fresh record.
func (s *Service) existingPayout(ctx context.Context, poolID int64, round int) (*payment.Record, error) {
	records, err := s.store.ListByPoolRound(ctx, poolID, round, payment.TypePayout)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Status != payment.StatusFailed && rec.Status != payment.StatusCancelled {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *Service) payoutWithRetry(ctx context.Context, amount money.Amount, currency, receiver string) (*gateway.PayoutResult, error) {
	result, err := s.gw.Payout(ctx, amount, currency, receiver)
	if err != nil && gateway.IsRetryable(err) {
		result, err = s.gw.Payout(ctx, amount, currency, receiver)
	}
	return result, err
}

func (s *Service) recordFailure(ctx context.Context, paymentID string, gwErr error) {
	reason := gwErr.Error()
	eff := payment.Effects{SetFailureReason: &reason, IncrementFailureCount: true}

	from := []payment.Status{payment.StatusPending, payment.StatusProcessing}
	to := payment.StatusFailed
	if gateway.IsRetryable(gwErr) {
		to = payment.StatusPending
		from = []payment.Status{payment.StatusPending}
	}

	_, err := s.store.Transition(ctx, paymentID, from, to, eff)
	if err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
		return
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
