package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/payment/paymenttest"
	"github.com/amajid/jamiya/internal/pool"
)

func newTestLedger(t *testing.T, policy Policy) (*Service, *paymenttest.Store) {
	t.Helper()

	store := paymenttest.NewStore()
	store.AddPool(
		&pool.Pool{
			ID:                 1,
			Name:               "family pool",
			ContributionAmount: 1000,
			CurrencyCode:       "SAR",
			Frequency:          pool.FrequencyMonthly,
			CurrentRound:       1,
			TotalRounds:        3,
			Status:             pool.StatusActive,
			RoundStartedAt:     time.Now(),
		},
		&pool.Member{ID: 11, PoolID: 1, UserID: 101, Position: 1, Role: pool.MemberRoleAdmin},
		&pool.Member{ID: 12, PoolID: 1, UserID: 102, Position: 2, Role: pool.MemberRoleMember},
		&pool.Member{ID: 13, PoolID: 1, UserID: 103, Position: 3, Role: pool.MemberRoleMember},
	)

	return NewService(paymenttest.NewDirectory(store), store, policy), store
}

func addContribution(t *testing.T, store *paymenttest.Store, id string, memberID, userID int64, round int, status payment.Status) {
	t.Helper()

	err := store.Create(context.Background(), &payment.Record{
		PaymentID:    id,
		PoolID:       1,
		MemberID:     memberID,
		UserID:       userID,
		Round:        round,
		Amount:       1000,
		CurrencyCode: "SAR",
		Type:         payment.TypeContribution,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("failed to seed contribution: %v", err)
	}
}

func TestGetStatusGatesOnCountedContributions(t *testing.T) {
	t.Parallel()

	svc, store := newTestLedger(t, &RecipientExemptPolicy{})
	ctx := context.Background()

	status, err := svc.GetStatus(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.RecipientMemberID != 11 {
		t.Fatalf("expected recipient member 11, got %d", status.RecipientMemberID)
	}
	if status.AllContributionsReceived {
		t.Fatalf("expected gate closed with no contributions")
	}
	if len(status.Contributions) != 2 {
		t.Fatalf("expected 2 owing members under recipient-exempt, got %d", len(status.Contributions))
	}

	addContribution(t, store, "c-12", 12, 102, 1, payment.StatusCompleted)
	addContribution(t, store, "c-13-pending", 13, 103, 1, payment.StatusPending)

	status, err = svc.GetStatus(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.AllContributionsReceived {
		t.Fatalf("pending contribution must not open the gate")
	}

	if _, err := store.Transition(ctx, "c-13-pending",
		[]payment.Status{payment.StatusPending}, payment.StatusCompleted, payment.Effects{}); err != nil {
		t.Fatalf("failed to complete contribution: %v", err)
	}

	status, err = svc.GetStatus(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !status.AllContributionsReceived {
		t.Fatalf("expected gate open once every owing member completed")
	}
}

func TestGetStatusRejectsOutOfRangeRound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t, &RecipientExemptPolicy{})

	if _, err := svc.GetStatus(context.Background(), 1, 4); !errors.Is(err, ErrRoundOutOfRange) {
		t.Fatalf("expected ErrRoundOutOfRange, got %v", err)
	}
	if _, err := svc.GetStatus(context.Background(), 1, 0); !errors.Is(err, ErrRoundOutOfRange) {
		t.Fatalf("expected ErrRoundOutOfRange, got %v", err)
	}
	if _, err := svc.GetStatus(context.Background(), 99, 1); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestGetStatusSurfacesMissingRecipient(t *testing.T) {
	t.Parallel()

	store := paymenttest.NewStore()
	store.AddPool(
		&pool.Pool{ID: 2, ContributionAmount: 1000, CurrencyCode: "SAR", CurrentRound: 2,
			TotalRounds: 3, Status: pool.StatusActive, RoundStartedAt: time.Now()},
		&pool.Member{ID: 21, PoolID: 2, UserID: 201, Position: 1, Role: pool.MemberRoleAdmin},
		&pool.Member{ID: 23, PoolID: 2, UserID: 203, Position: 3, Role: pool.MemberRoleMember},
	)
	svc := NewService(paymenttest.NewDirectory(store), store, &RecipientExemptPolicy{})

	if _, err := svc.GetStatus(context.Background(), 2, 2); !errors.Is(err, payment.ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestCheckContributionRejectsRecipientUnderExemptPolicy(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t, &RecipientExemptPolicy{})

	err := svc.CheckContribution(context.Background(), 1, 1, 11)
	if !errors.Is(err, payment.ErrRecipientCannotContribute) {
		t.Fatalf("expected ErrRecipientCannotContribute, got %v", err)
	}
}

func TestCheckContributionAllowsRecipientUnderUniversalPolicy(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t, &UniversalPolicy{})

	if err := svc.CheckContribution(context.Background(), 1, 1, 11); err != nil {
		t.Fatalf("universal policy should allow the recipient to contribute: %v", err)
	}
}

func TestCheckContributionRejectsSecondContribution(t *testing.T) {
	t.Parallel()

	svc, store := newTestLedger(t, &RecipientExemptPolicy{})

	addContribution(t, store, "c-12", 12, 102, 1, payment.StatusCompleted)

	err := svc.CheckContribution(context.Background(), 1, 1, 12)
	if !errors.Is(err, payment.ErrAlreadyContributed) {
		t.Fatalf("expected ErrAlreadyContributed, got %v", err)
	}

	// A failed attempt does not block a retry
	addContribution(t, store, "c-13-failed", 13, 103, 1, payment.StatusFailed)
	if err := svc.CheckContribution(context.Background(), 1, 1, 13); err != nil {
		t.Fatalf("failed attempt must not block retry: %v", err)
	}
}

func TestCheckContributionRejectsUnknownMember(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t, &RecipientExemptPolicy{})

	err := svc.CheckContribution(context.Background(), 1, 1, 999)
	if !errors.Is(err, payment.ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestGetUpcomingObligations(t *testing.T) {
	t.Parallel()

	svc, store := newTestLedger(t, &RecipientExemptPolicy{})
	ctx := context.Background()

	// Member 12 owes into round 1
	obligations, err := svc.GetUpcomingObligations(ctx, 102)
	if err != nil {
		t.Fatalf("GetUpcomingObligations failed: %v", err)
	}
	if len(obligations) != 1 {
		t.Fatalf("expected 1 obligation, got %d", len(obligations))
	}
	if obligations[0].Amount != 1000 || obligations[0].Contributed {
		t.Fatalf("expected unpaid 1000 obligation, got %+v", obligations[0])
	}

	// The recipient owes nothing
	obligations, err = svc.GetUpcomingObligations(ctx, 101)
	if err != nil {
		t.Fatalf("GetUpcomingObligations failed: %v", err)
	}
	if len(obligations) != 1 {
		t.Fatalf("expected 1 obligation entry, got %d", len(obligations))
	}
	if obligations[0].Amount != 0 || !obligations[0].IsRecipient {
		t.Fatalf("expected exempt recipient entry, got %+v", obligations[0])
	}

	// After contributing, the obligation shows as settled
	addContribution(t, store, "c-12", 12, 102, 1, payment.StatusCompleted)
	obligations, err = svc.GetUpcomingObligations(ctx, 102)
	if err != nil {
		t.Fatalf("GetUpcomingObligations failed: %v", err)
	}
	if !obligations[0].Contributed {
		t.Fatalf("expected obligation marked contributed")
	}
}

func TestPolicyPayoutAmount(t *testing.T) {
	t.Parallel()

	exempt := &RecipientExemptPolicy{}
	if got := exempt.PayoutAmount(1000, 3); got != 2000 {
		t.Fatalf("recipient-exempt payout = %d, want 2000", got)
	}

	universal := &UniversalPolicy{}
	if got := universal.PayoutAmount(1000, 3); got != 3000 {
		t.Fatalf("universal payout = %d, want 3000", got)
	}
}

func TestPolicyFactory(t *testing.T) {
	t.Parallel()

	factory := NewPolicyFactory()

	p, err := factory.CreateFromString("RECIPIENT_EXEMPT")
	if err != nil {
		t.Fatalf("CreateFromString failed: %v", err)
	}
	if p.Type() != PolicyRecipientExempt {
		t.Fatalf("expected recipient-exempt policy, got %s", p.Type())
	}

	if _, err := factory.CreateFromString("SOMETHING_ELSE"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
