package payment

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/amajid/jamiya/internal/activity"
	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/internal/pool"
)

// Contribution-guard errors, returned by ContributionGuard implementations
var (
	ErrPoolNotFound              = errors.New("pool not found")
	ErrPoolComplete              = errors.New("pool has completed all rounds")
	ErrNotPoolMember             = errors.New("user is not a member of this pool")
	ErrMemberNotFound            = errors.New("member not found in pool")
	ErrAlreadyContributed        = errors.New("member already has a completed contribution for this round")
	ErrRecipientCannotContribute = errors.New("round recipient does not contribute under this policy")
	// ErrNoRecipient indicates no member occupies the position matching the
	// round. This is a data inconsistency; it is surfaced, never auto-corrected.
	ErrNoRecipient = errors.New("no member occupies the recipient position for this round")
)

// Command-flow errors
var (
	ErrNotPaymentOwner  = errors.New("payment belongs to another user")
	ErrNotContribution  = errors.New("payment is not a contribution")
	ErrCurrencyMismatch = errors.New("contribution currency does not match pool currency")
)

// maxFailureCount flags a record for manual review instead of retrying it
// indefinitely
const maxFailureCount = 3

// ContributionGuard validates that a member may contribute into a round.
// Implementations return the guard sentinels declared above.
type ContributionGuard interface {
	CheckContribution(ctx context.Context, poolID int64, round int, memberID int64) error
}

// Service handles payment command flows: initiating and completing
// contributions, cancellation, and transaction history
type Service struct {
	store    Store
	pools    pool.Directory
	gw       gateway.Client
	guard    ContributionGuard
	activity activity.Logger
}

// NewService creates a new payment service with dependencies injected
func NewService(store Store, pools pool.Directory, gw gateway.Client, guard ContributionGuard, activityLog activity.Logger) *Service {
	return &Service{
		store:    store,
		pools:    pools,
		gw:       gw,
		guard:    guard,
		activity: activityLog,
	}
}

// InitiateContribution creates a PENDING contribution record for the
// pool's current round and opens a gateway order for it. Idempotent on a
// client-supplied payment ID: a retried initiation returns the existing
// record instead of opening a second order.
func (s *Service) InitiateContribution(ctx context.Context, userID int64, req *InitiateContributionRequest) (*Record, error) {
	p, err := s.pools.GetByID(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	if p.IsComplete() {
		return nil, ErrPoolComplete
	}

	member, err := s.pools.GetMemberByUserID(ctx, req.PoolID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotPoolMember
	}

	if err := s.guard.CheckContribution(ctx, req.PoolID, p.CurrentRound, member.ID); err != nil {
		return nil, err
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}

	rec := &Record{
		PaymentID:    paymentID,
		PoolID:       p.ID,
		MemberID:     member.ID,
		UserID:       userID,
		Round:        p.CurrentRound,
		Amount:       p.ContributionAmount,
		CurrencyCode: p.CurrencyCode,
		Type:         TypeContribution,
		Status:       StatusPending,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			// Retried initiation: return the record created the first time
			existing, getErr := s.store.GetByID(ctx, paymentID)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil && existing.UserID == userID {
				return existing, nil
			}
		}
		return nil, err
	}

	auth, err := s.authorizeWithRetry(ctx, rec)
	if err != nil {
		s.recordGatewayFailure(ctx, rec.PaymentID, err)
		return nil, err
	}

	rec, err = s.store.Transition(ctx, rec.PaymentID, []Status{StatusPending}, StatusPending, Effects{
		SetOrderID: &auth.OrderID,
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}

	s.activity.LogActivity(ctx, userID, activity.EventContributionInitiated, map[string]string{
		"payment_id": rec.PaymentID,
		"pool_id":    formatInt(rec.PoolID),
		"round":      formatInt(int64(rec.Round)),
	})

	return rec, nil
}

// CompleteContribution captures the gateway order for a pending
// contribution and settles it. Safe to retry: an already-completed
// contribution is returned as-is.
func (s *Service) CompleteContribution(ctx context.Context, userID int64, paymentID string) (*Record, error) {
	rec, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrPaymentNotFound
	}
	if rec.UserID != userID {
		return nil, ErrNotPaymentOwner
	}
	if rec.Type != TypeContribution {
		return nil, ErrNotContribution
	}

	if rec.Status == StatusCompleted {
		return rec, nil
	}
	if rec.Status.IsTerminal() {
		return rec, ErrInvalidTransition
	}

	capture, err := s.captureWithRetry(ctx, rec)
	if err != nil {
		s.recordGatewayFailure(ctx, rec.PaymentID, err)
		return nil, err
	}

	settled, err := s.SettleContribution(ctx, rec, capture.CaptureID)
	if err != nil {
		return nil, err
	}

	s.activity.LogActivity(ctx, userID, activity.EventContributionCompleted, map[string]string{
		"payment_id": settled.PaymentID,
		"pool_id":    formatInt(settled.PoolID),
		"round":      formatInt(int64(settled.Round)),
	})

	return settled, nil
}

// SettleContribution is the single code path that credits the pool and
// marks a contribution received. Both the synchronous capture flow and
// the webhook reconciler route through it, so the atomic effects are
// identical regardless of trigger.
func (s *Service) SettleContribution(ctx context.Context, rec *Record, captureID string) (*Record, error) {
	eff := Effects{
		CreditPool:        rec.Amount,
		CountContribution: true,
		SetProcessedAt:    true,
	}
	if captureID != "" {
		eff.SetCaptureID = &captureID
	}

	settled, err := s.store.Transition(ctx, rec.PaymentID,
		[]Status{StatusPending, StatusProcessing, StatusScheduled},
		StatusCompleted, eff)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && settled != nil && settled.Status == StatusCompleted {
			// Lost a race against another completer; the net effect holds
			return settled, nil
		}
		return nil, err
	}

	return settled, nil
}

// CancelPayment voids an unapproved payment. The core exposes the cancel
// transition but runs no expiry timer; an external sweep invokes this for
// abandoned flows.
func (s *Service) CancelPayment(ctx context.Context, userID int64, paymentID string) (*Record, error) {
	rec, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrPaymentNotFound
	}

	if rec.UserID != userID {
		isAdmin, err := s.pools.IsAdmin(ctx, rec.PoolID, userID)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			return nil, ErrNotPaymentOwner
		}
	}

	if rec.Status == StatusCancelled {
		return rec, nil
	}

	if rec.GatewayAuthorizationID != nil {
		if err := s.gw.Void(ctx, *rec.GatewayAuthorizationID); err != nil && !gateway.IsRetryable(err) {
			s.recordGatewayFailure(ctx, rec.PaymentID, err)
			return nil, err
		}
	}

	cancelled, err := s.store.Transition(ctx, paymentID,
		[]Status{StatusPending, StatusProcessing, StatusScheduled},
		StatusCancelled, Effects{})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && cancelled != nil && cancelled.Status == StatusCancelled {
			return cancelled, nil
		}
		return nil, err
	}

	s.activity.LogActivity(ctx, userID, activity.EventPaymentCancelled, map[string]string{
		"payment_id": cancelled.PaymentID,
	})

	return cancelled, nil
}

// GetByID retrieves a payment, restricted to its owner or a pool admin
func (s *Service) GetByID(ctx context.Context, userID int64, paymentID string) (*Record, error) {
	rec, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrPaymentNotFound
	}

	if rec.UserID != userID {
		isAdmin, err := s.pools.IsAdmin(ctx, rec.PoolID, userID)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			return nil, ErrNotPaymentOwner
		}
	}

	return rec, nil
}

// GetTransactionHistory retrieves the user's payment records with filters
// and offset pagination. Page size is capped server-side.
func (s *Service) GetTransactionHistory(ctx context.Context, userID int64, filter Filter, page, perPage int) ([]*Record, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter.UserID = userID
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	return s.store.List(ctx, filter)
}

// authorizeWithRetry calls the gateway with at most one immediate retry
// on a retryable failure. Anything beyond that goes to the operational
// alerting path, never an internal retry loop.
func (s *Service) authorizeWithRetry(ctx context.Context, rec *Record) (*gateway.AuthorizeResult, error) {
	metadata := map[string]string{
		"payment_id": rec.PaymentID,
		"pool_id":    formatInt(rec.PoolID),
	}

	auth, err := s.gw.Authorize(ctx, rec.Amount, rec.CurrencyCode, metadata)
	if err != nil && gateway.IsRetryable(err) {
		auth, err = s.gw.Authorize(ctx, rec.Amount, rec.CurrencyCode, metadata)
	}
	return auth, err
}

func (s *Service) captureWithRetry(ctx context.Context, rec *Record) (*gateway.CaptureResult, error) {
	orderID, authID := "", ""
	if rec.GatewayOrderID != nil {
		orderID = *rec.GatewayOrderID
	}
	if rec.GatewayAuthorizationID != nil {
		authID = *rec.GatewayAuthorizationID
	}

	capture, err := s.gw.Capture(ctx, orderID, authID)
	if err != nil && gateway.IsRetryable(err) {
		capture, err = s.gw.Capture(ctx, orderID, authID)
	}
	return capture, err
}

// recordGatewayFailure writes failure metadata onto the record. Retryable
// failures leave the record in its current status so a later attempt can
// pick it up; terminal failures move it to FAILED.
func (s *Service) recordGatewayFailure(ctx context.Context, paymentID string, gwErr error) {
	reason := gwErr.Error()
	eff := Effects{
		SetFailureReason:      &reason,
		IncrementFailureCount: true,
	}

	from := []Status{StatusPending, StatusProcessing, StatusScheduled}
	to := StatusFailed
	if gateway.IsRetryable(gwErr) {
		// Keep the record pending; only the failure metadata changes
		to = StatusPending
		from = []Status{StatusPending}
	}

	rec, err := s.store.Transition(ctx, paymentID, from, to, eff)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Printf("payment: failed to record gateway failure on %s: %v", paymentID, err)
		return
	}
	if rec != nil && rec.FailureCount >= maxFailureCount {
		log.Printf("payment: %s exceeded %d gateway failures, flagged for review", paymentID, maxFailureCount)
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
