package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/amajid/jamiya/internal/activity"
	"github.com/amajid/jamiya/internal/gateway"
	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/pool"
)

// Common errors
var (
	ErrEscrowNotFound = errors.New("escrow record not found")
	ErrNotEscrow      = errors.New("payment is not an escrow hold")
	ErrNotAuthorized  = errors.New("pool admin capability required")
	ErrNotPoolMember  = errors.New("user is not a member of this pool")
	ErrPoolNotFound   = errors.New("pool not found")
)

// Service drives the escrow state machine:
// pending -(authorize)-> escrowed -(capture/release)-> released,
// escrowed -(void)-> cancelled, any -(gateway failure)-> failed.
// Release is idempotent: N calls produce one escrow_release record and
// credit the pool exactly once.
type Service struct {
	store    payment.Store
	pools    pool.Directory
	gw       gateway.Client
	activity activity.Logger
}

// NewService creates a new escrow service
func NewService(store payment.Store, pools pool.Directory, gw gateway.Client, activityLog activity.Logger) *Service {
	return &Service{
		store:    store,
		pools:    pools,
		gw:       gw,
		activity: activityLog,
	}
}

// CreateHold opens an escrow hold for the pool's current round. The
// record stays PENDING until the gateway's authorization is reconciled,
// which moves it to ESCROWED.
func (s *Service) CreateHold(ctx context.Context, userID int64, req *CreateHoldRequest) (*payment.Record, error) {
	p, err := s.pools.GetByID(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}

	member, err := s.pools.GetMemberByUserID(ctx, req.PoolID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotPoolMember
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}

	rec := &payment.Record{
		PaymentID:    paymentID,
		PoolID:       p.ID,
		MemberID:     member.ID,
		UserID:       userID,
		Round:        p.CurrentRound,
		Amount:       p.ContributionAmount,
		CurrencyCode: p.CurrencyCode,
		Type:         payment.TypeEscrow,
		Status:       payment.StatusPending,
		ReleaseDate:  req.ReleaseDate,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, payment.ErrDuplicatePayment) {
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

	auth, err := s.gw.Authorize(ctx, rec.Amount, rec.CurrencyCode, map[string]string{
		"payment_id": rec.PaymentID,
		"intent":     "escrow",
	})
	if err != nil && gateway.IsRetryable(err) {
		auth, err = s.gw.Authorize(ctx, rec.Amount, rec.CurrencyCode, map[string]string{
			"payment_id": rec.PaymentID,
			"intent":     "escrow",
		})
	}
	if err != nil {
		return nil, err
	}

	rec, err = s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending}, payment.StatusPending,
		payment.Effects{SetOrderID: &auth.OrderID})
	if err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
		return nil, err
	}

	return rec, nil
}

// MarkEscrowed records a gateway authorization onto a pending hold.
// Invoked by the webhook reconciler for AUTHORIZATION.CREATED events.
func (s *Service) MarkEscrowed(ctx context.Context, paymentID, authorizationID string) (*payment.Record, error) {
	rec, err := s.store.Transition(ctx, paymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing},
		payment.StatusEscrowed,
		payment.Effects{SetAuthorizationID: &authorizationID})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && rec != nil && rec.Status == payment.StatusEscrowed {
			return rec, nil
		}
		return nil, err
	}
	return rec, nil
}

// Release captures and releases an escrow hold into the pool balance.
// Requires the pool-admin capability. Idempotent: releasing an
// already-released hold returns the existing escrow_release record.
// The scheduled release-date sweep calls the same entry point, so early
// admin release and date-based release share one implementation.
func (s *Service) Release(ctx context.Context, paymentID string, actorID int64) (*payment.Record, error) {
	rec, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrEscrowNotFound
	}
	if rec.Type != payment.TypeEscrow {
		return nil, ErrNotEscrow
	}

	isAdmin, err := s.pools.IsAdmin(ctx, rec.PoolID, actorID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrNotAuthorized
	}

	if rec.Status == payment.StatusReleased {
		return s.existingRelease(ctx, rec.PaymentID)
	}
	if rec.Status.IsTerminal() {
		return nil, payment.ErrInvalidTransition
	}

	// Capture outside the transition boundary; only recording the result
	// is atomic
	captureID := ""
	if rec.GatewayAuthorizationID != nil {
		capture, err := s.captureWithRetry(ctx, *rec.GatewayAuthorizationID)
		if err != nil {
			if !gateway.IsRetryable(err) {
				s.markFailed(ctx, rec.PaymentID, err)
			}
			return nil, err
		}
		captureID = capture.CaptureID
	}

	release, err := s.Settle(ctx, rec, captureID)
	if err != nil {
		return nil, err
	}

	s.activity.LogActivity(ctx, actorID, activity.EventEscrowReleased, map[string]string{
		"payment_id": rec.PaymentID,
		"release_id": release.PaymentID,
	})

	return release, nil
}

// Settle atomically (a) transitions the escrow record to RELEASED,
// (b) creates the linked escrow_release record, and (c) credits the pool
// balance. Partial application of those three effects is the failure mode
// this component exists to prevent, so they ride one store transaction.
// Shared by the admin release path and the webhook CAPTURE.COMPLETED path.
func (s *Service) Settle(ctx context.Context, rec *payment.Record, captureID string) (*payment.Record, error) {
	release := &payment.Record{
		PaymentID:    uuid.NewString(),
		PoolID:       rec.PoolID,
		MemberID:     rec.MemberID,
		UserID:       rec.UserID,
		Round:        rec.Round,
		Amount:       rec.Amount,
		CurrencyCode: rec.CurrencyCode,
		Type:         payment.TypeEscrowRelease,
		Status:       payment.StatusReleased,
	}

	eff := payment.Effects{
		CreditPool:    rec.Amount,
		InsertLinked:  release,
		SetReleasedAt: true,
	}
	if captureID != "" {
		eff.SetCaptureID = &captureID
	}

	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusEscrowed},
		payment.StatusReleased, eff)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && updated != nil && updated.Status == payment.StatusReleased {
			// A concurrent release won; its record and credit stand
			return s.existingRelease(ctx, rec.PaymentID)
		}
		return nil, err
	}

	return release, nil
}

// Void cancels a hold that has not been released. Idempotent.
func (s *Service) Void(ctx context.Context, paymentID string, actorID int64) (*payment.Record, error) {
	rec, err := s.store.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrEscrowNotFound
	}
	if rec.Type != payment.TypeEscrow {
		return nil, ErrNotEscrow
	}

	isAdmin, err := s.pools.IsAdmin(ctx, rec.PoolID, actorID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrNotAuthorized
	}

	if rec.Status == payment.StatusCancelled {
		return rec, nil
	}

	if rec.GatewayAuthorizationID != nil {
		if err := s.gw.Void(ctx, *rec.GatewayAuthorizationID); err != nil && !gateway.IsRetryable(err) {
			s.markFailed(ctx, rec.PaymentID, err)
			return nil, err
		}
	}

	cancelled, err := s.store.Transition(ctx, paymentID,
		[]payment.Status{payment.StatusPending, payment.StatusEscrowed},
		payment.StatusCancelled, payment.Effects{})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && cancelled != nil && cancelled.Status == payment.StatusCancelled {
			return cancelled, nil
		}
		return nil, err
	}

	s.activity.LogActivity(ctx, actorID, activity.EventEscrowVoided, map[string]string{
		"payment_id": paymentID,
	})

	return cancelled, nil
}

// MarkFailed moves a hold to FAILED with a reason. Used by the webhook
// reconciler for denied captures; no refund record is created, since no
// capture ever succeeded.
func (s *Service) MarkFailed(ctx context.Context, paymentID, reason string) (*payment.Record, error) {
	rec, err := s.store.Transition(ctx, paymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusEscrowed},
		payment.StatusFailed,
		payment.Effects{SetFailureReason: &reason, IncrementFailureCount: true})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && rec != nil && rec.Status == payment.StatusFailed {
			return rec, nil
		}
		return nil, err
	}
	return rec, nil
}

func (s *Service) existingRelease(ctx context.Context, escrowPaymentID string) (*payment.Record, error) {
	release, err := s.store.FindRelated(ctx, escrowPaymentID, payment.TypeEscrowRelease)
	if err != nil {
		return nil, err
	}
	if release == nil {
		// Released status without a linked record should be impossible;
		// surface it rather than fabricating one
		return nil, ErrEscrowNotFound
	}
	return release, nil
}

func (s *Service) captureWithRetry(ctx context.Context, authorizationID string) (*gateway.CaptureResult, error) {
	capture, err := s.gw.Capture(ctx, "", authorizationID)
	if err != nil && gateway.IsRetryable(err) {
		capture, err = s.gw.Capture(ctx, "", authorizationID)
	}
	return capture, err
}

func (s *Service) markFailed(ctx context.Context, paymentID string, gwErr error) {
	if _, err := s.MarkFailed(ctx, paymentID, gwErr.Error()); err != nil {
		return
	}
}

// DueForRelease lists escrow holds whose release date has passed. The
// scheduled sweep (external) feeds these back through Release.
func DueForRelease(records []*payment.Record, now time.Time) []*payment.Record {
	var due []*payment.Record
	for _, rec := range records {
		if rec.Type != payment.TypeEscrow || rec.ReleaseDate == nil {
			continue
		}
		if rec.Status == payment.StatusEscrowed && !rec.ReleaseDate.After(now) {
			due = append(due, rec)
		}
	}
	return due
}
