package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/amajid/jamiya/internal/payment"
)

// ContributionSettler settles contribution records. Implemented by the
// payment service; the reconciler routes through it so webhook-driven and
// API-driven settlement share one code path.
type ContributionSettler interface {
	SettleContribution(ctx context.Context, rec *payment.Record, captureID string) (*payment.Record, error)
}

// EscrowSettler drives escrow transitions from reconciled gateway events
type EscrowSettler interface {
	MarkEscrowed(ctx context.Context, paymentID, authorizationID string) (*payment.Record, error)
	Settle(ctx context.Context, rec *payment.Record, captureID string) (*payment.Record, error)
	MarkFailed(ctx context.Context, paymentID, reason string) (*payment.Record, error)
}

// Service reconciles gateway events against payment records. Every event
// is durably stored before any state changes, replays resolve to NOOP,
// orphans are kept for retry, and events that contradict a terminal
// record are flagged as anomalies rather than force-applied.
type Service struct {
	events        EventLog
	store         payment.Store
	contributions ContributionSettler
	escrows       EscrowSettler
}

// NewService creates a new webhook reconciliation service
func NewService(events EventLog, store payment.Store, contributions ContributionSettler, escrows EscrowSettler) *Service {
	return &Service{
		events:        events,
		store:         store,
		contributions: contributions,
		escrows:       escrows,
	}
}

// Process stores and applies a verified gateway event. Replays of an
// already-resolved event return the recorded outcome without touching
// payment state.
func (s *Service) Process(ctx context.Context, evt *Event, payload []byte) (Outcome, error) {
	stored, isNew, err := s.events.Insert(ctx, evt, payload)
	if err != nil {
		return "", err
	}
	if !isNew && stored.Outcome != OutcomeReceived && stored.Outcome != OutcomeOrphaned {
		return stored.Outcome, nil
	}

	outcome, note, err := s.apply(ctx, evt)
	if err != nil {
		return "", err
	}

	if err := s.events.SetOutcome(ctx, evt.ID, outcome, note); err != nil {
		return "", err
	}

	return outcome, nil
}

// RetryUnmatched re-applies stored events that arrived before their
// payment record existed. Invoked periodically; out-of-order deliveries
// resolve here once the missing record shows up.
func (s *Service) RetryUnmatched(ctx context.Context, limit int) (int, error) {
	pending, err := s.events.ListUnresolved(ctx, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, stored := range pending {
		evt, err := ParseEvent(stored.Payload)
		if err != nil {
			if setErr := s.events.SetOutcome(ctx, stored.EventID, OutcomeAnomaly, err.Error()); setErr != nil {
				return resolved, setErr
			}
			continue
		}

		outcome, note, err := s.apply(ctx, evt)
		if err != nil {
			log.Printf("webhook: retry of event %s failed: %v", stored.EventID, err)
			continue
		}
		if outcome == OutcomeOrphaned {
			continue
		}

		if err := s.events.SetOutcome(ctx, stored.EventID, outcome, note); err != nil {
			return resolved, err
		}
		resolved++
	}

	return resolved, nil
}

func (s *Service) apply(ctx context.Context, evt *Event) (Outcome, string, error) {
	if !evt.Type.Supported() {
		return OutcomeAnomaly, fmt.Sprintf("no handler for event type %s", evt.Type), nil
	}

	rec, err := s.correlate(ctx, evt)
	if err != nil {
		return "", "", err
	}
	if rec == nil {
		return OutcomeOrphaned, "no payment record matches the event's correlation ids", nil
	}

	if evt.Amount != 0 && evt.Amount != rec.Amount {
		return OutcomeAnomaly, fmt.Sprintf("event amount %d does not match record amount %d", evt.Amount, rec.Amount), nil
	}
	if evt.CurrencyCode != "" && evt.CurrencyCode != rec.CurrencyCode {
		return OutcomeAnomaly, fmt.Sprintf("event currency %s does not match record currency %s", evt.CurrencyCode, rec.CurrencyCode), nil
	}

	switch evt.Type {
	case EventOrderApproved:
		return s.applyOrderApproved(ctx, rec)
	case EventOrderCompleted, EventCaptureCompleted:
		return s.applyCaptureCompleted(ctx, rec, evt)
	case EventAuthorizationCreated:
		return s.applyAuthorizationCreated(ctx, rec, evt)
	case EventAuthorizationVoided:
		return s.applyAuthorizationVoided(ctx, rec)
	case EventCaptureDenied:
		return s.applyCaptureDenied(ctx, rec, evt)
	case EventCaptureRefunded:
		return s.applyCaptureRefunded(ctx, rec, evt)
	case EventPayoutSucceeded:
		return s.applyPayoutSucceeded(ctx, rec)
	case EventPayoutFailed:
		return s.applyPayoutFailed(ctx, rec, evt)
	}

	return OutcomeAnomaly, fmt.Sprintf("no handler for event type %s", evt.Type), nil
}

// correlate matches an event to a payment record. Lookup precedence is
// capture id, then authorization id, then order id: the most specific
// correlation the gateway sent wins.
func (s *Service) correlate(ctx context.Context, evt *Event) (*payment.Record, error) {
	if evt.CaptureID != "" {
		rec, err := s.store.FindByExternalID(ctx, payment.ExternalCaptureID, evt.CaptureID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	if evt.AuthorizationID != "" {
		rec, err := s.store.FindByExternalID(ctx, payment.ExternalAuthorizationID, evt.AuthorizationID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	if evt.OrderID != "" {
		rec, err := s.store.FindByExternalID(ctx, payment.ExternalOrderID, evt.OrderID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *Service) applyOrderApproved(ctx context.Context, rec *payment.Record) (Outcome, string, error) {
	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending}, payment.StatusProcessing, payment.Effects{})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			return s.resolveStale(updated, payment.StatusProcessing, payment.StatusEscrowed,
				payment.StatusCompleted, payment.StatusReleased)
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (s *Service) applyCaptureCompleted(ctx context.Context, rec *payment.Record, evt *Event) (Outcome, string, error) {
	switch rec.Type {
	case payment.TypeContribution:
		if rec.Status == payment.StatusCompleted {
			return OutcomeNoop, "", nil
		}
		if rec.Status.IsTerminal() {
			return OutcomeAnomaly, fmt.Sprintf("capture completed for %s contribution %s", rec.Status, rec.PaymentID), nil
		}
		if _, err := s.contributions.SettleContribution(ctx, rec, evt.CaptureID); err != nil {
			return "", "", err
		}
		return OutcomeApplied, "", nil

	case payment.TypeEscrow:
		if rec.Status == payment.StatusReleased {
			return OutcomeNoop, "", nil
		}
		if rec.Status.IsTerminal() {
			return OutcomeAnomaly, fmt.Sprintf("capture completed for %s escrow %s", rec.Status, rec.PaymentID), nil
		}
		if _, err := s.escrows.Settle(ctx, rec, evt.CaptureID); err != nil {
			return "", "", err
		}
		return OutcomeApplied, "", nil
	}

	return OutcomeAnomaly, fmt.Sprintf("capture event targets a %s record", rec.Type), nil
}

func (s *Service) applyAuthorizationCreated(ctx context.Context, rec *payment.Record, evt *Event) (Outcome, string, error) {
	if rec.Type == payment.TypeEscrow {
		if rec.Status == payment.StatusEscrowed {
			return OutcomeNoop, "", nil
		}
		if rec.Status.IsTerminal() {
			return OutcomeAnomaly, fmt.Sprintf("authorization created for %s escrow %s", rec.Status, rec.PaymentID), nil
		}
		if _, err := s.escrows.MarkEscrowed(ctx, rec.PaymentID, evt.AuthorizationID); err != nil {
			return "", "", err
		}
		return OutcomeApplied, "", nil
	}

	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing},
		payment.StatusProcessing,
		payment.Effects{SetAuthorizationID: &evt.AuthorizationID})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			return s.resolveStale(updated, payment.StatusCompleted, payment.StatusReleased)
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (s *Service) applyAuthorizationVoided(ctx context.Context, rec *payment.Record) (Outcome, string, error) {
	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusEscrowed},
		payment.StatusCancelled, payment.Effects{})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			return s.resolveStale(updated, payment.StatusCancelled, payment.StatusFailed)
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (s *Service) applyCaptureDenied(ctx context.Context, rec *payment.Record, evt *Event) (Outcome, string, error) {
	if rec.Status == payment.StatusFailed {
		return OutcomeNoop, "", nil
	}
	if rec.Status == payment.StatusCompleted || rec.Status == payment.StatusReleased {
		// A denial after successful settlement contradicts our books
		return OutcomeAnomaly, fmt.Sprintf("capture denied for settled record %s", rec.PaymentID), nil
	}

	reason := evt.Reason
	if reason == "" {
		reason = "capture denied by gateway"
	}

	if rec.Type == payment.TypeEscrow {
		if _, err := s.escrows.MarkFailed(ctx, rec.PaymentID, reason); err != nil {
			return "", "", err
		}
		return OutcomeApplied, "", nil
	}

	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusScheduled},
		payment.StatusFailed,
		payment.Effects{SetFailureReason: &reason, IncrementFailureCount: true})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			return s.resolveStale(updated, payment.StatusFailed, payment.StatusCancelled)
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

// applyCaptureRefunded debits the pool and writes a linked refund record.
// The refund's payment id is derived from the event id, so a replayed
// refund event cannot debit the pool twice.
func (s *Service) applyCaptureRefunded(ctx context.Context, rec *payment.Record, evt *Event) (Outcome, string, error) {
	if rec.Status != payment.StatusCompleted && rec.Status != payment.StatusReleased {
		return OutcomeAnomaly, fmt.Sprintf("refund for record %s in status %s", rec.PaymentID, rec.Status), nil
	}

	refundID := "refund-" + evt.ID
	existing, err := s.store.GetByID(ctx, refundID)
	if err != nil {
		return "", "", err
	}
	if existing != nil {
		return OutcomeNoop, "", nil
	}

	amount := rec.Amount
	if evt.Amount != 0 {
		amount = evt.Amount
	}

	refund := &payment.Record{
		PaymentID:        refundID,
		PoolID:           rec.PoolID,
		MemberID:         rec.MemberID,
		UserID:           rec.UserID,
		Round:            rec.Round,
		Amount:           amount,
		CurrencyCode:     rec.CurrencyCode,
		Type:             payment.TypeRefund,
		Status:           payment.StatusCompleted,
		GatewayCaptureID: rec.GatewayCaptureID,
	}

	_, err = s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{rec.Status}, rec.Status,
		payment.Effects{
			CreditPool:   -amount,
			InsertLinked: refund,
		})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			// A concurrent delivery inserted the refund first
			return OutcomeNoop, "", nil
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (s *Service) applyPayoutSucceeded(ctx context.Context, rec *payment.Record) (Outcome, string, error) {
	if rec.Type != payment.TypePayout {
		return OutcomeAnomaly, fmt.Sprintf("payout event targets a %s record", rec.Type), nil
	}
	if rec.Status == payment.StatusCompleted {
		return OutcomeNoop, "", nil
	}
	if rec.Status.IsTerminal() {
		return OutcomeAnomaly, fmt.Sprintf("payout succeeded for %s record %s", rec.Status, rec.PaymentID), nil
	}

	// Payouts normally complete synchronously; reaching here means the
	// process died between the gateway call and the local transition, so
	// apply the same effects the execution path would have.
	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusScheduled},
		payment.StatusCompleted,
		payment.Effects{
			CreditPool:         -rec.Amount,
			MarkPayoutReceived: true,
			AdvancePoolRound:   true,
			SetProcessedAt:     true,
		})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) && updated != nil && updated.Status == payment.StatusCompleted {
			return OutcomeNoop, "", nil
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (s *Service) applyPayoutFailed(ctx context.Context, rec *payment.Record, evt *Event) (Outcome, string, error) {
	if rec.Type != payment.TypePayout {
		return OutcomeAnomaly, fmt.Sprintf("payout event targets a %s record", rec.Type), nil
	}
	if rec.Status == payment.StatusFailed {
		return OutcomeNoop, "", nil
	}
	if rec.Status == payment.StatusCompleted {
		// Item-level failure after we recorded completion; money may be in
		// flight back, so this needs an operator, not an automatic reversal
		return OutcomeAnomaly, fmt.Sprintf("payout item failed after record %s completed", rec.PaymentID), nil
	}

	reason := evt.Reason
	if reason == "" {
		reason = "payout item failed"
	}

	updated, err := s.store.Transition(ctx, rec.PaymentID,
		[]payment.Status{payment.StatusPending, payment.StatusProcessing, payment.StatusScheduled},
		payment.StatusFailed,
		payment.Effects{SetFailureReason: &reason, IncrementFailureCount: true})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTransition) {
			return s.resolveStale(updated, payment.StatusFailed)
		}
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

// resolveStale classifies a rejected transition: if the record already
// sits in one of the acceptable statuses the event is a stale duplicate,
// otherwise it contradicts the record and is an anomaly.
func (s *Service) resolveStale(current *payment.Record, acceptable ...payment.Status) (Outcome, string, error) {
	if current == nil {
		return OutcomeAnomaly, "record vanished during transition", nil
	}
	for _, st := range acceptable {
		if current.Status == st {
			return OutcomeNoop, "", nil
		}
	}
	return OutcomeAnomaly, fmt.Sprintf("record %s in status %s rejected the transition", current.PaymentID, current.Status), nil
}
