package webhook_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amajid/jamiya/internal/escrow"
	"github.com/amajid/jamiya/internal/ledger"
	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/payment/paymenttest"
	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/internal/webhook"
)

// memEventLog is an in-memory webhook.EventLog with the same unique
// event id semantics as the Postgres table
type memEventLog struct {
	mu     sync.Mutex
	nextID int64
	byID   map[string]*webhook.StoredEvent
}

func newMemEventLog() *memEventLog {
	return &memEventLog{byID: make(map[string]*webhook.StoredEvent)}
}

func (l *memEventLog) Insert(ctx context.Context, evt *webhook.Event, payload []byte) (*webhook.StoredEvent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byID[evt.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}

	l.nextID++
	stored := &webhook.StoredEvent{
		ID:        l.nextID,
		EventID:   evt.ID,
		EventType: evt.Type,
		Payload:   payload,
		Outcome:   webhook.OutcomeReceived,
		CreatedAt: time.Now(),
	}
	l.byID[evt.ID] = stored
	cp := *stored
	return &cp, true, nil
}

func (l *memEventLog) SetOutcome(ctx context.Context, eventID string, outcome webhook.Outcome, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.byID[eventID]
	if !ok {
		return fmt.Errorf("unknown event %s", eventID)
	}
	now := time.Now()
	stored.Outcome = outcome
	stored.Note = note
	stored.ProcessedAt = &now
	return nil
}

func (l *memEventLog) ListUnresolved(ctx context.Context, limit int) ([]*webhook.StoredEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*webhook.StoredEvent
	for _, stored := range l.byID {
		if stored.Outcome == webhook.OutcomeReceived || stored.Outcome == webhook.OutcomeOrphaned {
			cp := *stored
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *memEventLog) outcome(eventID string) webhook.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if stored, ok := l.byID[eventID]; ok {
		return stored.Outcome
	}
	return ""
}

type fixture struct {
	svc    *webhook.Service
	store  *paymenttest.Store
	events *memEventLog
}

func newFixture(t *testing.T) *fixture {
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

	dir := paymenttest.NewDirectory(store)
	gw := paymenttest.NewGateway()
	activityLog := paymenttest.NewActivityLog()
	guard := ledger.NewService(dir, store, &ledger.RecipientExemptPolicy{})
	paymentSvc := payment.NewService(store, dir, gw, guard, activityLog)
	escrowSvc := escrow.NewService(store, dir, gw, activityLog)

	events := newMemEventLog()
	svc := webhook.NewService(events, store, paymentSvc, escrowSvc)

	return &fixture{svc: svc, store: store, events: events}
}

func (f *fixture) seedContribution(t *testing.T, id, orderID string, status payment.Status) {
	t.Helper()

	rec := &payment.Record{
		PaymentID:      id,
		PoolID:         1,
		MemberID:       12,
		UserID:         102,
		Round:          1,
		Amount:         1000,
		CurrencyCode:   "SAR",
		Type:           payment.TypeContribution,
		Status:         status,
		GatewayOrderID: &orderID,
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed contribution: %v", err)
	}
}

func (f *fixture) seedEscrow(t *testing.T, id, orderID string, status payment.Status) {
	t.Helper()

	rec := &payment.Record{
		PaymentID:      id,
		PoolID:         1,
		MemberID:       13,
		UserID:         103,
		Round:          1,
		Amount:         1000,
		CurrencyCode:   "SAR",
		Type:           payment.TypeEscrow,
		Status:         status,
		GatewayOrderID: &orderID,
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed escrow: %v", err)
	}
}

func (f *fixture) process(t *testing.T, body string) webhook.Outcome {
	t.Helper()

	evt, err := webhook.ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	outcome, err := f.svc.Process(context.Background(), evt, []byte(body))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return outcome
}

func captureCompleted(eventID, captureID, orderID string) string {
	return fmt.Sprintf(`{"id":%q,"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":%q,"order_id":%q,"amount":{"value":"10.00","currency_code":"SAR"}}}`,
		eventID, captureID, orderID)
}

func TestCaptureCompletedSettlesContribution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	outcome := f.process(t, captureCompleted("evt-1", "cap-1", "ord-1"))
	if outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	rec, err := f.store.GetByID(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", rec.Status)
	}
	if rec.GatewayCaptureID == nil || *rec.GatewayCaptureID != "cap-1" {
		t.Fatalf("expected capture id recorded")
	}
	if f.store.PoolBalance(1) != 1000 {
		t.Fatalf("expected pool credited, balance %d", f.store.PoolBalance(1))
	}
}

func TestReplayedEventIsDeduplicated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	body := captureCompleted("evt-1", "cap-1", "ord-1")
	if outcome := f.process(t, body); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	// Replays of the exact event return the recorded outcome
	for i := 0; i < 3; i++ {
		if outcome := f.process(t, body); outcome != webhook.OutcomeApplied {
			t.Fatalf("expected recorded APPLIED on replay, got %s", outcome)
		}
	}
	if f.store.PoolBalance(1) != 1000 {
		t.Fatalf("replay double-credited: balance %d", f.store.PoolBalance(1))
	}

	// A distinct delivery for the already-settled capture is a NOOP
	if outcome := f.process(t, captureCompleted("evt-2", "cap-1", "ord-1")); outcome != webhook.OutcomeNoop {
		t.Fatalf("expected NOOP for duplicate capture, got %s", outcome)
	}
	if f.store.PoolBalance(1) != 1000 {
		t.Fatalf("duplicate capture double-credited: balance %d", f.store.PoolBalance(1))
	}
}

func TestOrphanedEventIsKeptAndRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Event arrives before the payment record exists
	body := captureCompleted("evt-early", "cap-9", "ord-9")
	if outcome := f.process(t, body); outcome != webhook.OutcomeOrphaned {
		t.Fatalf("expected ORPHANED, got %s", outcome)
	}

	resolved, err := f.svc.RetryUnmatched(ctx, 10)
	if err != nil {
		t.Fatalf("RetryUnmatched failed: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("expected nothing resolved yet, got %d", resolved)
	}

	// Once the record shows up, the retry sweep applies the event
	f.seedContribution(t, "pay-9", "ord-9", payment.StatusPending)

	resolved, err = f.svc.RetryUnmatched(ctx, 10)
	if err != nil {
		t.Fatalf("RetryUnmatched failed: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("expected 1 resolved event, got %d", resolved)
	}
	if f.events.outcome("evt-early") != webhook.OutcomeApplied {
		t.Fatalf("expected event marked APPLIED, got %s", f.events.outcome("evt-early"))
	}

	rec, err := f.store.GetByID(ctx, "pay-9")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusCompleted {
		t.Fatalf("expected COMPLETED after retry, got %s", rec.Status)
	}
}

func TestAuthorizationCreatedMovesEscrowToEscrowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedEscrow(t, "esc-1", "ord-2", payment.StatusPending)

	body := `{"id":"evt-a1","event_type":"PAYMENT.AUTHORIZATION.CREATED","resource":{"id":"auth-1","order_id":"ord-2"}}`
	if outcome := f.process(t, body); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	rec, err := f.store.GetByID(context.Background(), "esc-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusEscrowed {
		t.Fatalf("expected ESCROWED, got %s", rec.Status)
	}
	if rec.GatewayAuthorizationID == nil || *rec.GatewayAuthorizationID != "auth-1" {
		t.Fatalf("expected authorization id recorded")
	}
}

func TestCaptureCompletedReleasesEscrow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedEscrow(t, "esc-1", "ord-2", payment.StatusEscrowed)

	if outcome := f.process(t, captureCompleted("evt-c1", "cap-2", "ord-2")); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	release, err := f.store.FindRelated(context.Background(), "esc-1", payment.TypeEscrowRelease)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if release == nil || release.Status != payment.StatusReleased {
		t.Fatalf("expected linked escrow_release record, got %+v", release)
	}
	if f.store.PoolBalance(1) != 1000 {
		t.Fatalf("expected pool credited, balance %d", f.store.PoolBalance(1))
	}
}

func TestCaptureDeniedAfterSettlementIsAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	if outcome := f.process(t, captureCompleted("evt-1", "cap-1", "ord-1")); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	denied := `{"id":"evt-d1","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"cap-1","order_id":"ord-1","status_details":{"reason":"RISK"}}}`
	if outcome := f.process(t, denied); outcome != webhook.OutcomeAnomaly {
		t.Fatalf("expected ANOMALY, got %s", outcome)
	}

	// The settled record is untouched
	rec, err := f.store.GetByID(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusCompleted {
		t.Fatalf("anomalous event mutated the record: %s", rec.Status)
	}
}

func TestCaptureDeniedMarksPendingFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedEscrow(t, "esc-1", "ord-2", payment.StatusEscrowed)

	// The denial correlates via the order id fallback; no capture ever
	// landed on the record
	denied := `{"id":"evt-d2","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"cap-x","order_id":"ord-2","status_details":{"reason":"INSUFFICIENT_FUNDS"}}}`
	if outcome := f.process(t, denied); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	ctx := context.Background()
	rec, err := f.store.GetByID(ctx, "esc-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if rec.FailureReason == nil || *rec.FailureReason != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected denial reason recorded, got %+v", rec.FailureReason)
	}

	// No refund record: nothing was ever captured
	refund, err := f.store.FindRelated(ctx, "esc-1", payment.TypeRefund)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if refund != nil {
		t.Fatalf("denied capture must not create a refund record")
	}
}

func TestCaptureRefundedDebitsPoolOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	if outcome := f.process(t, captureCompleted("evt-1", "cap-1", "ord-1")); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}
	if f.store.PoolBalance(1) != 1000 {
		t.Fatalf("expected balance 1000, got %d", f.store.PoolBalance(1))
	}

	refunded := `{"id":"evt-r1","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"cap-1","amount":{"value":"10.00","currency_code":"SAR"}}}`
	if outcome := f.process(t, refunded); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}
	if f.store.PoolBalance(1) != 0 {
		t.Fatalf("expected refund debit, balance %d", f.store.PoolBalance(1))
	}

	// Replay: event dedup keeps the recorded outcome, balance unchanged
	if outcome := f.process(t, refunded); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected recorded APPLIED on replay, got %s", outcome)
	}
	if f.store.PoolBalance(1) != 0 {
		t.Fatalf("replayed refund debited again, balance %d", f.store.PoolBalance(1))
	}

	refund, err := f.store.GetByID(context.Background(), "refund-evt-r1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if refund == nil || refund.Type != payment.TypeRefund || refund.Amount != 1000 {
		t.Fatalf("expected refund record derived from the event id, got %+v", refund)
	}
}

func TestRefundBeforeSettlementIsAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	refunded := `{"id":"evt-r2","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"cap-1","order_id":"ord-1"}}`
	if outcome := f.process(t, refunded); outcome != webhook.OutcomeAnomaly {
		t.Fatalf("expected ANOMALY for refund of unsettled record, got %s", outcome)
	}
}

func TestAmountMismatchIsAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	body := `{"id":"evt-m1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","order_id":"ord-1","amount":{"value":"99.00","currency_code":"SAR"}}}`
	if outcome := f.process(t, body); outcome != webhook.OutcomeAnomaly {
		t.Fatalf("expected ANOMALY for amount mismatch, got %s", outcome)
	}

	rec, err := f.store.GetByID(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusPending {
		t.Fatalf("mismatched event mutated the record: %s", rec.Status)
	}
}

func TestUnrecognizedEventTypeIsStoredAsAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedContribution(t, "pay-1", "ord-1", payment.StatusPending)

	body := `{"id":"evt-u1","event_type":"PAYMENT.CAPTURE.PENDING","resource":{"id":"cap-1","order_id":"ord-1"}}`
	if outcome := f.process(t, body); outcome != webhook.OutcomeAnomaly {
		t.Fatalf("expected ANOMALY for unrecognized type, got %s", outcome)
	}
	if f.events.outcome("evt-u1") != webhook.OutcomeAnomaly {
		t.Fatalf("expected event resolved as ANOMALY, got %s", f.events.outcome("evt-u1"))
	}

	rec, err := f.store.GetByID(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusPending {
		t.Fatalf("unrecognized event mutated the record: %s", rec.Status)
	}
}

func TestPayoutSucceededAfterSyncCompletionIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	batchID := "batch-1"
	rec := &payment.Record{
		PaymentID:      "payout-1",
		PoolID:         1,
		MemberID:       11,
		UserID:         101,
		Round:          1,
		Amount:         2000,
		CurrencyCode:   "SAR",
		Type:           payment.TypePayout,
		Status:         payment.StatusCompleted,
		GatewayOrderID: &batchID,
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed payout: %v", err)
	}

	body := `{"id":"evt-p1","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{"payout_batch_id":"batch-1"}}`
	if outcome := f.process(t, body); outcome != webhook.OutcomeNoop {
		t.Fatalf("expected NOOP, got %s", outcome)
	}

	failedBody := `{"id":"evt-p2","event_type":"PAYMENT.PAYOUTS-ITEM.FAILED","resource":{"payout_batch_id":"batch-1","status_details":{"reason":"RECEIVER_UNREGISTERED"}}}`
	if outcome := f.process(t, failedBody); outcome != webhook.OutcomeAnomaly {
		t.Fatalf("expected ANOMALY for failure after completion, got %s", outcome)
	}
}

func TestPayoutSucceededCompletesStagedRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.store.Pools[1].TotalAmount = 2000

	// The execution path staged the batch id and then died before the
	// completion transition; the item webhook finishes the round
	batchID := "batch-77"
	staged := &payment.Record{
		PaymentID:      "payout-1",
		PoolID:         1,
		MemberID:       11,
		UserID:         101,
		Round:          1,
		Amount:         2000,
		CurrencyCode:   "SAR",
		Type:           payment.TypePayout,
		Status:         payment.StatusProcessing,
		GatewayOrderID: &batchID,
	}
	if err := f.store.Create(ctx, staged); err != nil {
		t.Fatalf("failed to seed staged payout: %v", err)
	}

	body := `{"id":"evt-p3","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{"payout_batch_id":"batch-77"}}`
	if outcome := f.process(t, body); outcome != webhook.OutcomeApplied {
		t.Fatalf("expected APPLIED, got %s", outcome)
	}

	rec, err := f.store.GetByID(ctx, "payout-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.Status != payment.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", rec.Status)
	}
	if f.store.PoolBalance(1) != 0 {
		t.Fatalf("expected pool drained, got %d", f.store.PoolBalance(1))
	}

	p, err := paymenttest.NewDirectory(f.store).GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.CurrentRound != 2 {
		t.Fatalf("expected round advanced to 2, got %d", p.CurrentRound)
	}
}
