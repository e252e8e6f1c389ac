package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Common errors
var (
	ErrDuplicatePayment  = errors.New("payment with this ID already exists")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("payment is not in a valid status for this transition")
)

// Filter narrows transaction history queries
type Filter struct {
	UserID   int64
	PoolID   *int64
	Type     *Type
	Status   *Status
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
	Limit    int
	Offset   int
}

// Store is the persistence contract for payment records. Every meaningful
// mutation goes through Transition, whose status precondition is the only
// concurrency guard in the system: there are no in-memory locks, so the
// design stays correct across multiple instances.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, paymentID string) (*Record, error)
	FindByExternalID(ctx context.Context, field ExternalIDField, value string) (*Record, error)
	FindRelated(ctx context.Context, relatedPaymentID string, typ Type) (*Record, error)
	Transition(ctx context.Context, paymentID string, from []Status, to Status, eff Effects) (*Record, error)
	ListByPoolRound(ctx context.Context, poolID int64, round int, typ Type) ([]*Record, error)
	List(ctx context.Context, filter Filter) ([]*Record, int, error)
}

// Repository is the Postgres-backed payment store
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new payment repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `payment_id, pool_id, member_id, user_id, round, amount, currency_code,
	type, status, gateway_order_id, gateway_authorization_id, gateway_capture_id,
	related_payment_id, failure_reason, failure_count, release_date,
	created_at, processed_at, released_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	err := row.Scan(
		&rec.PaymentID,
		&rec.PoolID,
		&rec.MemberID,
		&rec.UserID,
		&rec.Round,
		&rec.Amount,
		&rec.CurrencyCode,
		&rec.Type,
		&rec.Status,
		&rec.GatewayOrderID,
		&rec.GatewayAuthorizationID,
		&rec.GatewayCaptureID,
		&rec.RelatedPaymentID,
		&rec.FailureReason,
		&rec.FailureCount,
		&rec.ReleaseDate,
		&rec.CreatedAt,
		&rec.ProcessedAt,
		&rec.ReleasedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a new payment record. A paymentId collision reports
// ErrDuplicatePayment so callers can treat retried creates as no-ops.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	return insertRecord(ctx, r.db, rec)
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertRecord(ctx context.Context, q execQuerier, rec *Record) error {
	query := `
		INSERT INTO payments (payment_id, pool_id, member_id, user_id, round, amount,
		                      currency_code, type, status, gateway_order_id,
		                      gateway_authorization_id, gateway_capture_id,
		                      related_payment_id, release_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`

	err := q.QueryRowContext(ctx, query,
		rec.PaymentID,
		rec.PoolID,
		rec.MemberID,
		rec.UserID,
		rec.Round,
		rec.Amount,
		rec.CurrencyCode,
		rec.Type,
		rec.Status,
		rec.GatewayOrderID,
		rec.GatewayAuthorizationID,
		rec.GatewayCaptureID,
		rec.RelatedPaymentID,
		rec.ReleaseDate,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment record by its ID
func (r *Repository) GetByID(ctx context.Context, paymentID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE payment_id = $1`, recordColumns)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, paymentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return rec, nil
}

// FindByExternalID looks up a record by a gateway correlation id. Used by
// reconciliation, which only ever sees the gateway's identifiers.
func (r *Repository) FindByExternalID(ctx context.Context, field ExternalIDField, value string) (*Record, error) {
	switch field {
	case ExternalOrderID, ExternalAuthorizationID, ExternalCaptureID:
	default:
		return nil, fmt.Errorf("unknown external id field: %s", field)
	}

	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s = $1`, recordColumns, field)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment by %s: %w", field, err)
	}

	return rec, nil
}

// FindRelated retrieves the record of the given type linked back to an
// origin record (e.g. the escrow_release created for an escrow hold)
func (r *Repository) FindRelated(ctx context.Context, relatedPaymentID string, typ Type) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE related_payment_id = $1 AND type = $2`, recordColumns)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, relatedPaymentID, typ))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find related payment: %w", err)
	}

	return rec, nil
}

// Transition atomically checks the record's current status against the
// allowed fromStatuses and applies the new status plus all side effects in
// one transaction. A failed precondition returns ErrInvalidTransition along
// with the record's current state, so racing callers can resolve whether
// the net effect they wanted already holds.
func (r *Repository) Transition(ctx context.Context, paymentID string, from []Status, to Status, eff Effects) (*Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sets := []string{"status = $1"}
	args := []interface{}{to}
	next := 2

	addSet := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if eff.SetOrderID != nil {
		addSet("gateway_order_id", *eff.SetOrderID)
	}
	if eff.SetAuthorizationID != nil {
		addSet("gateway_authorization_id", *eff.SetAuthorizationID)
	}
	if eff.SetCaptureID != nil {
		addSet("gateway_capture_id", *eff.SetCaptureID)
	}
	if eff.SetFailureReason != nil {
		addSet("failure_reason", *eff.SetFailureReason)
	}
	if eff.IncrementFailureCount {
		sets = append(sets, "failure_count = failure_count + 1")
	}
	if eff.SetProcessedAt {
		sets = append(sets, "processed_at = NOW()")
	}
	if eff.SetReleasedAt {
		sets = append(sets, "released_at = NOW()")
	}

	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	query := fmt.Sprintf(`
		UPDATE payments
		SET %s
		WHERE payment_id = $%d AND status = ANY($%d)
		RETURNING %s
	`, strings.Join(sets, ", "), next, next+1, recordColumns)
	args = append(args, paymentID, pq.Array(fromStatuses))

	rec, err := scanRecord(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			// Precondition failed: the record is absent or in another status.
			// Report the current state so callers can resolve the race.
			current, getErr := r.GetByID(ctx, paymentID)
			if getErr != nil {
				return nil, getErr
			}
			if current == nil {
				return nil, ErrPaymentNotFound
			}
			return current, ErrInvalidTransition
		}
		if isUniqueViolation(err) {
			// A twin record already holds the counted slot (e.g. a second
			// completed contribution for the same pool/member/round)
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	if eff.CreditPool != 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE pools SET total_amount = total_amount + $1 WHERE id = $2
		`, eff.CreditPool, rec.PoolID)
		if err != nil {
			return nil, fmt.Errorf("failed to credit pool: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("failed to credit pool: pool %d not found", rec.PoolID)
		}
	}

	if eff.CountContribution {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pool_members
			SET total_contributed = total_contributed + $1,
			    payments_on_time = payments_on_time + 1
			WHERE id = $2
		`, rec.Amount, rec.MemberID); err != nil {
			return nil, fmt.Errorf("failed to update member counters: %w", err)
		}
	}

	if eff.MarkPayoutReceived {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pool_members SET payout_received = TRUE WHERE id = $1
		`, rec.MemberID); err != nil {
			return nil, fmt.Errorf("failed to mark payout received: %w", err)
		}
	}

	if eff.AdvancePoolRound {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pools
			SET current_round = current_round + 1,
			    round_started_at = NOW(),
			    status = CASE WHEN current_round + 1 > total_rounds THEN 'COMPLETE' ELSE status END
			WHERE id = $1
		`, rec.PoolID); err != nil {
			return nil, fmt.Errorf("failed to advance pool round: %w", err)
		}
	}

	if eff.InsertLinked != nil {
		linked := eff.InsertLinked
		linked.RelatedPaymentID = &rec.PaymentID
		if err := insertRecord(ctx, tx, linked); err != nil {
			if errors.Is(err, ErrDuplicatePayment) {
				return nil, ErrInvalidTransition
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return rec, nil
}

// ListByPoolRound retrieves all records of a type for a pool round
func (r *Repository) ListByPoolRound(ctx context.Context, poolID int64, round int, typ Type) ([]*Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payments
		WHERE pool_id = $1 AND round = $2 AND type = $3
		ORDER BY created_at ASC
	`, recordColumns)

	rows, err := r.db.QueryContext(ctx, query, poolID, round, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for round: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// List retrieves a user's transaction history with filters and pagination
func (r *Repository) List(ctx context.Context, filter Filter) ([]*Record, int, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{filter.UserID}
	next := 2

	addWhere := func(clause string, value interface{}) {
		where = append(where, fmt.Sprintf(clause, next))
		args = append(args, value)
		next++
	}

	if filter.PoolID != nil {
		addWhere("pool_id = $%d", *filter.PoolID)
	}
	if filter.Type != nil {
		addWhere("type = $%d", *filter.Type)
	}
	if filter.Status != nil {
		addWhere("status = $%d", *filter.Status)
	}
	if filter.DateFrom != nil {
		addWhere("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		addWhere("created_at <= $%d", *filter.DateTo)
	}
	if filter.Search != "" {
		clause := fmt.Sprintf(`(payment_id ILIKE $%d
			OR COALESCE(gateway_order_id, '') ILIKE $%d
			OR COALESCE(gateway_capture_id, '') ILIKE $%d
			OR COALESCE(failure_reason, '') ILIKE $%d)`, next, next, next, next)
		where = append(where, clause)
		args = append(args, "%"+filter.Search+"%")
		next++
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM payments WHERE %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM payments
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, recordColumns, whereClause, next, next+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		records = append(records, rec)
	}

	return records, total, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (class 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
