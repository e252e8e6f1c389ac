package pool

import (
	"context"
	"database/sql"
	"fmt"
)

// Directory is the read surface this core needs from the pool/member
// aggregate. Membership CRUD is owned by the pool-management collaborator;
// counter and round updates happen only as payment transition side effects.
type Directory interface {
	GetByID(ctx context.Context, id int64) (*Pool, error)
	ListMembers(ctx context.Context, poolID int64) ([]*Member, error)
	GetMemberByUserID(ctx context.Context, poolID, userID int64) (*Member, error)
	ListPoolIDsByUserID(ctx context.Context, userID int64) ([]int64, error)
	IsAdmin(ctx context.Context, poolID, userID int64) (bool, error)
}

// Repository handles pool data persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new pool repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves a pool by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Pool, error) {
	query := `
		SELECT id, name, contribution_amount, currency_code, frequency,
		       current_round, total_rounds, total_amount, status,
		       round_started_at, created_at
		FROM pools
		WHERE id = $1
	`

	pool := &Pool{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&pool.ID,
		&pool.Name,
		&pool.ContributionAmount,
		&pool.CurrencyCode,
		&pool.Frequency,
		&pool.CurrentRound,
		&pool.TotalRounds,
		&pool.TotalAmount,
		&pool.Status,
		&pool.RoundStartedAt,
		&pool.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	return pool, nil
}

// ListMembers retrieves all members of a pool ordered by position
func (r *Repository) ListMembers(ctx context.Context, poolID int64) ([]*Member, error) {
	query := `
		SELECT id, pool_id, user_id, position, role, email, name,
		       total_contributed, payments_on_time, payments_missed,
		       payout_received, joined_at
		FROM pool_members
		WHERE pool_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		if err := rows.Scan(
			&member.ID,
			&member.PoolID,
			&member.UserID,
			&member.Position,
			&member.Role,
			&member.Email,
			&member.Name,
			&member.TotalContributed,
			&member.PaymentsOnTime,
			&member.PaymentsMissed,
			&member.PayoutReceived,
			&member.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	return members, nil
}

// GetMemberByUserID retrieves a pool member by their user ID
func (r *Repository) GetMemberByUserID(ctx context.Context, poolID, userID int64) (*Member, error) {
	query := `
		SELECT id, pool_id, user_id, position, role, email, name,
		       total_contributed, payments_on_time, payments_missed,
		       payout_received, joined_at
		FROM pool_members
		WHERE pool_id = $1 AND user_id = $2
	`

	member := &Member{}
	err := r.db.QueryRowContext(ctx, query, poolID, userID).Scan(
		&member.ID,
		&member.PoolID,
		&member.UserID,
		&member.Position,
		&member.Role,
		&member.Email,
		&member.Name,
		&member.TotalContributed,
		&member.PaymentsOnTime,
		&member.PaymentsMissed,
		&member.PayoutReceived,
		&member.JoinedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// ListPoolIDsByUserID retrieves the IDs of all active pools a user belongs to
func (r *Repository) ListPoolIDsByUserID(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT p.id
		FROM pools p
		JOIN pool_members pm ON p.id = pm.pool_id
		WHERE pm.user_id = $1 AND p.status = $2
		ORDER BY p.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools for user: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pool id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// IsAdmin reports whether the user holds the pool-admin capability
func (r *Repository) IsAdmin(ctx context.Context, poolID, userID int64) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM pool_members
		WHERE pool_id = $1 AND user_id = $2 AND role = $3
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, poolID, userID, MemberRoleAdmin).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}

	return count > 0, nil
}
