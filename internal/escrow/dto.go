package escrow

import "time"

// CreateHoldRequest opens an escrow hold for the pool's current round.
// PaymentID is an optional client-supplied correlation id; ReleaseDate,
// when set, lets the scheduled sweep release the hold without admin action.
type CreateHoldRequest struct {
	PoolID      int64      `json:"pool_id" validate:"required"`
	PaymentID   string     `json:"payment_id,omitempty"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
}
