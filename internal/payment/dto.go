package payment

// InitiateContributionRequest starts a contribution into the pool's
// current round. PaymentID is an optional client-supplied correlation id;
// retrying with the same id is a no-op.
type InitiateContributionRequest struct {
	PoolID    int64  `json:"pool_id" validate:"required"`
	PaymentID string `json:"payment_id,omitempty"`
}

// RecordResponse represents a payment record in API responses
type RecordResponse struct {
	PaymentID        string  `json:"payment_id"`
	PoolID           int64   `json:"pool_id"`
	MemberID         int64   `json:"member_id"`
	Round            int     `json:"round"`
	Amount           int64   `json:"amount"`
	AmountDecimal    string  `json:"amount_decimal"`
	CurrencyCode     string  `json:"currency_code"`
	Type             Type    `json:"type"`
	Status           Status  `json:"status"`
	GatewayOrderID   *string `json:"gateway_order_id,omitempty"`
	RelatedPaymentID *string `json:"related_payment_id,omitempty"`
	FailureReason    *string `json:"failure_reason,omitempty"`
	FailureCount     int     `json:"failure_count,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ProcessedAt      *string `json:"processed_at,omitempty"`
	ReleasedAt       *string `json:"released_at,omitempty"`
}

// ToResponse converts a Record to its API representation
func (r *Record) ToResponse() *RecordResponse {
	resp := &RecordResponse{
		PaymentID:        r.PaymentID,
		PoolID:           r.PoolID,
		MemberID:         r.MemberID,
		Round:            r.Round,
		Amount:           int64(r.Amount),
		AmountDecimal:    r.Amount.Decimal(),
		CurrencyCode:     r.CurrencyCode,
		Type:             r.Type,
		Status:           r.Status,
		GatewayOrderID:   r.GatewayOrderID,
		RelatedPaymentID: r.RelatedPaymentID,
		FailureReason:    r.FailureReason,
		FailureCount:     r.FailureCount,
		CreatedAt:        r.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if r.ProcessedAt != nil {
		ts := r.ProcessedAt.Format("2006-01-02T15:04:05Z")
		resp.ProcessedAt = &ts
	}
	if r.ReleasedAt != nil {
		ts := r.ReleasedAt.Format("2006-01-02T15:04:05Z")
		resp.ReleasedAt = &ts
	}
	return resp
}
