// Package paymenttest provides in-memory fakes for payment-flow tests.
// The Store emulates the Postgres repository's transition semantics,
// including the uniqueness constraints and the side effects on pools and
// members, so services can be tested without a database.
package paymenttest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amajid/jamiya/internal/payment"
	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/pkg/money"
)

// Store is an in-memory payment.Store sharing state with a Directory
type Store struct {
	mu      sync.Mutex
	Records map[string]*payment.Record
	Pools   map[int64]*pool.Pool
	Members map[int64][]*pool.Member // keyed by pool id
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		Records: make(map[string]*payment.Record),
		Pools:   make(map[int64]*pool.Pool),
		Members: make(map[int64][]*pool.Member),
	}
}

// AddPool registers a pool and its members
func (s *Store) AddPool(p *pool.Pool, members ...*pool.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pools[p.ID] = p
	s.Members[p.ID] = members
}

// Create inserts a record, enforcing the same uniqueness rules as the
// database schema
func (s *Store) Create(ctx context.Context, rec *payment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.Records[rec.PaymentID]; exists {
		return payment.ErrDuplicatePayment
	}
	if err := s.checkUnique(rec); err != nil {
		return err
	}

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.Records[rec.PaymentID] = &cp
	return nil
}

// GetByID returns a copy of the record, or nil when absent
func (s *Store) GetByID(ctx context.Context, paymentID string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.Records[paymentID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// FindByExternalID matches a record on a gateway correlation id
func (s *Store) FindByExternalID(ctx context.Context, field payment.ExternalIDField, value string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.Records {
		var candidate *string
		switch field {
		case payment.ExternalOrderID:
			candidate = rec.GatewayOrderID
		case payment.ExternalAuthorizationID:
			candidate = rec.GatewayAuthorizationID
		case payment.ExternalCaptureID:
			candidate = rec.GatewayCaptureID
		}
		if candidate != nil && *candidate == value {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// FindRelated returns the record of the given type linked to a parent
func (s *Store) FindRelated(ctx context.Context, relatedPaymentID string, typ payment.Type) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.Records {
		if rec.Type == typ && rec.RelatedPaymentID != nil && *rec.RelatedPaymentID == relatedPaymentID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// Transition applies a conditional status update with side effects,
// mirroring the repository's single-transaction behavior
func (s *Store) Transition(ctx context.Context, paymentID string, from []payment.Status, to payment.Status, eff payment.Effects) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.Records[paymentID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}

	matched := false
	for _, st := range from {
		if rec.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		cp := *rec
		return &cp, payment.ErrInvalidTransition
	}

	if eff.InsertLinked != nil {
		if _, exists := s.Records[eff.InsertLinked.PaymentID]; exists {
			cp := *rec
			return &cp, payment.ErrInvalidTransition
		}
		if err := s.checkUnique(eff.InsertLinked); err != nil {
			cp := *rec
			return &cp, payment.ErrInvalidTransition
		}
	}

	rec.Status = to

	if eff.CreditPool != 0 {
		if p, ok := s.Pools[rec.PoolID]; ok {
			p.TotalAmount += eff.CreditPool
		}
	}
	if eff.CountContribution {
		if m := s.member(rec.PoolID, rec.MemberID); m != nil {
			m.TotalContributed += rec.Amount
			m.PaymentsOnTime++
		}
	}
	if eff.MarkPayoutReceived {
		if m := s.member(rec.PoolID, rec.MemberID); m != nil {
			m.PayoutReceived = true
		}
	}
	if eff.AdvancePoolRound {
		if p, ok := s.Pools[rec.PoolID]; ok {
			p.CurrentRound++
			p.RoundStartedAt = time.Now()
			if p.CurrentRound > p.TotalRounds {
				p.Status = pool.StatusComplete
			}
		}
	}
	if eff.InsertLinked != nil {
		linked := *eff.InsertLinked
		related := rec.PaymentID
		linked.RelatedPaymentID = &related
		if linked.CreatedAt.IsZero() {
			linked.CreatedAt = time.Now()
		}
		s.Records[linked.PaymentID] = &linked
	}
	if eff.SetOrderID != nil {
		v := *eff.SetOrderID
		rec.GatewayOrderID = &v
	}
	if eff.SetAuthorizationID != nil {
		v := *eff.SetAuthorizationID
		rec.GatewayAuthorizationID = &v
	}
	if eff.SetCaptureID != nil {
		v := *eff.SetCaptureID
		rec.GatewayCaptureID = &v
	}
	if eff.SetFailureReason != nil {
		v := *eff.SetFailureReason
		rec.FailureReason = &v
	}
	if eff.IncrementFailureCount {
		rec.FailureCount++
	}
	if eff.SetProcessedAt {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	if eff.SetReleasedAt {
		now := time.Now()
		rec.ReleasedAt = &now
	}

	cp := *rec
	return &cp, nil
}

// ListByPoolRound returns records of a type within a pool round
func (s *Store) ListByPoolRound(ctx context.Context, poolID int64, round int, typ payment.Type) ([]*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*payment.Record
	for _, rec := range s.Records {
		if rec.PoolID == poolID && rec.Round == round && rec.Type == typ {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out, nil
}

// List filters the user's records, newest first
func (s *Store) List(ctx context.Context, filter payment.Filter) ([]*payment.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*payment.Record
	for _, rec := range s.Records {
		if rec.UserID != filter.UserID {
			continue
		}
		if filter.PoolID != nil && rec.PoolID != *filter.PoolID {
			continue
		}
		if filter.Type != nil && rec.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.DateFrom != nil && rec.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && rec.CreatedAt.After(*filter.DateTo) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(rec.PaymentID), strings.ToLower(filter.Search)) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// PoolBalance reads a pool's held balance for assertions
func (s *Store) PoolBalance(poolID int64) money.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Pools[poolID]; ok {
		return p.TotalAmount
	}
	return 0
}

// checkUnique enforces the partial unique indexes: one live contribution
// per member per round, one live payout per pool per round. Caller holds
// the lock.
func (s *Store) checkUnique(rec *payment.Record) error {
	if rec.Status == payment.StatusFailed || rec.Status == payment.StatusCancelled {
		return nil
	}
	for _, other := range s.Records {
		if other.Status == payment.StatusFailed || other.Status == payment.StatusCancelled {
			continue
		}
		if other.PoolID != rec.PoolID || other.Round != rec.Round || other.Type != rec.Type {
			continue
		}
		switch rec.Type {
		case payment.TypeContribution:
			if other.MemberID == rec.MemberID {
				return payment.ErrDuplicatePayment
			}
		case payment.TypePayout:
			return payment.ErrDuplicatePayment
		}
	}
	return nil
}

func (s *Store) member(poolID, memberID int64) *pool.Member {
	for _, m := range s.Members[poolID] {
		if m.ID == memberID {
			return m
		}
	}
	return nil
}

// Directory adapts the Store's pool data to the pool.Directory interface
type Directory struct {
	store *Store
}

// NewDirectory creates a Directory view over a Store
func NewDirectory(store *Store) *Directory {
	return &Directory{store: store}
}

// GetByID returns a copy of the pool, or nil when absent
func (d *Directory) GetByID(ctx context.Context, id int64) (*pool.Pool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	p, ok := d.store.Pools[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// ListMembers returns copies of the pool's members ordered by position
func (d *Directory) ListMembers(ctx context.Context, poolID int64) ([]*pool.Member, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	var out []*pool.Member
	for _, m := range d.store.Members[poolID] {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// GetMemberByUserID returns the member row for a user, or nil
func (d *Directory) GetMemberByUserID(ctx context.Context, poolID, userID int64) (*pool.Member, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	for _, m := range d.store.Members[poolID] {
		if m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

// ListPoolIDsByUserID returns active pools the user belongs to
func (d *Directory) ListPoolIDsByUserID(ctx context.Context, userID int64) ([]int64, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	var ids []int64
	for poolID, members := range d.store.Members {
		p, ok := d.store.Pools[poolID]
		if !ok || p.Status != pool.StatusActive {
			continue
		}
		for _, m := range members {
			if m.UserID == userID {
				ids = append(ids, poolID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// IsAdmin reports whether the user holds the pool-admin role
func (d *Directory) IsAdmin(ctx context.Context, poolID, userID int64) (bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	for _, m := range d.store.Members[poolID] {
		if m.UserID == userID && m.Role == pool.MemberRoleAdmin {
			return true, nil
		}
	}
	return false, nil
}
