package ledger

import (
	"fmt"

	"github.com/amajid/jamiya/internal/pool"
	"github.com/amajid/jamiya/pkg/money"
)

// PolicyType identifies a payout policy
type PolicyType string

const (
	// PolicyRecipientExempt: the round recipient does not contribute;
	// payout = contributionAmount x (memberCount - 1)
	PolicyRecipientExempt PolicyType = "RECIPIENT_EXEMPT"

	// PolicyUniversal: every member contributes, including the recipient;
	// payout = contributionAmount x memberCount
	PolicyUniversal PolicyType = "UNIVERSAL"
)

// Policy is the single source of truth for who owes into a round and how
// large the round payout is. Ledger gating and payout computation both
// consult the same policy so the two can never disagree.
type Policy interface {
	// Type returns the policy identifier
	Type() PolicyType

	// OwesContribution reports whether the member owes a contribution
	// into the given round
	OwesContribution(member *pool.Member, round int) bool

	// PayoutAmount computes the round payout for a pool with the given
	// per-member contribution and member count
	PayoutAmount(contribution money.Amount, memberCount int) money.Amount
}

// Factory creates payout policies based on the configured type
type Factory struct{}

// NewPolicyFactory creates a new factory instance
func NewPolicyFactory() *Factory {
	return &Factory{}
}

// Create returns the policy implementation for the given type
func (f *Factory) Create(policyType PolicyType) (Policy, error) {
	switch policyType {
	case PolicyRecipientExempt:
		return &RecipientExemptPolicy{}, nil
	case PolicyUniversal:
		return &UniversalPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown payout policy: %s", policyType)
	}
}

// CreateFromString creates a policy from a configuration string
func (f *Factory) CreateFromString(policyType string) (Policy, error) {
	return f.Create(PolicyType(policyType))
}

// RecipientExemptPolicy exempts the round recipient from contributing
type RecipientExemptPolicy struct{}

// Type returns the policy identifier
func (p *RecipientExemptPolicy) Type() PolicyType {
	return PolicyRecipientExempt
}

// OwesContribution excludes the member whose position matches the round
func (p *RecipientExemptPolicy) OwesContribution(member *pool.Member, round int) bool {
	return member.Position != round
}

// PayoutAmount is the contribution times the non-recipient member count
func (p *RecipientExemptPolicy) PayoutAmount(contribution money.Amount, memberCount int) money.Amount {
	if memberCount < 1 {
		return 0
	}
	return contribution.MulInt(memberCount - 1)
}

// UniversalPolicy has every member contribute, recipient included
type UniversalPolicy struct{}

// Type returns the policy identifier
func (p *UniversalPolicy) Type() PolicyType {
	return PolicyUniversal
}

// OwesContribution always holds under the universal policy
func (p *UniversalPolicy) OwesContribution(member *pool.Member, round int) bool {
	return true
}

// PayoutAmount is the contribution times the full member count
func (p *UniversalPolicy) PayoutAmount(contribution money.Amount, memberCount int) money.Amount {
	return contribution.MulInt(memberCount)
}
