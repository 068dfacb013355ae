package subscription

import (
	"slices"
	"time"
)

// Tier is a subscription level. Tiers are totally ordered: free < pro < premium < enterprise.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierOrder = []Tier{TierFree, TierPro, TierPremium, TierEnterprise}

// Tiers returns all tiers in ascending order.
func Tiers() []Tier {
	return slices.Clone(tierOrder)
}

// Rank returns the position of the tier in the total order, or -1 for unknown values.
func (t Tier) Rank() int {
	return slices.Index(tierOrder, t)
}

// Valid reports whether t is one of the closed set of tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Compare returns -1, 0 or +1 when t is lower, equal or higher than other.
func (t Tier) Compare(other Tier) int {
	a, b := t.Rank(), other.Rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ParseTier converts a raw string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", ErrInvalidTier
	}
	return t, nil
}

// BillingInterval represents the billing frequency of a price.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Valid reports whether the interval is month or year.
func (i BillingInterval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// AddTo advances t by one interval.
func (i BillingInterval) AddTo(t time.Time) time.Time {
	if i == IntervalYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Status mirrors the provider-side status of a subscription.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusIncomplete Status = "incomplete"
	StatusCanceled   Status = "canceled"
)

// ProviderName identifies where a subscription row came from.
type ProviderName string

const (
	ProviderStripe ProviderName = "stripe"
	ProviderPaddle ProviderName = "paddle"
	ProviderManual ProviderName = "manual"
)

// Renews reports whether the provider bills the subscription again on its own.
// Paddle rows are one-time orders that run out at the end of their period.
func (p ProviderName) Renews() bool {
	return p != ProviderPaddle
}

// PendingIdentity is the identity sentinel used when checkout starts before an account exists.
const PendingIdentity = "pending"

// UnknownUserID is the placeholder identity for provider events that could not be attributed.
const UnknownUserID = "unknown"
