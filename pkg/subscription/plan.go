package subscription

import (
	"context"
	"slices"
)

// PlanFeature is a single entry of a plan's feature list.
type PlanFeature struct {
	Key         string
	Description string
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64
	Currency string
}

// Plan is reference data mapping provider price identifiers to a tier.
// A price id belongs to a plan when it equals either the monthly or the yearly column.
type Plan struct {
	ID             string
	Name           string
	Tier           Tier
	PriceIDMonthly string
	PriceIDYearly  string
	PriceMonthly   Money
	PriceYearly    Money
	Features       []PlanFeature
}

// MatchesPrice reports whether priceID is one of the plan's provider prices.
func (p Plan) MatchesPrice(priceID string) bool {
	if priceID == "" {
		return false
	}
	return p.PriceIDMonthly == priceID || p.PriceIDYearly == priceID
}

// IntervalFor returns the billing interval of priceID within the plan.
func (p Plan) IntervalFor(priceID string) (BillingInterval, bool) {
	switch {
	case priceID == "":
		return "", false
	case p.PriceIDMonthly == priceID:
		return IntervalMonth, true
	case p.PriceIDYearly == priceID:
		return IntervalYear, true
	}
	return "", false
}

// PriceID returns the plan's price identifier for the interval.
func (p Plan) PriceID(interval BillingInterval) string {
	if interval == IntervalYear {
		return p.PriceIDYearly
	}
	return p.PriceIDMonthly
}

// HasFeature reports whether the plan lists the feature key.
func (p Plan) HasFeature(key string) bool {
	return slices.ContainsFunc(p.Features, func(f PlanFeature) bool { return f.Key == key })
}

// PlanSource provides read access to plan reference data.
type PlanSource interface {
	// FindByPriceID returns the plan owning priceID or ErrPlanNotFound.
	FindByPriceID(ctx context.Context, priceID string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}
