package subscription

import "time"

// Subscription is the single authoritative record of a user's tier.
// There is exactly one row per user; free rows carry no provider identifiers.
type Subscription struct {
	UserID                 string // primary key - one subscription per user
	Tier                   Tier
	Status                 Status
	Provider               ProviderName
	ExternalCustomerID     string // empty for free tier
	ExternalSubscriptionID string // empty for free tier
	PriceID                string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	EndedAt                *time.Time // set when the provider reports the subscription gone
	IsManuallyCreated      bool       // admin-override provenance
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DefaultSubscription is the view returned for users without a stored row.
func DefaultSubscription(userID string) *Subscription {
	return &Subscription{
		UserID: userID,
		Tier:   TierFree,
		Status: StatusActive,
	}
}

// IsFree reports whether the row grants the free tier only.
func (s *Subscription) IsFree() bool {
	return s.Tier == TierFree || s.Tier == ""
}

// HasExternalSubscription reports whether the row is linked to a provider subscription.
func (s *Subscription) HasExternalSubscription() bool {
	return s.ExternalSubscriptionID != ""
}

// IsCanceled returns true if the subscription ended at the provider.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// Lapsed reports whether a non-renewing purchase ran past its period end at now.
// Manual rows never lapse; their period end is informational.
func (s *Subscription) Lapsed(now time.Time) bool {
	if s.IsManuallyCreated || s.Provider.Renews() || s.CurrentPeriodEnd == nil {
		return false
	}
	return !now.Before(*s.CurrentPeriodEnd)
}

// EffectiveTier is EffectiveTierAt the current time.
func (s *Subscription) EffectiveTier() Tier {
	return s.EffectiveTierAt(time.Now())
}

// EffectiveTierAt is the tier that grants access at now: an ended or lapsed
// subscription grants the free tier.
func (s *Subscription) EffectiveTierAt(now time.Time) Tier {
	if s.IsCanceled() || s.Tier == "" || s.Lapsed(now) {
		return TierFree
	}
	return s.Tier
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

// ClearExternal drops every provider identifier and period bound, turning the row into a free row.
func (s *Subscription) ClearExternal() {
	s.Tier = TierFree
	s.Provider = ""
	s.ExternalCustomerID = ""
	s.ExternalSubscriptionID = ""
	s.PriceID = ""
	s.CurrentPeriodStart = nil
	s.CurrentPeriodEnd = nil
	s.CancelAtPeriodEnd = false
}

// State is the per-subscription lifecycle state.
type State string

const (
	StateNone          State = "none"
	StateActive        State = "active"
	StatePendingCancel State = "pending_cancel"
	StateCanceled      State = "canceled"
)

// StateOf is StateAt the current time.
func StateOf(s *Subscription) State {
	return StateAt(s, time.Now())
}

// StateAt derives the lifecycle state of a row at now. A nil row is StateNone.
func StateAt(s *Subscription, now time.Time) State {
	switch {
	case s == nil:
		return StateNone
	case s.IsCanceled(), s.Lapsed(now):
		return StateCanceled
	case s.IsFree() && !s.HasExternalSubscription() && !s.IsManuallyCreated:
		return StateNone
	case s.CancelAtPeriodEnd:
		return StatePendingCancel
	default:
		return StateActive
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
