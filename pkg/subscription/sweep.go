package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

// SyncOutcome reports what a sweep did to the local row.
type SyncOutcome string

const (
	SyncNothingToSync SyncOutcome = "nothing_to_sync"
	SyncUpdated       SyncOutcome = "updated"
	SyncCanceled      SyncOutcome = "canceled"
)

// SyncResult is returned by Sweeper.Sync.
type SyncResult struct {
	Outcome      SyncOutcome
	Changed      bool // local row differed from the provider view
	Subscription *Subscription
}

// Sweeper re-reads provider truth for a single user and repairs local drift.
// It writes through the same automated path as the Reconciler, so manually
// managed rows are never touched. Tier changes it finds are journaled like
// webhook-driven ones.
type Sweeper struct {
	store    Store
	journal  EventJournal
	resolver *Resolver
	fetchers map[ProviderName]SubscriptionFetcher
	logger   *slog.Logger
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepProvider registers a provider able to fetch live subscriptions.
// Providers without that capability are ignored.
func WithSweepProvider(p BillingProvider) SweeperOption {
	return func(s *Sweeper) {
		if f, ok := p.(SubscriptionFetcher); ok {
			s.fetchers[p.Name()] = f
		}
	}
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper. Panics if any dependency is nil.
func NewSweeper(store Store, journal EventJournal, resolver *Resolver, opts ...SweeperOption) *Sweeper {
	if store == nil {
		panic("subscription: Store is required")
	}
	if journal == nil {
		panic("subscription: EventJournal is required")
	}
	if resolver == nil {
		panic("subscription: Resolver is required")
	}
	s := &Sweeper{
		store:    store,
		journal:  journal,
		resolver: resolver,
		fetchers: make(map[ProviderName]SubscriptionFetcher),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("sweeper"))
	return s
}

// Sync pulls the live provider subscription for userID into the local row.
//
// A provider that no longer knows the subscription marks the row canceled
// instead of deleting it, and a one-time order past its period end is marked
// canceled without asking the provider. The provider's price is resolved to
// a tier; a price no plan owns leaves the stored tier alone. Provider errors
// are returned without mutating state.
func (s *Sweeper) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	sub, err := s.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return &SyncResult{Outcome: SyncNothingToSync, Subscription: DefaultSubscription(userID)}, nil
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	if !sub.HasExternalSubscription() {
		return &SyncResult{Outcome: SyncNothingToSync, Subscription: sub}, nil
	}

	log := s.logger.With(
		logger.UserID(userID),
		logger.Provider(string(sub.Provider)),
		logger.SubscriptionID(sub.ExternalSubscriptionID),
	)

	if sub.Lapsed(s.now()) {
		// A later purchase arrives as a new order, never as this one renewing.
		return s.markCanceled(ctx, log, sub, *sub.CurrentPeriodEnd, "period_ended")
	}

	fetcher, err := s.fetcher(sub.Provider)
	if err != nil {
		return nil, err
	}

	remote, err := fetcher.FetchSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		if !errors.Is(err, ErrExternalSubscriptionNotFound) {
			log.WarnContext(ctx, "could not verify subscription with provider", logger.Error(err))
			return nil, err
		}
		return s.markCanceled(ctx, log, sub, s.now(), "missing_at_provider")
	}

	next := sub.Clone()
	next.Status = remote.Status
	if next.Status == "" {
		next.Status = sub.Status
	}
	next.CurrentPeriodStart = cloneTime(remote.CurrentPeriodStart)
	next.CurrentPeriodEnd = cloneTime(remote.CurrentPeriodEnd)
	next.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	next.EndedAt = cloneTime(remote.EndedAt)
	if remote.CustomerID != "" {
		next.ExternalCustomerID = remote.CustomerID
	}
	if remote.PriceID != "" && remote.PriceID != sub.PriceID {
		plan, _, err := s.resolver.Lookup(ctx, remote.PriceID)
		if err != nil {
			log.WarnContext(ctx, "provider price not in catalog, tier kept",
				logger.PriceID(remote.PriceID),
				logger.Error(err),
			)
		} else {
			next.Tier = plan.Tier
			next.PriceID = remote.PriceID
		}
	}

	result := &SyncResult{Outcome: SyncUpdated, Changed: drifted(sub, next), Subscription: next}
	if !result.Changed {
		return result, nil
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	logTransition(ctx, log, sub, next, s.now())
	log.InfoContext(ctx, "subscription drift repaired",
		slog.String("status", string(next.Status)),
		logger.Tier(next.Tier),
		slog.Bool("cancel_at_period_end", next.CancelAtPeriodEnd),
	)

	if kind, changed := ClassifyTierChange(sub.Tier, next.Tier); changed {
		s.appendEvent(ctx, Event{
			UserID:  sub.UserID,
			Type:    kind,
			OldTier: sub.Tier,
			NewTier: next.Tier,
			Metadata: map[string]any{
				"source":          "sweep",
				"subscription_id": sub.ExternalSubscriptionID,
				"price_id":        next.PriceID,
				"provider":        string(sub.Provider),
			},
		})
	}
	return result, nil
}

// markCanceled ends the row at endedAt. reason lands in the journal entry.
func (s *Sweeper) markCanceled(ctx context.Context, log *slog.Logger, sub *Subscription, endedAt time.Time, reason string) (*SyncResult, error) {
	if sub.IsCanceled() && sub.EndedAt != nil {
		return &SyncResult{Outcome: SyncCanceled, Subscription: sub}, nil
	}

	next := sub.Clone()
	next.Status = StatusCanceled
	next.EndedAt = timePtr(endedAt.UTC())
	next.CancelAtPeriodEnd = false
	next.UpdatedAt = s.now().UTC()
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	logTransition(ctx, log, sub, next, s.now())
	log.InfoContext(ctx, "subscription marked canceled", slog.String("reason", reason))

	s.appendEvent(ctx, Event{
		UserID:  sub.UserID,
		Type:    EventCanceled,
		OldTier: sub.Tier,
		NewTier: TierFree,
		Metadata: map[string]any{
			"source":          "sweep",
			"reason":          reason,
			"subscription_id": sub.ExternalSubscriptionID,
			"provider":        string(sub.Provider),
		},
	})
	return &SyncResult{Outcome: SyncCanceled, Changed: true, Subscription: next}, nil
}

func (s *Sweeper) appendEvent(ctx context.Context, event Event) {
	event.ID = uuid.NewString()
	event.CreatedAt = s.now().UTC()
	if err := s.journal.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "subscription event not journaled",
			logger.UserID(event.UserID),
			logger.EventType(string(event.Type)),
			logger.Error(err),
		)
	}
}

func (s *Sweeper) write(ctx context.Context, sub *Subscription) error {
	err := s.store.Upsert(ctx, sub, WriteIntent{})
	if err == nil || errors.Is(err, ErrManualOverrideConflict) {
		return err
	}
	return errors.Join(ErrPersistence, err)
}

func (s *Sweeper) fetcher(provider ProviderName) (SubscriptionFetcher, error) {
	if f, ok := s.fetchers[provider]; ok {
		return f, nil
	}
	// Rows written before the provider column existed carry no provider name.
	if provider == "" && len(s.fetchers) == 1 {
		for _, f := range s.fetchers {
			return f, nil
		}
	}
	return nil, ErrPaymentNotConfigured
}

func drifted(a, b *Subscription) bool {
	return a.Status != b.Status ||
		a.Tier != b.Tier ||
		a.PriceID != b.PriceID ||
		a.CancelAtPeriodEnd != b.CancelAtPeriodEnd ||
		a.ExternalCustomerID != b.ExternalCustomerID ||
		!timeEqual(a.CurrentPeriodStart, b.CurrentPeriodStart) ||
		!timeEqual(a.CurrentPeriodEnd, b.CurrentPeriodEnd) ||
		!timeEqual(a.EndedAt, b.EndedAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
