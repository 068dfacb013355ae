package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

// Action is a self-service subscription management action.
type Action string

const (
	ActionPortal     Action = "portal"
	ActionCancel     Action = "cancel"
	ActionReactivate Action = "reactivate"
)

// ParseAction validates a management action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPortal, ActionCancel, ActionReactivate:
		return a, nil
	default:
		return "", ErrInvalidAction
	}
}

// ManageResult is the outcome of a management action.
type ManageResult struct {
	Action Action
	URL    string      // portal only
	Sync   *SyncResult // cancel and reactivate only
}

// ManualAssignment describes an admin-assigned subscription.
type ManualAssignment struct {
	ActorID   string
	UserID    string
	Tier      Tier
	PeriodEnd *time.Time // nil for an open-ended assignment
	Reason    string
}

// Manager serves self-service actions and the privileged override path.
type Manager struct {
	store      Store
	journal    EventJournal
	sweeper    *Sweeper
	providers  map[ProviderName]BillingProvider
	authorizer Authorizer
	logger     *slog.Logger
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithManagerProvider(p BillingProvider) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.providers[p.Name()] = p
		}
	}
}

// WithAuthorizer sets the capability check for override actions. Defaults to DenyAll.
func WithAuthorizer(a Authorizer) ManagerOption {
	return func(m *Manager) {
		if a != nil {
			m.authorizer = a
		}
	}
}

func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager.
// Panics if a required dependency is nil.
func NewManager(store Store, journal EventJournal, sweeper *Sweeper, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("subscription: Store is required")
	}
	if journal == nil {
		panic("subscription: EventJournal is required")
	}
	if sweeper == nil {
		panic("subscription: Sweeper is required")
	}
	m := &Manager{
		store:      store,
		journal:    journal,
		sweeper:    sweeper,
		providers:  make(map[ProviderName]BillingProvider),
		authorizer: DenyAll,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("manager"))
	return m
}

// Manage runs a self-service action for userID.
//
// Cancel and reactivate toggle the flag at the provider and then re-sync, so
// the returned state is the provider's answer rather than a local guess.
func (m *Manager) Manage(ctx context.Context, action Action, userID, returnURL string) (*ManageResult, error) {
	switch action {
	case ActionPortal:
		url, err := m.portal(ctx, userID, returnURL)
		if err != nil {
			return nil, err
		}
		return &ManageResult{Action: action, URL: url}, nil
	case ActionCancel, ActionReactivate:
		sync, err := m.toggleCancel(ctx, userID, action == ActionCancel)
		if err != nil {
			return nil, err
		}
		return &ManageResult{Action: action, Sync: sync}, nil
	default:
		return nil, ErrInvalidAction
	}
}

// Sync re-reads provider truth for userID.
func (m *Manager) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	return m.sweeper.Sync(ctx, userID)
}

func (m *Manager) portal(ctx context.Context, userID, returnURL string) (string, error) {
	sub, err := Get(ctx, m.store, userID)
	if err != nil {
		return "", err
	}
	if sub.ExternalCustomerID == "" {
		return "", ErrNoCustomer
	}
	provider, ok := m.providers[sub.Provider]
	if !ok {
		return "", ErrPaymentNotConfigured
	}

	url, err := provider.PortalURL(ctx, sub, returnURL)
	if err != nil {
		m.logger.ErrorContext(ctx, "portal session creation failed",
			logger.UserID(userID),
			logger.Provider(string(sub.Provider)),
			logger.Error(err),
		)
		return "", err
	}
	if url == "" {
		return "", ErrNoPortalURL
	}
	return url, nil
}

func (m *Manager) toggleCancel(ctx context.Context, userID string, cancel bool) (*SyncResult, error) {
	sub, err := m.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	if sub.IsManuallyCreated {
		return nil, ErrManualOverrideConflict
	}
	if !sub.HasExternalSubscription() {
		return nil, ErrNothingToSync
	}
	toggler, ok := m.providers[sub.Provider].(CancellationToggler)
	if !ok {
		return nil, ErrPaymentNotConfigured
	}

	if err := toggler.SetCancelAtPeriodEnd(ctx, sub.ExternalSubscriptionID, cancel); err != nil {
		m.logger.ErrorContext(ctx, "cancellation toggle failed",
			logger.UserID(userID),
			logger.SubscriptionID(sub.ExternalSubscriptionID),
			slog.Bool("cancel", cancel),
			logger.Error(err),
		)
		return nil, err
	}
	return m.sweeper.Sync(ctx, userID)
}

// AssignManual writes an admin-managed subscription that automated
// reconciliation will not overwrite until ClearOverride is called.
func (m *Manager) AssignManual(ctx context.Context, a ManualAssignment) (*Subscription, error) {
	if err := m.authorize(ctx, a.ActorID); err != nil {
		return nil, err
	}
	if a.UserID == "" {
		return nil, ErrInvalidIdentity
	}
	if !a.Tier.Valid() {
		return nil, ErrInvalidTier
	}

	existing, err := Get(ctx, m.store, a.UserID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sub := &Subscription{
		UserID:             a.UserID,
		Tier:               a.Tier,
		Status:             StatusActive,
		Provider:           ProviderManual,
		ExternalCustomerID: existing.ExternalCustomerID,
		CurrentPeriodStart: timePtr(now),
		CurrentPeriodEnd:   cloneTime(a.PeriodEnd),
		IsManuallyCreated:  true,
		CreatedAt:          existing.CreatedAt,
		UpdatedAt:          now,
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if err := m.store.Upsert(ctx, sub, AdminWrite); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	m.journalAdmin(ctx, a.ActorID, existing.Tier, sub, map[string]any{
		"action":   "assign",
		"reason":   a.Reason,
		"replaced": existing.ExternalSubscriptionID,
	})
	m.logger.InfoContext(ctx, "manual subscription assigned",
		logger.ActorID(a.ActorID),
		logger.UserID(a.UserID),
		logger.Tier(a.Tier),
	)
	return sub, nil
}

// ClearOverride drops the manual flag and returns the user to the free tier so
// provider reconciliation can take over again. Rows that are not manual are returned unchanged.
func (m *Manager) ClearOverride(ctx context.Context, actorID, userID, reason string) (*Subscription, error) {
	if err := m.authorize(ctx, actorID); err != nil {
		return nil, err
	}

	existing, err := m.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	if !existing.IsManuallyCreated {
		return existing, nil
	}

	sub := existing.Clone()
	sub.ClearExternal()
	sub.ExternalCustomerID = existing.ExternalCustomerID
	sub.Status = StatusActive
	sub.EndedAt = nil
	sub.IsManuallyCreated = false
	sub.UpdatedAt = m.now().UTC()
	if err := m.store.Upsert(ctx, sub, AdminWrite); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	m.journalAdmin(ctx, actorID, existing.Tier, sub, map[string]any{
		"action": "clear_override",
		"reason": reason,
	})
	m.logger.InfoContext(ctx, "manual override cleared", logger.ActorID(actorID), logger.UserID(userID))
	return sub, nil
}

func (m *Manager) authorize(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrPermissionDenied
	}
	ok, err := m.authorizer.Can(ctx, actorID, CapabilityOverride)
	if err != nil {
		return fmt.Errorf("check %s capability: %w", CapabilityOverride, err)
	}
	if !ok {
		m.logger.WarnContext(ctx, "override denied", logger.ActorID(actorID))
		return ErrPermissionDenied
	}
	return nil
}

func (m *Manager) journalAdmin(ctx context.Context, actorID string, oldTier Tier, sub *Subscription, md map[string]any) {
	md["actor_id"] = actorID
	event := Event{
		ID:        uuid.NewString(),
		UserID:    sub.UserID,
		Type:      EventAdminModified,
		OldTier:   oldTier,
		NewTier:   sub.Tier,
		Metadata:  md,
		CreatedAt: m.now().UTC(),
	}
	if err := m.journal.Append(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "admin change not journaled", logger.UserID(sub.UserID), logger.Error(err))
	}
}
