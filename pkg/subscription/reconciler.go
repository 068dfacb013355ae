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

// WebhookStatus is the outcome reported back to the provider.
type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookFailed    WebhookStatus = "failed" // acknowledged, error logged
)

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	EventID string
	Type    string
	Status  WebhookStatus
}

// Reconciler applies provider events to the Store, the EventJournal and the FailureLedger.
//
// Every handler derives the new row from the event payload and upserts it, so
// redelivery converges to the same state. Reading the stored row is limited to
// classifying tier changes for the journal.
type Reconciler struct {
	providers   map[ProviderName]BillingProvider
	store       Store
	journal     EventJournal
	failures    FailureLedger
	resolver    *Resolver
	provisioner *Provisioner
	accounts    AccountStore
	notifier    Notifier
	deduper     Deduper
	dedupeTTL   time.Duration
	claimTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithProvider registers a billing provider under its name.
func WithProvider(p BillingProvider) ReconcilerOption {
	return func(r *Reconciler) {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
}

// WithProvisioner enables account creation from pending checkout data.
func WithProvisioner(p *Provisioner) ReconcilerOption {
	return func(r *Reconciler) { r.provisioner = p }
}

// WithNotifications sends payment-failure notices to resolved users.
func WithNotifications(accounts AccountStore, n Notifier) ReconcilerOption {
	return func(r *Reconciler) {
		r.accounts = accounts
		r.notifier = n
	}
}

// WithDeduper suppresses reprocessing of already handled event ids.
// ttl is how long a processed id is remembered.
func WithDeduper(d Deduper, ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.deduper = d
		if ttl > 0 {
			r.dedupeTTL = ttl
		}
	}
}

// WithClaimTTL sets how long an in-flight delivery holds its dedupe claim.
func WithClaimTTL(ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.claimTTL = ttl
		}
	}
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReconcilerClock overrides the time source.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler creates a Reconciler.
// Panics if a required dependency is nil to fail fast during initialization.
func NewReconciler(store Store, journal EventJournal, failures FailureLedger, resolver *Resolver, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: Store is required")
	}
	if journal == nil {
		panic("subscription: EventJournal is required")
	}
	if failures == nil {
		panic("subscription: FailureLedger is required")
	}
	if resolver == nil {
		panic("subscription: Resolver is required")
	}

	r := &Reconciler{
		providers: make(map[ProviderName]BillingProvider),
		store:     store,
		journal:   journal,
		failures:  failures,
		resolver:  resolver,
		dedupeTTL: DefaultDedupeTTL,
		claimTTL:  DefaultClaimTTL,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("reconciler"))
	return r
}

// HandleWebhook verifies and processes one delivery from the named provider.
//
// Only authenticity failures and unknown providers are returned as errors; the
// caller must reject those. Processing errors are logged with the event context
// and reported as WebhookFailed so the provider receives an acknowledgement.
//
// The dedupe claim is held for the claim TTL while the event is applied and
// extended to the dedupe TTL only after it was processed. Failed and
// unresolved deliveries release the claim so a redelivery is applied again.
func (r *Reconciler) HandleWebhook(ctx context.Context, provider ProviderName, payload []byte, signature string) (*WebhookResult, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	event, err := p.ParseWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, ErrAuthenticityFailure) {
			r.logger.WarnContext(ctx, "webhook rejected", logger.Provider(string(provider)), logger.Error(err))
			return nil, err
		}
		// Verified but undecodable: nothing can be applied, a retry would not help.
		r.logger.ErrorContext(ctx, "webhook payload could not be decoded", logger.Provider(string(provider)), logger.Error(err))
		return &WebhookResult{Status: WebhookFailed}, nil
	}

	meta := event.Meta()
	result := &WebhookResult{EventID: meta.ID, Type: meta.Type, Status: WebhookProcessed}
	log := r.logger.With(
		logger.Provider(string(meta.Provider)),
		logger.EventType(meta.Type),
		logger.EventID(meta.ID),
	)

	if _, unhandled := event.(UnhandledEvent); unhandled {
		log.DebugContext(ctx, "webhook ignored")
		result.Status = WebhookIgnored
		return result, nil
	}

	claimed := false
	if r.deduper != nil && meta.ID != "" {
		ok, err := r.deduper.Claim(ctx, dedupeKey(meta), r.claimTTL)
		switch {
		case err != nil:
			// Processing stays idempotent without the claim.
			log.WarnContext(ctx, "webhook dedupe unavailable", logger.Error(err))
		case !ok:
			log.InfoContext(ctx, "duplicate webhook delivery")
			result.Status = WebhookDuplicate
			return result, nil
		default:
			claimed = true
		}
	}

	err = r.Apply(ctx, event)
	switch {
	case err == nil:
		if claimed {
			r.settleClaim(ctx, log, meta, true)
		}
	case errors.Is(err, ErrResolutionMiss):
		log.InfoContext(ctx, "webhook acting user unresolved")
		result.Status = WebhookIgnored
		if claimed {
			r.settleClaim(ctx, log, meta, false)
		}
	default:
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		result.Status = WebhookFailed
		if claimed {
			r.settleClaim(ctx, log, meta, false)
		}
	}
	return result, nil
}

// settleClaim keeps a processed delivery's claim for the dedupe TTL or drops it.
// It outlives ctx: a cancelled request must not leave the event id claimed.
func (r *Reconciler) settleClaim(ctx context.Context, log *slog.Logger, meta EventMeta, processed bool) {
	ctx = context.WithoutCancel(ctx)
	key := dedupeKey(meta)
	if processed {
		if err := r.deduper.Extend(ctx, key, r.dedupeTTL); err != nil {
			log.WarnContext(ctx, "webhook dedupe extend failed", logger.Error(err))
		}
		return
	}
	if err := r.deduper.Release(ctx, key); err != nil {
		log.WarnContext(ctx, "webhook dedupe release failed", logger.Error(err))
	}
}

// errSkipped marks a write that was intentionally not applied.
var errSkipped = errors.New("subscription: write skipped")

// Apply dispatches an already verified event to its handler.
// Events whose acting user cannot be resolved return ErrResolutionMiss.
func (r *Reconciler) Apply(ctx context.Context, event ProviderEvent) error {
	err := r.dispatch(ctx, event)
	if errors.Is(err, errSkipped) {
		return nil
	}
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, event ProviderEvent) error {
	switch ev := event.(type) {
	case CheckoutCompleted:
		return r.onCheckoutCompleted(ctx, ev)
	case SubscriptionCreated:
		return r.onSubscriptionCreated(ctx, ev.EventMeta, ev.Subscription)
	case SubscriptionUpdated:
		return r.onSubscriptionUpdated(ctx, ev)
	case SubscriptionDeleted:
		return r.onSubscriptionDeleted(ctx, ev)
	case InvoicePaymentFailed:
		return r.onPaymentFailed(ctx, ev.EventMeta, ev.PaymentDetails)
	case PaymentIntentFailed:
		details := ev.PaymentDetails
		if details.SubscriptionID == "" && details.InvoiceID != "" {
			details.SubscriptionID = r.invoiceSubscription(ctx, ev.Provider, details.InvoiceID)
		}
		return r.onPaymentFailed(ctx, ev.EventMeta, details)
	case OrderCompleted:
		return r.onOrderCompleted(ctx, ev)
	case UnhandledEvent:
		return nil
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
}

// onCheckoutCompleted finishes a plan change: the row moves to the new
// subscription and the replaced one stops renewing at the provider.
func (r *Reconciler) onCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) error {
	replaced := ev.Metadata[MetaReplacesSubscriptionID]
	if replaced == "" || ev.SubscriptionID == "" || replaced == ev.SubscriptionID {
		// Creation is handled by the subscription-created event.
		return nil
	}

	sub, err := r.store.FindByExternalSubscriptionID(ctx, replaced)
	switch {
	case err == nil:
		sub.ExternalSubscriptionID = ev.SubscriptionID
		sub.UpdatedAt = r.now().UTC()
		if err := r.upsert(ctx, sub); err != nil && !errors.Is(err, errSkipped) {
			return err
		}
	case errors.Is(err, ErrSubscriptionNotFound):
		// The created event for the new subscription may have landed first.
		r.logger.InfoContext(ctx, "replaced subscription not stored",
			logger.SubscriptionID(replaced),
			logger.EventID(ev.ID),
		)
	default:
		return errors.Join(ErrPersistence, err)
	}

	return r.retire(ctx, ev.Provider, replaced)
}

// retire schedules the replaced subscription to end so it neither renews nor
// bills alongside its successor.
func (r *Reconciler) retire(ctx context.Context, provider ProviderName, subscriptionID string) error {
	toggler, ok := r.providers[provider].(CancellationToggler)
	if !ok {
		r.logger.WarnContext(ctx, "replaced subscription left running, provider cannot cancel",
			logger.Provider(string(provider)),
			logger.SubscriptionID(subscriptionID),
		)
		return nil
	}
	err := toggler.SetCancelAtPeriodEnd(ctx, subscriptionID, true)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "replaced subscription scheduled to end", logger.SubscriptionID(subscriptionID))
		return nil
	case errors.Is(err, ErrExternalSubscriptionNotFound):
		return nil
	default:
		return fmt.Errorf("cancel replaced subscription %s: %w", subscriptionID, err)
	}
}

func (r *Reconciler) onSubscriptionCreated(ctx context.Context, meta EventMeta, remote RemoteSubscription) error {
	userID, err := r.subscriber(ctx, meta, EventCreated, remote.Metadata, remote)
	if err != nil {
		return err
	}

	tier := r.resolver.Resolve(ctx, remote.PriceID)
	oldTier := TierFree
	existing, err := r.store.Find(ctx, userID)
	switch {
	case err == nil:
		oldTier = existing.Tier
	case !errors.Is(err, ErrSubscriptionNotFound):
		return errors.Join(ErrPersistence, err)
	}

	sub := r.fromRemote(userID, meta.Provider, remote, tier, existing)
	if err := r.upsert(ctx, sub); err != nil {
		return err
	}
	r.observeTransition(ctx, existing, sub)

	r.appendEvent(ctx, Event{
		UserID:          userID,
		Type:            EventCreated,
		OldTier:         oldTier,
		NewTier:         tier,
		ProviderEventID: meta.ID,
		Metadata: map[string]any{
			"subscription_id": remote.ID,
			"price_id":        remote.PriceID,
			"provider":        string(meta.Provider),
		},
	})
	return nil
}

func (r *Reconciler) onSubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated) error {
	remote := ev.Subscription
	userID, err := r.subscriber(ctx, ev.EventMeta, EventUpdated, remote.Metadata, remote)
	if err != nil {
		return err
	}

	existing, err := r.store.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			r.logger.InfoContext(ctx, "update for unknown subscription, treating as creation",
				logger.UserID(userID),
				logger.SubscriptionID(remote.ID),
			)
			return r.onSubscriptionCreated(ctx, ev.EventMeta, remote)
		}
		return errors.Join(ErrPersistence, err)
	}

	if superseded(existing, remote.ID, r.now()) {
		// A plan change moved the user to another subscription; the old one
		// keeps reporting renewals and cancellation until it ends.
		r.logger.InfoContext(ctx, "update of superseded subscription ignored",
			logger.UserID(userID),
			logger.SubscriptionID(remote.ID),
		)
		return nil
	}

	newTier := r.resolver.Resolve(ctx, remote.PriceID)
	sub := r.fromRemote(userID, ev.Provider, remote, newTier, existing)
	if err := r.upsert(ctx, sub); err != nil {
		return err
	}
	r.observeTransition(ctx, existing, sub)

	// Classification reads the row as it was before this write; reordered
	// deliveries can mislabel the direction without affecting the stored tier.
	metadata := map[string]any{
		"subscription_id": remote.ID,
		"price_id":        remote.PriceID,
		"provider":        string(ev.Provider),
	}
	if kind, changed := ClassifyTierChange(existing.Tier, newTier); changed {
		r.appendEvent(ctx, Event{
			UserID:          userID,
			Type:            kind,
			OldTier:         existing.Tier,
			NewTier:         newTier,
			ProviderEventID: ev.ID,
			Metadata:        metadata,
		})
	}

	wasCanceling := existing.CancelAtPeriodEnd
	if ev.PreviousCancelAtPeriodEnd != nil {
		wasCanceling = *ev.PreviousCancelAtPeriodEnd
	}
	switch {
	case !wasCanceling && remote.CancelAtPeriodEnd:
		metadata["cancel_at"] = remote.CurrentPeriodEnd
		r.appendEvent(ctx, Event{
			UserID:          userID,
			Type:            EventCancelScheduled,
			OldTier:         newTier,
			NewTier:         newTier,
			ProviderEventID: ev.ID,
			Metadata:        metadata,
		})
	case wasCanceling && !remote.CancelAtPeriodEnd:
		r.appendEvent(ctx, Event{
			UserID:          userID,
			Type:            EventReactivated,
			OldTier:         newTier,
			NewTier:         newTier,
			ProviderEventID: ev.ID,
			Metadata:        metadata,
		})
	}
	return nil
}

func (r *Reconciler) onSubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) error {
	remote := ev.Subscription
	userID, err := r.subscriber(ctx, ev.EventMeta, EventCanceled, remote.Metadata, remote)
	if err != nil {
		return err
	}

	oldTier := TierFree
	existing, err := r.store.Find(ctx, userID)
	switch {
	case err == nil:
		oldTier = existing.Tier
		if existing.IsManuallyCreated {
			r.logger.WarnContext(ctx, "deletion skipped for manually managed subscription",
				logger.UserID(userID),
				logger.SubscriptionID(remote.ID),
			)
			return nil
		}
		if existing.ExternalSubscriptionID != "" && existing.ExternalSubscriptionID != remote.ID {
			// The user already moved to another subscription.
			r.logger.InfoContext(ctx, "deletion of superseded subscription ignored",
				logger.UserID(userID),
				logger.SubscriptionID(remote.ID),
			)
			return nil
		}
	case !errors.Is(err, ErrSubscriptionNotFound):
		return errors.Join(ErrPersistence, err)
	}

	now := r.now().UTC()
	write := FallbackWrite{
		Name: "subscription_deleted",
		Primary: func(ctx context.Context) error {
			return r.store.Delete(ctx, userID, WriteIntent{})
		},
		Fallback: func(ctx context.Context) error {
			free := DefaultSubscription(userID)
			free.Status = StatusCanceled
			free.EndedAt = timePtr(now)
			free.UpdatedAt = now
			if existing != nil {
				free.CreatedAt = existing.CreatedAt
			}
			return r.store.Upsert(ctx, free, WriteIntent{})
		},
		ShouldFallback: unlessManualConflict,
	}
	usedFallback, err := write.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrManualOverrideConflict) {
			r.logger.WarnContext(ctx, "deletion rejected by manual override", logger.UserID(userID))
			return nil
		}
		return errors.Join(ErrPersistence, err)
	}
	if usedFallback {
		r.logger.WarnContext(ctx, "subscription delete failed, row reset to free tier", logger.UserID(userID))
	}
	r.observeTransition(ctx, existing, nil)

	r.appendEvent(ctx, Event{
		UserID:          userID,
		Type:            EventCanceled,
		OldTier:         oldTier,
		NewTier:         TierFree,
		ProviderEventID: ev.ID,
		Metadata: map[string]any{
			"subscription_id": remote.ID,
			"provider":        string(ev.Provider),
			"fallback":        usedFallback,
		},
	})
	return nil
}

func (r *Reconciler) onOrderCompleted(ctx context.Context, ev OrderCompleted) error {
	userID, err := r.subscriber(ctx, ev.EventMeta, EventCreated, ev.Metadata, RemoteSubscription{
		ID:         ev.OrderID,
		CustomerID: ev.CustomerID,
		PriceID:    ev.PriceID,
	})
	if err != nil {
		return err
	}

	plan, interval, err := r.resolver.Lookup(ctx, ev.PriceID)
	tier := TierFree
	if err != nil {
		r.logger.WarnContext(ctx, "resolver miss for order, falling back to free tier",
			logger.PriceID(ev.PriceID),
			logger.Error(err),
		)
		if v := BillingInterval(ev.Metadata[MetaInterval]); v.Valid() {
			interval = v
		} else {
			interval = IntervalMonth
		}
	} else {
		tier = plan.Tier
	}

	billedAt := ev.BilledAt
	if billedAt.IsZero() {
		billedAt = r.now().UTC()
	}
	remote := RemoteSubscription{
		ID:                 ev.OrderID,
		CustomerID:         ev.CustomerID,
		Status:             StatusActive,
		PriceID:            ev.PriceID,
		CurrentPeriodStart: timePtr(billedAt),
		CurrentPeriodEnd:   timePtr(interval.AddTo(billedAt)),
	}

	oldTier := TierFree
	existing, err := r.store.Find(ctx, userID)
	switch {
	case err == nil:
		oldTier = existing.Tier
	case !errors.Is(err, ErrSubscriptionNotFound):
		return errors.Join(ErrPersistence, err)
	}

	sub := r.fromRemote(userID, ev.Provider, remote, tier, existing)
	if err := r.upsert(ctx, sub); err != nil {
		return err
	}
	r.observeTransition(ctx, existing, sub)

	kind := EventCreated
	if existing != nil && !existing.IsFree() {
		if k, changed := ClassifyTierChange(oldTier, tier); changed {
			kind = k
		} else {
			kind = EventUpdated
		}
	}
	r.appendEvent(ctx, Event{
		UserID:          userID,
		Type:            kind,
		OldTier:         oldTier,
		NewTier:         tier,
		ProviderEventID: ev.ID,
		Metadata: map[string]any{
			"order_id": ev.OrderID,
			"price_id": ev.PriceID,
			"provider": string(ev.Provider),
		},
	})
	return nil
}

func (r *Reconciler) onPaymentFailed(ctx context.Context, meta EventMeta, d PaymentDetails) error {
	userID := r.failureUser(ctx, meta.Provider, d)

	metadata := map[string]any{
		"event_id":      meta.ID,
		"event_type":    meta.Type,
		"attempt_count": d.AttemptCount,
		"resolved_user": userID != UnknownUserID,
	}
	if d.CustomerID != "" {
		metadata["customer_id"] = d.CustomerID
	}
	if d.InvoiceID != "" {
		metadata["invoice_id"] = d.InvoiceID
	}
	if d.NextPaymentAttempt != nil {
		metadata["next_payment_attempt"] = d.NextPaymentAttempt.UTC().Format(time.RFC3339)
	}

	failure := PaymentFailure{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProviderEventID: meta.ID,
		Provider:        meta.Provider,
		SubscriptionID:  d.SubscriptionID,
		PaymentIntentID: d.PaymentIntentID,
		InvoiceID:       d.InvoiceID,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Reason:          d.Reason,
		Metadata:        metadata,
		CreatedAt:       r.now().UTC(),
	}
	switch err := r.failures.Record(ctx, failure); {
	case errors.Is(err, ErrDuplicateDelivery):
		r.logger.DebugContext(ctx, "payment failure already recorded", logger.EventID(meta.ID))
		return nil
	case err != nil:
		r.logger.WarnContext(ctx, "payment failure not recorded",
			logger.UserID(userID),
			logger.EventID(meta.ID),
			logger.Error(err),
		)
	}

	if userID != UnknownUserID {
		r.notifyPaymentFailed(ctx, userID, failure)
	}
	return nil
}

// subscriber resolves the acting user of a lifecycle event. An event nobody can
// be resolved for is journaled under UnknownUserID before ErrResolutionMiss is
// returned, so the delivery stays on record until a redelivery resolves it.
func (r *Reconciler) subscriber(ctx context.Context, meta EventMeta, intended EventType, md map[string]string, remote RemoteSubscription) (string, error) {
	userID, err := r.actingUser(ctx, meta.Provider, md, remote.CustomerID)
	if !errors.Is(err, ErrResolutionMiss) {
		return userID, err
	}

	var tier Tier
	if remote.PriceID != "" {
		tier = r.resolver.Resolve(ctx, remote.PriceID)
	}
	r.appendEvent(ctx, Event{
		UserID:          UnknownUserID,
		Type:            EventUnresolved,
		NewTier:         tier,
		ProviderEventID: meta.ID,
		Metadata: map[string]any{
			"intended_type":   string(intended),
			"event_type":      meta.Type,
			"provider":        string(meta.Provider),
			"subscription_id": remote.ID,
			"customer_id":     remote.CustomerID,
			"price_id":        remote.PriceID,
		},
	})
	return "", err
}

// actingUser resolves the user an event belongs to: explicit metadata first,
// then the provider customer's metadata, then a pending account from checkout.
func (r *Reconciler) actingUser(ctx context.Context, provider ProviderName, md map[string]string, customerID string) (string, error) {
	if uid := metadataUserID(md); uid != "" {
		return uid, nil
	}
	if uid := r.customerUser(ctx, provider, customerID); uid != "" {
		return uid, nil
	}

	if pending, ok := PendingAccountFromMetadata(md); ok && r.provisioner != nil {
		account, created, err := r.provisioner.Provision(ctx, pending)
		if err != nil {
			return "", fmt.Errorf("provision pending account: %w", err)
		}
		if created && customerID != "" {
			r.linkCustomer(ctx, provider, customerID, account.ID)
		}
		return account.ID, nil
	}

	r.logger.WarnContext(ctx, "acting user unresolved",
		logger.Provider(string(provider)),
		logger.CustomerID(customerID),
	)
	return "", ErrResolutionMiss
}

// failureUser resolves best-effort and never fails: payment failures are
// recorded even when the purchaser is unknown.
func (r *Reconciler) failureUser(ctx context.Context, provider ProviderName, d PaymentDetails) string {
	if uid := metadataUserID(d.Metadata); uid != "" {
		return uid
	}
	if uid := r.customerUser(ctx, provider, d.CustomerID); uid != "" {
		return uid
	}
	if d.SubscriptionID != "" {
		if sub, err := r.store.FindByExternalSubscriptionID(ctx, d.SubscriptionID); err == nil {
			return sub.UserID
		}
	}
	if d.CustomerID != "" {
		if sub, err := r.store.FindByExternalCustomerID(ctx, d.CustomerID); err == nil {
			return sub.UserID
		}
	}
	r.logger.WarnContext(ctx, "payment failure recorded for unknown user",
		logger.CustomerID(d.CustomerID),
		logger.SubscriptionID(d.SubscriptionID),
	)
	return UnknownUserID
}

func (r *Reconciler) customerUser(ctx context.Context, provider ProviderName, customerID string) string {
	if customerID == "" {
		return ""
	}
	resolver, ok := r.providers[provider].(CustomerResolver)
	if !ok {
		return ""
	}
	uid, err := resolver.CustomerUserID(ctx, customerID)
	if err != nil {
		r.logger.WarnContext(ctx, "customer lookup failed", logger.CustomerID(customerID), logger.Error(err))
		return ""
	}
	if uid == PendingIdentity {
		return ""
	}
	return uid
}

func (r *Reconciler) linkCustomer(ctx context.Context, provider ProviderName, customerID, userID string) {
	linker, ok := r.providers[provider].(CustomerLinker)
	if !ok {
		return
	}
	if err := linker.LinkCustomer(ctx, customerID, userID); err != nil {
		r.logger.WarnContext(ctx, "customer link failed",
			logger.CustomerID(customerID),
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

func (r *Reconciler) invoiceSubscription(ctx context.Context, provider ProviderName, invoiceID string) string {
	resolver, ok := r.providers[provider].(InvoiceResolver)
	if !ok {
		return ""
	}
	subID, err := resolver.InvoiceSubscriptionID(ctx, invoiceID)
	if err != nil {
		r.logger.WarnContext(ctx, "invoice lookup failed", slog.String("invoice_id", invoiceID), logger.Error(err))
		return ""
	}
	return subID
}

func (r *Reconciler) notifyPaymentFailed(ctx context.Context, userID string, f PaymentFailure) {
	if r.notifier == nil || r.accounts == nil {
		return
	}
	account, err := r.accounts.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			r.logger.WarnContext(ctx, "account lookup for notification failed", logger.UserID(userID), logger.Error(err))
		}
		return
	}
	err = r.notifier.Notify(ctx, Notification{
		To:       account.Email,
		Template: TemplatePaymentFailed,
		Tag:      "billing",
		Data: map[string]any{
			"name":     account.DisplayName,
			"amount":   f.Amount,
			"currency": f.Currency,
			"reason":   f.Reason,
		},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "payment failure notification failed", logger.UserID(userID), logger.Error(err))
	}
}

// fromRemote builds the full replacement row for userID from the provider view.
func (r *Reconciler) fromRemote(userID string, provider ProviderName, remote RemoteSubscription, tier Tier, existing *Subscription) *Subscription {
	now := r.now().UTC()
	status := remote.Status
	if status == "" {
		status = StatusActive
	}
	sub := &Subscription{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 status,
		Provider:               provider,
		ExternalCustomerID:     remote.CustomerID,
		ExternalSubscriptionID: remote.ID,
		PriceID:                remote.PriceID,
		CurrentPeriodStart:     cloneTime(remote.CurrentPeriodStart),
		CurrentPeriodEnd:       cloneTime(remote.CurrentPeriodEnd),
		CancelAtPeriodEnd:      remote.CancelAtPeriodEnd,
		EndedAt:                cloneTime(remote.EndedAt),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		sub.CreatedAt = existing.CreatedAt
	}
	return sub
}

// upsert writes an automated row. Manual-override conflicts are logged and skipped.
func (r *Reconciler) upsert(ctx context.Context, sub *Subscription) error {
	err := r.store.Upsert(ctx, sub, WriteIntent{})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrManualOverrideConflict):
		r.logger.WarnContext(ctx, "automated write skipped for manually managed subscription",
			logger.UserID(sub.UserID),
			logger.SubscriptionID(sub.ExternalSubscriptionID),
		)
		return errSkipped
	default:
		return errors.Join(ErrPersistence, err)
	}
}

// appendEvent journals best-effort: failures are logged and never undo the store write.
func (r *Reconciler) appendEvent(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	if err := r.journal.Append(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "subscription event not journaled",
			logger.UserID(event.UserID),
			logger.EventType(string(event.Type)),
			logger.Error(err),
		)
	}
}

func (r *Reconciler) observeTransition(ctx context.Context, before, after *Subscription) {
	logTransition(ctx, r.logger, before, after, r.now())
}

// superseded reports whether the stored row moved on from subscriptionID to
// another subscription that is still live at now.
func superseded(existing *Subscription, subscriptionID string, now time.Time) bool {
	if existing == nil || existing.ExternalSubscriptionID == "" || existing.ExternalSubscriptionID == subscriptionID {
		return false
	}
	return !existing.IsCanceled() && !existing.Lapsed(now)
}

func metadataUserID(md map[string]string) string {
	uid := md[MetaUserID]
	if uid == PendingIdentity {
		return ""
	}
	return uid
}
