package subscription

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

// CheckoutRequest describes a checkout to start.
type CheckoutRequest struct {
	PriceID  string
	Interval BillingInterval
	// Identity is an existing user id or PendingIdentity for a new customer.
	Identity string
	// PendingUser is required when Identity is PendingIdentity.
	PendingUser *PendingUser
	// CustomerID reuses a known provider customer.
	CustomerID string
	// Provider selects the billing provider; empty uses the default.
	Provider   ProviderName
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is the hosted checkout the caller should redirect to.
type CheckoutResult struct {
	URL                string
	SessionID          string
	ExternalCustomerID string
	Provider           ProviderName
	Tier               Tier
	ExpiresAt          time.Time
}

// Orchestrator creates hosted checkout sessions carrying enough metadata to
// identify the purchaser when the provider reports back.
type Orchestrator struct {
	providers       map[ProviderName]BillingProvider
	defaultProvider ProviderName
	resolver        *Resolver
	store           Store
	logger          *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCheckoutProvider registers a provider. The first one registered is the default.
func WithCheckoutProvider(p BillingProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		if p == nil {
			return
		}
		if o.defaultProvider == "" {
			o.defaultProvider = p.Name()
		}
		o.providers[p.Name()] = p
	}
}

// WithDefaultProvider overrides the provider used when a request names none.
func WithDefaultProvider(name ProviderName) OrchestratorOption {
	return func(o *Orchestrator) { o.defaultProvider = name }
}

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an Orchestrator.
// Panics if a required dependency is nil.
func NewOrchestrator(store Store, resolver *Resolver, opts ...OrchestratorOption) *Orchestrator {
	if store == nil {
		panic("subscription: Store is required")
	}
	if resolver == nil {
		panic("subscription: Resolver is required")
	}
	o := &Orchestrator{
		providers: make(map[ProviderName]BillingProvider),
		resolver:  resolver,
		store:     store,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(logger.Component("checkout"))
	return o
}

// CreateCheckout validates the request and opens a hosted checkout session.
// Provider failures are returned as errors; no URL is returned unless the
// provider produced one.
func (o *Orchestrator) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if !req.Interval.Valid() {
		return nil, ErrInvalidInterval
	}
	if req.Identity == "" {
		return nil, ErrInvalidIdentity
	}

	plan, interval, err := o.resolver.Lookup(ctx, req.PriceID)
	if err != nil {
		return nil, errors.Join(ErrPriceNotFound, err)
	}
	if interval != req.Interval {
		return nil, ErrInvalidInterval
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = o.defaultProvider
	}
	provider, ok := o.providers[providerName]
	if !ok {
		return nil, ErrPaymentNotConfigured
	}

	metadata := map[string]string{
		MetaUserID:   req.Identity,
		MetaInterval: string(interval),
		MetaTier:     string(plan.Tier),
	}
	sessionReq := CheckoutSessionRequest{
		PriceID:    req.PriceID,
		Interval:   interval,
		CustomerID: req.CustomerID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}

	if req.Identity == PendingIdentity {
		if req.PendingUser == nil {
			return nil, ErrMissingPendingUser
		}
		if err := req.PendingUser.Validate(); err != nil {
			return nil, err
		}
		pending, err := req.PendingUser.Seal()
		if err != nil {
			return nil, err
		}
		maps.Copy(metadata, pending.Metadata())
		sessionReq.Email = pending.Email
		sessionReq.Name = pending.DisplayName
	} else {
		sessionReq.UserID = req.Identity
		existing, err := o.store.Find(ctx, req.Identity)
		switch {
		case err == nil:
			if existing.Provider == providerName {
				if sessionReq.CustomerID == "" {
					sessionReq.CustomerID = existing.ExternalCustomerID
				}
				if existing.HasExternalSubscription() && !existing.IsCanceled() {
					metadata[MetaReplacesSubscriptionID] = existing.ExternalSubscriptionID
				}
			}
		case !errors.Is(err, ErrSubscriptionNotFound):
			return nil, errors.Join(ErrPersistence, err)
		}
	}
	sessionReq.Metadata = metadata

	log := o.logger.With(
		logger.Provider(string(providerName)),
		logger.PriceID(req.PriceID),
		logger.UserID(req.Identity),
	)

	session, err := provider.CreateCheckout(ctx, sessionReq)
	if err != nil {
		log.ErrorContext(ctx, "checkout session creation failed", logger.Error(err))
		if !errors.Is(err, ErrProviderError) {
			err = providerError(providerName, "create checkout", err)
		}
		return nil, err
	}
	if session == nil || session.URL == "" {
		log.ErrorContext(ctx, "provider returned no checkout URL")
		return nil, ErrNoCheckoutURL
	}

	log.InfoContext(ctx, "checkout session created",
		slog.String("session_id", session.SessionID),
		logger.CustomerID(session.CustomerID),
	)
	return &CheckoutResult{
		URL:                session.URL,
		SessionID:          session.SessionID,
		ExternalCustomerID: session.CustomerID,
		Provider:           providerName,
		Tier:               plan.Tier,
		ExpiresAt:          session.ExpiresAt,
	}, nil
}
