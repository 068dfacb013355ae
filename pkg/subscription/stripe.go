package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// StripeAPI is the subset of the Stripe API used by StripeProvider.
// Subscription and invoice reads return the raw JSON body so that period
// bounds can be decoded regardless of the account's API version.
type StripeAPI interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	GetCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	UpdateCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	GetSubscription(id string, params *stripe.SubscriptionParams) ([]byte, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) error
	GetInvoice(id string, params *stripe.InvoiceParams) ([]byte, error)
}

// StripeProvider implements BillingProvider and its optional capabilities for Stripe.
type StripeProvider struct {
	api           StripeAPI
	webhookSecret string
	logger        *slog.Logger
}

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithStripeAPI replaces the Stripe API client.
func WithStripeAPI(api StripeAPI) StripeOption {
	return func(p *StripeProvider) {
		if api != nil {
			p.api = api
		}
	}
}

func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(p *StripeProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewStripeProvider creates a Stripe billing provider.
// It sets the process-wide Stripe key used by the default API client.
func NewStripeProvider(cfg StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	stripe.Key = cfg.SecretKey

	p := &StripeProvider{
		api:           stripeClient{},
		webhookSecret: cfg.WebhookSecret,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Provider(string(ProviderStripe)))
	return p, nil
}

func (p *StripeProvider) Name() ProviderName { return ProviderStripe }

// CreateCheckout opens a subscription-mode Checkout Session. A customer is
// created up front when none is reused so that its metadata can identify the user.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	customerID := req.CustomerID
	if customerID == "" {
		params := &stripe.CustomerParams{
			Params:   stripe.Params{Context: ctx},
			Metadata: customerMetadata(req),
		}
		if req.Email != "" {
			params.Email = stripe.String(req.Email)
		}
		if req.Name != "" {
			params.Name = stripe.String(req.Name)
		}
		c, err := p.api.NewCustomer(params)
		if err != nil {
			return nil, providerError(ProviderStripe, "create customer", err)
		}
		customerID = c.ID
	}

	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   maps.Clone(req.Metadata),
		// Subscription events only carry the subscription's own metadata.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: maps.Clone(req.Metadata),
		},
	}
	if req.UserID != "" {
		params.ClientReferenceID = stripe.String(req.UserID)
	}

	sess, err := p.api.NewCheckoutSession(params)
	if err != nil {
		return nil, providerError(ProviderStripe, "create checkout session", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	out := &CheckoutSession{
		URL:        sess.URL,
		SessionID:  sess.ID,
		CustomerID: customerID,
	}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// PortalURL creates a Billing Portal session for the subscription's customer.
func (p *StripeProvider) PortalURL(ctx context.Context, sub *Subscription, returnURL string) (string, error) {
	if sub == nil || sub.ExternalCustomerID == "" {
		return "", ErrNoCustomer
	}
	params := &stripe.BillingPortalSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(sub.ExternalCustomerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	sess, err := p.api.NewPortalSession(params)
	if err != nil {
		return "", providerError(ProviderStripe, "create portal session", err)
	}
	if sess.URL == "" {
		return "", ErrNoPortalURL
	}
	return sess.URL, nil
}

// FetchSubscription reads the live subscription.
func (p *StripeProvider) FetchSubscription(ctx context.Context, id string) (*RemoteSubscription, error) {
	raw, err := p.api.GetSubscription(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrExternalSubscriptionNotFound
		}
		return nil, providerError(ProviderStripe, "get subscription", err)
	}
	var payload stripeSubscriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, providerError(ProviderStripe, "decode subscription", err)
	}
	remote := payload.remote()
	return &remote, nil
}

// SetCancelAtPeriodEnd toggles the subscription's cancel-at-period-end flag.
func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) error {
	err := p.api.UpdateSubscription(id, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(cancel),
	})
	if err != nil {
		if isStripeNotFound(err) {
			return ErrExternalSubscriptionNotFound
		}
		return providerError(ProviderStripe, "update subscription", err)
	}
	return nil
}

// CustomerUserID returns the user id stored in the customer's metadata.
func (p *StripeProvider) CustomerUserID(ctx context.Context, customerID string) (string, error) {
	c, err := p.api.GetCustomer(customerID, &stripe.CustomerParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return "", providerError(ProviderStripe, "get customer", err)
	}
	return c.Metadata[MetaUserID], nil
}

// LinkCustomer stores userID in the customer's metadata.
func (p *StripeProvider) LinkCustomer(ctx context.Context, customerID, userID string) error {
	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	params.AddMetadata(MetaUserID, userID)
	if _, err := p.api.UpdateCustomer(customerID, params); err != nil {
		return providerError(ProviderStripe, "update customer", err)
	}
	return nil
}

// InvoiceSubscriptionID returns the subscription an invoice was issued for.
func (p *StripeProvider) InvoiceSubscriptionID(ctx context.Context, invoiceID string) (string, error) {
	raw, err := p.api.GetInvoice(invoiceID, &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return "", providerError(ProviderStripe, "get invoice", err)
	}
	var payload stripeInvoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", providerError(ProviderStripe, "decode invoice", err)
	}
	return payload.subscriptionID(), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (ProviderEvent, error) {
	if signature == "" {
		return nil, errors.Join(ErrAuthenticityFailure, ErrWebhookVerificationFailed)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrAuthenticityFailure, ErrWebhookVerificationFailed, err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (ProviderEvent, error) {
	meta := EventMeta{
		ID:         event.ID,
		Provider:   ProviderStripe,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing data object", ErrInvalidWebhookPayload)
	}
	raw := event.Data.Raw

	switch meta.Type {
	case "checkout.session.completed":
		var cs stripeCheckoutPayload
		if err := decodeStripeObject(raw, &cs); err != nil {
			return nil, err
		}
		if cs.Mode != string(stripe.CheckoutSessionModeSubscription) {
			return UnhandledEvent{EventMeta: meta}, nil
		}
		return CheckoutCompleted{
			EventMeta:      meta,
			SessionID:      cs.ID,
			CustomerID:     cs.Customer.ID,
			SubscriptionID: cs.Subscription.ID,
			Metadata:       cs.Metadata,
		}, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscriptionPayload
		if err := decodeStripeObject(raw, &sub); err != nil {
			return nil, err
		}
		remote := sub.remote()
		switch meta.Type {
		case "customer.subscription.created":
			return SubscriptionCreated{EventMeta: meta, Subscription: remote}, nil
		case "customer.subscription.deleted":
			return SubscriptionDeleted{EventMeta: meta, Subscription: remote}, nil
		}
		updated := SubscriptionUpdated{EventMeta: meta, Subscription: remote}
		if prev, ok := event.Data.PreviousAttributes["cancel_at_period_end"].(bool); ok {
			updated.PreviousCancelAtPeriodEnd = &prev
		}
		return updated, nil

	case "invoice.payment_failed":
		var inv stripeInvoicePayload
		if err := decodeStripeObject(raw, &inv); err != nil {
			return nil, err
		}
		return InvoicePaymentFailed{EventMeta: meta, PaymentDetails: inv.details()}, nil

	case "payment_intent.payment_failed":
		var pi stripePaymentIntentPayload
		if err := decodeStripeObject(raw, &pi); err != nil {
			return nil, err
		}
		return PaymentIntentFailed{EventMeta: meta, PaymentDetails: pi.details()}, nil
	}

	return UnhandledEvent{EventMeta: meta}, nil
}

func decodeStripeObject(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWebhookPayload, err)
	}
	return nil
}

func customerMetadata(req CheckoutSessionRequest) map[string]string {
	if req.UserID != "" {
		return map[string]string{MetaUserID: req.UserID}
	}
	// Linked to the provisioned account once the first event arrives.
	return map[string]string{MetaUserID: PendingIdentity, MetaPendingEmail: req.Email}
}

func isStripeNotFound(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound
}

// stripeRef decodes a field that is either an object id or an expanded object.
type stripeRef struct {
	ID       string
	Metadata map[string]string
}

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID, r.Metadata = obj.ID, obj.Metadata
	return nil
}

type stripeCheckoutPayload struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     stripeRef         `json:"customer"`
	Subscription stripeRef         `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	EndedAt            int64             `json:"ended_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// remote converts the payload. Period bounds live on the subscription item in
// recent API versions and on the subscription itself in older ones.
func (s stripeSubscriptionPayload) remote() RemoteSubscription {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	var priceID string
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		priceID = item.Price.ID
		if item.CurrentPeriodStart > 0 {
			start = item.CurrentPeriodStart
		}
		if item.CurrentPeriodEnd > 0 {
			end = item.CurrentPeriodEnd
		}
	}
	metadata := s.Metadata
	if metadata[MetaUserID] == "" && s.Customer.Metadata[MetaUserID] != "" {
		metadata = maps.Clone(metadata)
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata[MetaUserID] = s.Customer.Metadata[MetaUserID]
	}
	return RemoteSubscription{
		ID:                 s.ID,
		CustomerID:         s.Customer.ID,
		Status:             stripeStatus(s.Status),
		PriceID:            priceID,
		CurrentPeriodStart: unixPtr(start),
		CurrentPeriodEnd:   unixPtr(end),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		EndedAt:            unixPtr(s.EndedAt),
		Metadata:           metadata,
	}
}

type stripeInvoicePayload struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Subscription       stripeRef         `json:"subscription"`
	AmountDue          int64             `json:"amount_due"`
	Currency           string            `json:"currency"`
	AttemptCount       int64             `json:"attempt_count"`
	NextPaymentAttempt int64             `json:"next_payment_attempt"`
	BillingReason      string            `json:"billing_reason"`
	Metadata           map[string]string `json:"metadata"`
	Parent             struct {
		SubscriptionDetails struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	LastFinalizationError struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

func (inv stripeInvoicePayload) subscriptionID() string {
	if id := inv.Parent.SubscriptionDetails.Subscription.ID; id != "" {
		return id
	}
	return inv.Subscription.ID
}

func (inv stripeInvoicePayload) details() PaymentDetails {
	md := make(map[string]string)
	maps.Copy(md, inv.Parent.SubscriptionDetails.Metadata)
	maps.Copy(md, inv.Metadata)

	reason := inv.LastFinalizationError.Message
	if reason == "" {
		reason = "invoice payment failed"
		if inv.BillingReason != "" {
			reason += ": " + inv.BillingReason
		}
	}
	return PaymentDetails{
		InvoiceID:          inv.ID,
		SubscriptionID:     inv.subscriptionID(),
		CustomerID:         inv.Customer.ID,
		Amount:             inv.AmountDue,
		Currency:           inv.Currency,
		Reason:             reason,
		AttemptCount:       inv.AttemptCount,
		NextPaymentAttempt: unixPtr(inv.NextPaymentAttempt),
		Metadata:           md,
	}
}

type stripePaymentIntentPayload struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Invoice          stripeRef         `json:"invoice"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_payment_error"`
}

func (pi stripePaymentIntentPayload) details() PaymentDetails {
	reason := pi.LastPaymentError.Message
	if reason == "" {
		reason = pi.LastPaymentError.DeclineCode
	}
	if reason == "" {
		reason = "payment intent failed"
	}
	return PaymentDetails{
		InvoiceID:       pi.Invoice.ID,
		PaymentIntentID: pi.ID,
		CustomerID:      pi.Customer.ID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		Reason:          reason,
		Metadata:        pi.Metadata,
	}
}

func stripeStatus(s string) Status {
	switch stripe.SubscriptionStatus(s) {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return StatusUnpaid
	case stripe.SubscriptionStatusIncomplete:
		return StatusIncomplete
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled
	default:
		return StatusActive
	}
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	return timePtr(time.Unix(sec, 0).UTC())
}

// stripeClient calls the Stripe API through the package-level resource clients.
type stripeClient struct{}

func (stripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.New(params)
}

func (stripeClient) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return portalsession.New(params)
}

func (stripeClient) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.New(params)
}

func (stripeClient) GetCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.Get(id, params)
}

func (stripeClient) UpdateCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.Update(id, params)
}

func (stripeClient) GetSubscription(id string, params *stripe.SubscriptionParams) ([]byte, error) {
	sub, err := stripesub.Get(id, params)
	if err != nil {
		return nil, err
	}
	if sub.LastResponse == nil {
		return json.Marshal(sub)
	}
	return sub.LastResponse.RawJSON, nil
}

func (stripeClient) UpdateSubscription(id string, params *stripe.SubscriptionParams) error {
	_, err := stripesub.Update(id, params)
	return err
}

func (stripeClient) GetInvoice(id string, params *stripe.InvoiceParams) ([]byte, error) {
	inv, err := invoice.Get(id, params)
	if err != nil {
		return nil, err
	}
	if inv.LastResponse == nil {
		return json.Marshal(inv)
	}
	return inv.LastResponse.RawJSON, nil
}
