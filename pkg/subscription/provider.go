package subscription

import (
	"context"
	"time"
)

// BillingProvider is the minimal contract every payment provider integration implements.
// Providers handle payment collection through hosted checkouts and portals.
//
// Optional capabilities (customer lookups, subscription fetches, cancellation
// toggles) are expressed as separate interfaces and discovered with type assertions.
type BillingProvider interface {
	Name() ProviderName

	// CreateCheckout creates a hosted checkout session.
	CreateCheckout(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// PortalURL returns a temporary link to the provider's self-service portal.
	PortalURL(ctx context.Context, sub *Subscription, returnURL string) (string, error)

	// ParseWebhook verifies the signature and decodes the payload into a typed event.
	// Unverifiable payloads return an error matching ErrAuthenticityFailure.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (ProviderEvent, error)
}

// SubscriptionFetcher reads live subscription state from the provider.
type SubscriptionFetcher interface {
	// FetchSubscription returns ErrExternalSubscriptionNotFound when the provider
	// no longer knows the subscription.
	FetchSubscription(ctx context.Context, externalSubscriptionID string) (*RemoteSubscription, error)
}

// CancellationToggler flips the provider-side cancel-at-period-end flag.
type CancellationToggler interface {
	SetCancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string, cancel bool) error
}

// CustomerResolver resolves a provider customer to the user id stored in its metadata.
type CustomerResolver interface {
	// CustomerUserID returns an empty string when the customer carries no user id.
	CustomerUserID(ctx context.Context, customerID string) (string, error)
}

// CustomerLinker stores the user id in the provider customer's metadata.
type CustomerLinker interface {
	LinkCustomer(ctx context.Context, customerID, userID string) error
}

// InvoiceResolver finds the subscription an invoice belongs to.
type InvoiceResolver interface {
	InvoiceSubscriptionID(ctx context.Context, invoiceID string) (string, error)
}

// CheckoutSessionRequest contains data needed to create a hosted checkout session.
type CheckoutSessionRequest struct {
	PriceID    string
	Interval   BillingInterval
	UserID     string // empty for pending checkouts
	CustomerID string // existing provider customer to reuse
	Email      string
	Name       string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	URL        string
	SessionID  string
	CustomerID string
	ExpiresAt  time.Time
}

// RemoteSubscription is the provider-side view of a subscription.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	Status             Status
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EndedAt            *time.Time
	Metadata           map[string]string
}
