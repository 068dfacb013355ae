package subscription

import "time"

// ProviderEvent is a webhook event decoded at the provider boundary.
// The concrete type determines which fields are guaranteed.
type ProviderEvent interface {
	Meta() EventMeta
}

// EventMeta carries the envelope shared by every provider event.
type EventMeta struct {
	ID         string
	Provider   ProviderName
	Type       string // provider's original event name
	OccurredAt time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// CheckoutCompleted is emitted when a hosted checkout finished in subscription mode.
type CheckoutCompleted struct {
	EventMeta
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// SubscriptionCreated is emitted when the provider created a recurring subscription.
type SubscriptionCreated struct {
	EventMeta
	Subscription RemoteSubscription
}

// SubscriptionUpdated is emitted on any change of a recurring subscription.
type SubscriptionUpdated struct {
	EventMeta
	Subscription RemoteSubscription
	// PreviousCancelAtPeriodEnd is set when the provider reported the old flag value.
	PreviousCancelAtPeriodEnd *bool
}

// SubscriptionDeleted is emitted when the provider hard-deleted a subscription.
type SubscriptionDeleted struct {
	EventMeta
	Subscription RemoteSubscription
}

// PaymentDetails describes a failed payment attempt.
type PaymentDetails struct {
	InvoiceID          string
	PaymentIntentID    string
	SubscriptionID     string
	CustomerID         string
	Amount             int64
	Currency           string
	Reason             string
	AttemptCount       int64
	NextPaymentAttempt *time.Time
	Metadata           map[string]string
}

// InvoicePaymentFailed is emitted when a recurring invoice could not be charged.
type InvoicePaymentFailed struct {
	EventMeta
	PaymentDetails
}

// PaymentIntentFailed is emitted when a single payment attempt failed.
// SubscriptionID is often absent and has to be resolved through the invoice.
type PaymentIntentFailed struct {
	EventMeta
	PaymentDetails
}

// OrderCompleted is emitted when a one-time order was paid.
type OrderCompleted struct {
	EventMeta
	OrderID    string
	CustomerID string
	PriceID    string
	BilledAt   time.Time
	Metadata   map[string]string
}

// UnhandledEvent is any provider event the reconciler does not act on.
type UnhandledEvent struct {
	EventMeta
}

// Metadata keys shared between checkout creation and webhook decoding.
const (
	MetaUserID                 = "user_id"
	MetaInterval               = "interval"
	MetaTier                   = "tier"
	MetaPendingEmail           = "pending_email"
	MetaPendingName            = "pending_name"
	MetaPendingPasswordHash    = "pending_password_hash"
	MetaReplacesSubscriptionID = "replaces_subscription_id"
)
