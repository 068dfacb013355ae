package subscription

import (
	"context"
	"time"
)

// PaymentFailure is an append-only record of a provider-reported payment failure.
// UserID is UnknownUserID when the failure could not be attributed.
// ProviderEventID identifies the delivery; a ledger records each one once.
type PaymentFailure struct {
	ID              string
	UserID          string
	ProviderEventID string
	Provider        ProviderName
	SubscriptionID  string
	PaymentIntentID string
	InvoiceID       string
	Amount          int64
	Currency        string
	Reason          string
	Resolved        bool
	Metadata        map[string]any
	CreatedAt       time.Time
}

// FailureLedger appends payment failures. Marking them resolved is done elsewhere.
type FailureLedger interface {
	// Record returns ErrDuplicateDelivery when a failure with the same
	// non-empty ProviderEventID is already stored.
	Record(ctx context.Context, failure PaymentFailure) error
	ListUnresolved(ctx context.Context, userID string) ([]PaymentFailure, error)
}
