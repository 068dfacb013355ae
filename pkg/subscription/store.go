package subscription

import (
	"context"
	"errors"
)

// WriteIntent describes the provenance of a store write.
// Automated writes (webhooks, sweeps) use the zero value.
type WriteIntent struct {
	// AdminOverride allows the write to replace a manually created row.
	AdminOverride bool
}

// AdminWrite is the intent used by privileged admin actions.
var AdminWrite = WriteIntent{AdminOverride: true}

// Store persists subscriptions. UserID is the primary key.
//
// Upsert replaces the whole row. When the stored row is manually created and the
// intent carries no admin override, Upsert and Delete must return
// ErrManualOverrideConflict and leave the row untouched.
type Store interface {
	// Find returns the stored row or ErrSubscriptionNotFound.
	Find(ctx context.Context, userID string) (*Subscription, error)
	FindByExternalSubscriptionID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)
	FindByExternalCustomerID(ctx context.Context, externalCustomerID string) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription, intent WriteIntent) error
	Delete(ctx context.Context, userID string, intent WriteIntent) error
}

// Get returns the user's row, or a synthesized free-tier view when none is stored.
// It never returns a nil subscription without an error.
func Get(ctx context.Context, store Store, userID string) (*Subscription, error) {
	sub, err := store.Find(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		return DefaultSubscription(userID), nil
	}
	return nil, errors.Join(ErrPersistence, err)
}

// CheckOverride enforces the manual-override rule for an existing row.
// Store implementations call it before mutating a row.
func CheckOverride(existing *Subscription, intent WriteIntent) error {
	if existing != nil && existing.IsManuallyCreated && !intent.AdminOverride {
		return ErrManualOverrideConflict
	}
	return nil
}
