package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound  = errors.New("subscription plan not found")
	ErrPriceNotFound = errors.New("price does not belong to a paid plan")
	ErrInvalidTier   = errors.New("invalid subscription tier")

	ErrSubscriptionNotFound         = errors.New("subscription not found")
	ErrExternalSubscriptionNotFound = errors.New("provider subscription no longer exists")
	ErrManualOverrideConflict       = errors.New("subscription is manually managed")
	ErrPersistence                  = errors.New("subscription persistence failed")
	ErrNothingToSync                = errors.New("subscription has no provider subscription to sync")

	ErrAuthenticityFailure       = errors.New("webhook authenticity check failed")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")
	ErrResolutionMiss            = errors.New("could not resolve acting user")
	ErrUnknownProvider           = errors.New("unknown billing provider")
	ErrDuplicateDelivery         = errors.New("provider event already recorded")

	ErrPaymentNotConfigured = errors.New("payment provider is not configured")
	ErrProviderError        = errors.New("subscription provider error")
	ErrInvalidInterval      = errors.New("billing interval must be month or year")
	ErrInvalidIdentity      = errors.New("checkout identity is required")
	ErrMissingPendingUser   = errors.New("pending checkout requires account details")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL          = errors.New("no portal URL returned from provider")
	ErrNoCustomer           = errors.New("subscription has no provider customer")

	ErrInvalidAction    = errors.New("invalid subscription action")
	ErrPermissionDenied = errors.New("permission denied")

	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAccount  = errors.New("invalid account details")

	// Provider configuration errors
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrMissingPriceID             = errors.New("price ID is required")
)

// ProviderError wraps a failed call to an external billing provider.
// It matches ErrProviderError with errors.Is.
type ProviderError struct {
	Provider ProviderName
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderError
}

func providerError(provider ProviderName, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
