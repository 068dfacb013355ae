package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/tiersync/handler"
	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

var (
	ErrInvalidBody  = errors.New("invalid request body")
	ErrMissingActor = errors.New("actor id header is required")
	ErrValidation   = errors.New("request validation failed")
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins, and ProviderError also matches the
// errors it wraps.
var errorMappings = []errorMapping{
	{subscription.ErrAuthenticityFailure, http.StatusBadRequest, "invalid_signature"},
	{subscription.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},
	{ErrInvalidBody, http.StatusBadRequest, "invalid_body"},
	{ErrValidation, http.StatusBadRequest, "validation_failed"},
	{ErrMissingActor, http.StatusUnauthorized, "missing_actor"},
	{subscription.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{subscription.ErrManualOverrideConflict, http.StatusConflict, "manually_managed"},
	{subscription.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{subscription.ErrMissingPriceID, http.StatusBadRequest, "missing_price_id"},
	{subscription.ErrPriceNotFound, http.StatusBadRequest, "price_not_found"},
	{subscription.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{subscription.ErrInvalidIdentity, http.StatusBadRequest, "invalid_identity"},
	{subscription.ErrMissingPendingUser, http.StatusBadRequest, "missing_pending_user"},
	{subscription.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{subscription.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{subscription.ErrInvalidTier, http.StatusBadRequest, "invalid_tier"},
	{subscription.ErrNoCustomer, http.StatusConflict, "no_customer"},
	{subscription.ErrNothingToSync, http.StatusConflict, "nothing_to_sync"},
	{subscription.ErrPaymentNotConfigured, http.StatusServiceUnavailable, "payment_not_configured"},
	{subscription.ErrProviderError, http.StatusBadGateway, "provider_error"},
	{subscription.ErrNoCheckoutURL, http.StatusBadGateway, "provider_error"},
	{subscription.ErrNoPortalURL, http.StatusBadGateway, "provider_error"},
	{subscription.ErrPersistence, http.StatusInternalServerError, "persistence_failed"},
}

// retryMessages replace internal error text for server-side failures.
var retryMessages = map[string]string{
	"provider_error":         "could not verify with the billing provider, try again",
	"persistence_failed":     "could not save subscription state, try again",
	"payment_not_configured": "payments are not configured for this provider",
}

func publicMessage(code string, status int) string {
	if msg, ok := retryMessages[code]; ok {
		return msg
	}
	return http.StatusText(status)
}

// mapError classifies engine errors for the shared error handler. Client
// errors keep their text; server errors get a public message.
func mapError(err error) (handler.HTTPError, bool) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := err.Error()
		if m.status >= http.StatusInternalServerError {
			msg = publicMessage(m.code, m.status)
		}
		return handler.HTTPError{Code: m.status, Key: m.code, Message: msg}, true
	}
	return handler.HTTPError{}, false
}
