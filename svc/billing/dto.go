package billing

import (
	"time"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

type webhookRequest struct {
	Provider  subscription.ProviderName
	Signature string
	Payload   []byte
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	EventID  string `json:"event_id,omitempty"`
}

type pendingUser struct {
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	DisplayName string `json:"display_name" validate:"max=120"`
	Password    string `json:"password" validate:"max=72"`
}

type checkoutRequest struct {
	PriceID     string       `json:"price_id" validate:"max=255"`
	Interval    string       `json:"interval"`
	Identity    string       `json:"identity"`
	PendingUser *pendingUser `json:"pending_user,omitempty"`
	CustomerID  string       `json:"customer_id,omitempty" validate:"max=255"`
	Provider    string       `json:"provider,omitempty"`
	SuccessURL  string       `json:"success_url" validate:"omitempty,http_url,max=2048"`
	CancelURL   string       `json:"cancel_url" validate:"omitempty,http_url,max=2048"`
}

func (r checkoutRequest) toDomain() subscription.CheckoutRequest {
	req := subscription.CheckoutRequest{
		PriceID:    r.PriceID,
		Interval:   subscription.BillingInterval(r.Interval),
		Identity:   r.Identity,
		CustomerID: r.CustomerID,
		Provider:   subscription.ProviderName(r.Provider),
		SuccessURL: r.SuccessURL,
		CancelURL:  r.CancelURL,
	}
	if r.PendingUser != nil {
		req.PendingUser = &subscription.PendingUser{
			Email:       r.PendingUser.Email,
			DisplayName: r.PendingUser.DisplayName,
			Password:    r.PendingUser.Password,
		}
	}
	return req
}

type checkoutResponse struct {
	URL        string     `json:"url"`
	SessionID  string     `json:"session_id,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
	Provider   string     `json:"provider"`
	Tier       string     `json:"tier"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type userRequest struct {
	UserID string `path:"userID"`
}

type manageRequest struct {
	UserID    string `json:"-" path:"userID"`
	Action    string `json:"action"`
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,http_url,max=2048"`
}

type manageResponse struct {
	Action string        `json:"action"`
	URL    string        `json:"url,omitempty"`
	Sync   *syncResponse `json:"sync,omitempty"`
}

type overrideRequest struct {
	UserID    string     `json:"-" path:"userID"`
	ActorID   string     `json:"-" header:"X-Actor-ID"`
	Tier      string     `json:"tier"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
	Reason    string     `json:"reason,omitempty" validate:"max=500"`
}

type clearOverrideRequest struct {
	UserID  string `path:"userID"`
	ActorID string `header:"X-Actor-ID"`
	Reason  string `query:"reason"`
}

type subscriptionResponse struct {
	UserID                 string     `json:"user_id"`
	Tier                   string     `json:"tier"`
	EffectiveTier          string     `json:"effective_tier"`
	Status                 string     `json:"status"`
	State                  string     `json:"state"`
	Provider               string     `json:"provider,omitempty"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	PriceID                string     `json:"price_id,omitempty"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
	EndedAt                *time.Time `json:"ended_at,omitempty"`
	ManuallyManaged        bool       `json:"manually_managed"`
}

func newSubscriptionResponse(s *subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		UserID:                 s.UserID,
		Tier:                   string(s.Tier),
		EffectiveTier:          string(s.EffectiveTier()),
		Status:                 string(s.Status),
		State:                  string(subscription.StateOf(s)),
		Provider:               string(s.Provider),
		ExternalCustomerID:     s.ExternalCustomerID,
		ExternalSubscriptionID: s.ExternalSubscriptionID,
		PriceID:                s.PriceID,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		EndedAt:                s.EndedAt,
		ManuallyManaged:        s.IsManuallyCreated,
	}
}

type syncResponse struct {
	Outcome      string               `json:"outcome"`
	Changed      bool                 `json:"changed"`
	Subscription subscriptionResponse `json:"subscription"`
}

func newSyncResponse(r *subscription.SyncResult) syncResponse {
	resp := syncResponse{Outcome: string(r.Outcome), Changed: r.Changed}
	if r.Subscription != nil {
		resp.Subscription = newSubscriptionResponse(r.Subscription)
	}
	return resp
}
