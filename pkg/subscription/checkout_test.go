package subscription_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

func newOrchestrator(store subscription.Store, p subscription.BillingProvider) *subscription.Orchestrator {
	return subscription.NewOrchestrator(store, newResolver(), subscription.WithCheckoutProvider(p))
}

func stripeMock() *mockProvider {
	p := &mockProvider{}
	p.On("Name").Return(string(subscription.ProviderStripe))
	return p
}

func TestOrchestrator_CreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("existing user reuses stored customer", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		seedStripeRow(t, store, "U1", "sub_1")
		p := stripeMock()
		p.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutSessionRequest) bool {
			return req.CustomerID == "cus_1" &&
				req.UserID == "U1" &&
				req.Metadata[subscription.MetaUserID] == "U1" &&
				req.Metadata[subscription.MetaTier] == "premium" &&
				req.Metadata[subscription.MetaReplacesSubscriptionID] == "sub_1"
		})).Return(&subscription.CheckoutSession{URL: "https://checkout.example/cs_1", SessionID: "cs_1", CustomerID: "cus_1"}, nil)

		res, err := newOrchestrator(store, p).CreateCheckout(context.Background(), subscription.CheckoutRequest{
			PriceID:    "price_premium_month",
			Interval:   subscription.IntervalMonth,
			Identity:   "U1",
			SuccessURL: "https://app.example/success",
			CancelURL:  "https://app.example/cancel",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.example/cs_1", res.URL)
		assert.Equal(t, "cs_1", res.SessionID)
		assert.Equal(t, "cus_1", res.ExternalCustomerID)
		assert.Equal(t, subscription.TierPremium, res.Tier)
		p.AssertExpectations(t)
	})

	t.Run("pending identity carries sealed account details", func(t *testing.T) {
		t.Parallel()
		p := stripeMock()
		var captured subscription.CheckoutSessionRequest
		p.On("CreateCheckout", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(subscription.CheckoutSessionRequest) }).
			Return(&subscription.CheckoutSession{URL: "https://checkout.example/cs_2", SessionID: "cs_2", CustomerID: "cus_2"}, nil)

		_, err := newOrchestrator(subscription.NewMemoryStore(), p).CreateCheckout(context.Background(), subscription.CheckoutRequest{
			PriceID:  "price_pro_year",
			Interval: subscription.IntervalYear,
			Identity: subscription.PendingIdentity,
			PendingUser: &subscription.PendingUser{
				Email:       "buyer@example.com",
				DisplayName: "Buyer",
				Password:    "s3cret-pass",
			},
		})
		require.NoError(t, err)

		assert.Empty(t, captured.UserID)
		assert.Equal(t, "buyer@example.com", captured.Email)
		assert.Equal(t, subscription.PendingIdentity, captured.Metadata[subscription.MetaUserID])
		assert.Equal(t, "buyer@example.com", captured.Metadata[subscription.MetaPendingEmail])
		hash := captured.Metadata[subscription.MetaPendingPasswordHash]
		assert.NotEmpty(t, hash)
		assert.NotContains(t, hash, "s3cret-pass")
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		o := newOrchestrator(subscription.NewMemoryStore(), stripeMock())
		ctx := context.Background()

		tests := []struct {
			name string
			req  subscription.CheckoutRequest
			err  error
		}{
			{"missing price", subscription.CheckoutRequest{Interval: subscription.IntervalMonth, Identity: "U1"}, subscription.ErrMissingPriceID},
			{"bad interval", subscription.CheckoutRequest{PriceID: "price_pro_month", Interval: "week", Identity: "U1"}, subscription.ErrInvalidInterval},
			{"interval mismatch", subscription.CheckoutRequest{PriceID: "price_pro_month", Interval: subscription.IntervalYear, Identity: "U1"}, subscription.ErrInvalidInterval},
			{"missing identity", subscription.CheckoutRequest{PriceID: "price_pro_month", Interval: subscription.IntervalMonth}, subscription.ErrInvalidIdentity},
			{"unknown price", subscription.CheckoutRequest{PriceID: "price_nope", Interval: subscription.IntervalMonth, Identity: "U1"}, subscription.ErrPriceNotFound},
			{"pending without details", subscription.CheckoutRequest{PriceID: "price_pro_month", Interval: subscription.IntervalMonth, Identity: subscription.PendingIdentity}, subscription.ErrMissingPendingUser},
			{"pending with short password", subscription.CheckoutRequest{
				PriceID: "price_pro_month", Interval: subscription.IntervalMonth, Identity: subscription.PendingIdentity,
				PendingUser: &subscription.PendingUser{Email: "a@example.com", Password: "short"},
			}, subscription.ErrInvalidAccount},
			{"unconfigured provider", subscription.CheckoutRequest{PriceID: "price_pro_month", Interval: subscription.IntervalMonth, Identity: "U1", Provider: subscription.ProviderPaddle}, subscription.ErrPaymentNotConfigured},
		}
		for _, tt := range tests {
			_, err := o.CreateCheckout(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err, tt.name)
		}
	})

	t.Run("provider failure is surfaced", func(t *testing.T) {
		t.Parallel()
		p := stripeMock()
		p.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		res, err := newOrchestrator(subscription.NewMemoryStore(), p).CreateCheckout(context.Background(), subscription.CheckoutRequest{
			PriceID:  "price_pro_month",
			Interval: subscription.IntervalMonth,
			Identity: "U1",
		})
		require.ErrorIs(t, err, subscription.ErrProviderError)
		assert.Nil(t, res)
	})

	t.Run("empty checkout URL is a failure", func(t *testing.T) {
		t.Parallel()
		p := stripeMock()
		p.On("CreateCheckout", mock.Anything, mock.Anything).Return(&subscription.CheckoutSession{SessionID: "cs_3"}, nil)

		_, err := newOrchestrator(subscription.NewMemoryStore(), p).CreateCheckout(context.Background(), subscription.CheckoutRequest{
			PriceID:  "price_pro_month",
			Interval: subscription.IntervalMonth,
			Identity: "U1",
		})
		require.ErrorIs(t, err, subscription.ErrNoCheckoutURL)
	})
}
