package subscription_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

const testPaddleSecret = "pdl_ntfset_secret"

type fakePaddleAPI struct {
	created *paddle.CreateTransactionRequest
	txn     *paddle.Transaction
	portal  *paddle.CustomerPortalSession
	err     error
}

func (f *fakePaddleAPI) CreateTransaction(_ context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error) {
	f.created = req
	return f.txn, f.err
}

func (f *fakePaddleAPI) GetTransaction(context.Context, *paddle.GetTransactionRequest) (*paddle.Transaction, error) {
	return f.txn, f.err
}

func (f *fakePaddleAPI) CreateCustomerPortalSession(context.Context, *paddle.CreateCustomerPortalSessionRequest) (*paddle.CustomerPortalSession, error) {
	return f.portal, f.err
}

func newPaddle(t *testing.T, api subscription.PaddleAPI) *subscription.PaddleProvider {
	t.Helper()
	p, err := subscription.NewPaddleProvider(subscription.PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: testPaddleSecret,
		Environment:   "sandbox",
	}, subscription.WithPaddleAPI(api))
	require.NoError(t, err)
	return p
}

func signPaddle(payload []byte) string {
	ts := fmt.Sprint(time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testPaddleSecret))
	mac.Write([]byte(ts + ":"))
	mac.Write(payload)
	return "ts=" + ts + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

func paddleEvent(t *testing.T, id, typ string, data map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":    id,
		"event_type":  typ,
		"occurred_at": t0.Format(time.RFC3339),
		"data":        data,
	})
	require.NoError(t, err)
	return body
}

func TestNewPaddleProvider(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewPaddleProvider(subscription.PaddleConfig{WebhookSecret: "s"})
	require.ErrorIs(t, err, subscription.ErrMissingAPIKey)

	_, err = subscription.NewPaddleProvider(subscription.PaddleConfig{APIKey: "k"})
	require.ErrorIs(t, err, subscription.ErrMissingWebhookSecret)

	_, err = subscription.NewPaddleProvider(subscription.PaddleConfig{APIKey: "k", WebhookSecret: "s", Environment: "staging"})
	require.ErrorIs(t, err, subscription.ErrInvalidProviderEnvironment)
}

func TestPaddleProvider_ParseWebhook(t *testing.T) {
	t.Parallel()
	p := newPaddle(t, &fakePaddleAPI{})
	ctx := context.Background()
	billedAt := t0.Add(time.Hour)

	t.Run("one-time order completed", func(t *testing.T) {
		t.Parallel()
		payload := paddleEvent(t, "evt_p1", "transaction.completed", map[string]any{
			"id":          "txn_1",
			"status":      "completed",
			"customer_id": "ctm_1",
			"billed_at":   billedAt.Format(time.RFC3339),
			"custom_data": map[string]any{"user_id": "U1", "interval": "year"},
			"items":       []map[string]any{{"price_id": "price_pro_year", "quantity": 1}},
		})

		ev, err := p.ParseWebhook(ctx, payload, signPaddle(payload))
		require.NoError(t, err)
		order, ok := ev.(subscription.OrderCompleted)
		require.True(t, ok)
		assert.Equal(t, "evt_p1", order.ID)
		assert.Equal(t, subscription.ProviderPaddle, order.Provider)
		assert.Equal(t, "txn_1", order.OrderID)
		assert.Equal(t, "ctm_1", order.CustomerID)
		assert.Equal(t, "price_pro_year", order.PriceID)
		assert.Equal(t, billedAt, order.BilledAt)
		assert.Equal(t, "U1", order.Metadata[subscription.MetaUserID])
		assert.Equal(t, "year", order.Metadata[subscription.MetaInterval])
	})

	t.Run("subscription transaction is unhandled", func(t *testing.T) {
		t.Parallel()
		payload := paddleEvent(t, "evt_p2", "transaction.completed", map[string]any{
			"id":              "txn_2",
			"subscription_id": "sub_paddle_1",
		})

		ev, err := p.ParseWebhook(ctx, payload, signPaddle(payload))
		require.NoError(t, err)
		assert.IsType(t, subscription.UnhandledEvent{}, ev)
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		payload := paddleEvent(t, "evt_p3", "transaction.payment_failed", map[string]any{
			"id":            "txn_3",
			"customer_id":   "ctm_1",
			"currency_code": "EUR",
			"custom_data":   map[string]any{"user_id": "U1"},
			"details":       map[string]any{"totals": map[string]any{"grand_total": "4900"}},
			"payments":      []map[string]any{{"status": "error", "error_code": "declined"}},
		})

		ev, err := p.ParseWebhook(ctx, payload, signPaddle(payload))
		require.NoError(t, err)
		failed, ok := ev.(subscription.PaymentIntentFailed)
		require.True(t, ok)
		assert.Equal(t, "txn_3", failed.PaymentIntentID)
		assert.Equal(t, int64(4900), failed.Amount)
		assert.Equal(t, "EUR", failed.Currency)
		assert.Equal(t, "declined", failed.Reason)
		assert.Equal(t, "U1", failed.Metadata[subscription.MetaUserID])
	})

	t.Run("other events are unhandled", func(t *testing.T) {
		t.Parallel()
		payload := paddleEvent(t, "evt_p4", "customer.created", map[string]any{"id": "ctm_1"})

		ev, err := p.ParseWebhook(ctx, payload, signPaddle(payload))
		require.NoError(t, err)
		assert.IsType(t, subscription.UnhandledEvent{}, ev)
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		payload := paddleEvent(t, "evt_p5", "transaction.completed", map[string]any{"id": "txn_5"})

		_, err := p.ParseWebhook(ctx, payload, "ts=1;h1=00")
		require.ErrorIs(t, err, subscription.ErrAuthenticityFailure)

		_, err = p.ParseWebhook(ctx, payload, "")
		require.ErrorIs(t, err, subscription.ErrAuthenticityFailure)
	})
}

func TestPaddleProvider_CreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("returns hosted checkout url", func(t *testing.T) {
		t.Parallel()
		api := &fakePaddleAPI{txn: &paddle.Transaction{
			ID:       "txn_1",
			Checkout: &paddle.TransactionCheckout{URL: paddle.PtrTo("https://pay.paddle.test/txn_1")},
		}}

		sess, err := newPaddle(t, api).CreateCheckout(context.Background(), subscription.CheckoutSessionRequest{
			PriceID:    "price_pro_year",
			CustomerID: "ctm_1",
			Metadata:   map[string]string{subscription.MetaUserID: "U1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.paddle.test/txn_1", sess.URL)
		assert.Equal(t, "txn_1", sess.SessionID)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), sess.ExpiresAt, time.Minute)

		require.NotNil(t, api.created)
		assert.Equal(t, "U1", api.created.CustomData[subscription.MetaUserID])
		require.NotNil(t, api.created.CustomerID)
		assert.Equal(t, "ctm_1", *api.created.CustomerID)
	})

	t.Run("missing checkout url", func(t *testing.T) {
		t.Parallel()
		api := &fakePaddleAPI{txn: &paddle.Transaction{ID: "txn_2"}}

		_, err := newPaddle(t, api).CreateCheckout(context.Background(), subscription.CheckoutSessionRequest{PriceID: "price_pro_year"})
		require.ErrorIs(t, err, subscription.ErrNoCheckoutURL)
	})

	t.Run("api error", func(t *testing.T) {
		t.Parallel()
		api := &fakePaddleAPI{err: errors.New("boom")}

		_, err := newPaddle(t, api).CreateCheckout(context.Background(), subscription.CheckoutSessionRequest{PriceID: "price_pro_year"})
		var perr *subscription.ProviderError
		require.ErrorAs(t, err, &perr)
	})
}

func TestPaddleProvider_FetchSubscription(t *testing.T) {
	t.Parallel()
	var txn paddle.Transaction
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "txn_1",
		"status": "completed",
		"customer_id": "ctm_1",
		"billed_at": "2025-03-01T12:00:00Z",
		"custom_data": {"user_id": "U1", "interval": "month"}
	}`), &txn))

	remote, err := newPaddle(t, &fakePaddleAPI{txn: &txn}).FetchSubscription(context.Background(), "txn_1")
	require.NoError(t, err)
	assert.Equal(t, "txn_1", remote.ID)
	assert.Equal(t, subscription.StatusActive, remote.Status)
	require.NotNil(t, remote.CurrentPeriodStart)
	require.NotNil(t, remote.CurrentPeriodEnd)
	assert.Equal(t, t0, *remote.CurrentPeriodStart)
	assert.Equal(t, t0.AddDate(0, 1, 0), *remote.CurrentPeriodEnd)
	assert.Nil(t, remote.EndedAt)
}

func TestPaddleProvider_PortalURL(t *testing.T) {
	t.Parallel()
	var sess paddle.CustomerPortalSession
	require.NoError(t, json.Unmarshal([]byte(`{"id":"cpls_1","urls":{"general":{"overview":"https://portal.paddle.test/ov"}}}`), &sess))
	p := newPaddle(t, &fakePaddleAPI{portal: &sess})

	url, err := p.PortalURL(context.Background(), &subscription.Subscription{ExternalCustomerID: "ctm_1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.paddle.test/ov", url)

	_, err = p.PortalURL(context.Background(), &subscription.Subscription{}, "")
	require.ErrorIs(t, err, subscription.ErrNoCustomer)
}
