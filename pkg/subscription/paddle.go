package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

// PaddleConfig holds configuration for the Paddle one-time order provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleAPI is the subset of the Paddle SDK used by PaddleProvider.
type PaddleAPI interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
	GetTransaction(ctx context.Context, req *paddle.GetTransactionRequest) (*paddle.Transaction, error)
	CreateCustomerPortalSession(ctx context.Context, req *paddle.CreateCustomerPortalSessionRequest) (*paddle.CustomerPortalSession, error)
}

// PaddleProvider sells fixed-term access as one-time orders. A completed
// transaction grants the plan's tier for one billing interval.
type PaddleProvider struct {
	api      PaddleAPI
	verifier *paddle.WebhookVerifier
	logger   *slog.Logger
}

// PaddleOption configures a PaddleProvider.
type PaddleOption func(*PaddleProvider)

// WithPaddleAPI replaces the Paddle SDK client.
func WithPaddleAPI(api PaddleAPI) PaddleOption {
	return func(p *PaddleProvider) {
		if api != nil {
			p.api = api
		}
	}
}

func WithPaddleLogger(l *slog.Logger) PaddleOption {
	return func(p *PaddleProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPaddleProvider creates a Paddle provider.
func NewPaddleProvider(cfg PaddleConfig, opts ...PaddleOption) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	p := &PaddleProvider{
		api:      paddleClient{sdk: client},
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Provider(string(ProviderPaddle)))
	return p, nil
}

func (p *PaddleProvider) Name() ProviderName { return ProviderPaddle }

// CreateCheckout creates a ready transaction and returns its hosted checkout URL.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	customData := paddle.CustomData{}
	for k, v := range req.Metadata {
		customData[k] = v
	}
	txnReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if req.CustomerID != "" {
		txnReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		txnReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	txn, err := p.api.CreateTransaction(ctx, txnReq)
	if err != nil {
		return nil, providerError(ProviderPaddle, "create transaction", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:        *txn.Checkout.URL,
		SessionID:  txn.ID,
		CustomerID: req.CustomerID,
		// Paddle checkout links typically expire in 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

// PortalURL returns the overview link of Paddle's customer portal.
func (p *PaddleProvider) PortalURL(ctx context.Context, sub *Subscription, _ string) (string, error) {
	if sub == nil || sub.ExternalCustomerID == "" {
		return "", ErrNoCustomer
	}
	sess, err := p.api.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: sub.ExternalCustomerID,
	})
	if err != nil {
		return "", providerError(ProviderPaddle, "create portal session", err)
	}
	if sess.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return sess.URLs.General.Overview, nil
}

// FetchSubscription reads the order transaction. Paddle never deletes
// transactions, so a canceled transaction is reported as a canceled subscription.
func (p *PaddleProvider) FetchSubscription(ctx context.Context, orderID string) (*RemoteSubscription, error) {
	txn, err := p.api.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: orderID})
	if err != nil {
		return nil, providerError(ProviderPaddle, "get transaction", err)
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return nil, providerError(ProviderPaddle, "encode transaction", err)
	}
	var payload paddleTransactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, providerError(ProviderPaddle, "decode transaction", err)
	}
	remote := payload.remote()
	return &remote, nil
}

// ParseWebhook verifies the Paddle-Signature header and decodes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (ProviderEvent, error) {
	if signature == "" {
		return nil, errors.Join(ErrAuthenticityFailure, ErrWebhookVerificationFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrAuthenticityFailure, ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, errors.Join(ErrAuthenticityFailure, ErrWebhookVerificationFailed)
	}
	return decodePaddleEvent(payload)
}

func decodePaddleEvent(payload []byte) (ProviderEvent, error) {
	var envelope struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt time.Time       `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookPayload, err)
	}
	meta := EventMeta{
		ID:         envelope.EventID,
		Provider:   ProviderPaddle,
		Type:       envelope.EventType,
		OccurredAt: envelope.OccurredAt.UTC(),
	}

	switch envelope.EventType {
	case "transaction.completed", "transaction.payment_failed":
	default:
		return UnhandledEvent{EventMeta: meta}, nil
	}

	var txn paddleTransactionPayload
	if err := json.Unmarshal(envelope.Data, &txn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhookPayload, err)
	}
	// Recurring Paddle subscriptions are not sold through this provider.
	if txn.SubscriptionID != "" && envelope.EventType == "transaction.completed" {
		return UnhandledEvent{EventMeta: meta}, nil
	}

	if envelope.EventType == "transaction.payment_failed" {
		return PaymentIntentFailed{EventMeta: meta, PaymentDetails: txn.details()}, nil
	}

	billedAt := meta.OccurredAt
	if txn.BilledAt != nil {
		billedAt = txn.BilledAt.UTC()
	}
	return OrderCompleted{
		EventMeta:  meta,
		OrderID:    txn.ID,
		CustomerID: txn.CustomerID,
		PriceID:    txn.priceID(),
		BilledAt:   billedAt,
		Metadata:   txn.metadata(),
	}, nil
}

type paddleTransactionPayload struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	BilledAt       *time.Time     `json:"billed_at"`
	BillingPeriod  *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"billing_period"`
	Items []struct {
		PriceID string `json:"price_id"`
		Price   struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	Details struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

func (t paddleTransactionPayload) priceID() string {
	if len(t.Items) == 0 {
		return ""
	}
	if t.Items[0].PriceID != "" {
		return t.Items[0].PriceID
	}
	return t.Items[0].Price.ID
}

func (t paddleTransactionPayload) metadata() map[string]string {
	md := make(map[string]string, len(t.CustomData))
	for k, v := range t.CustomData {
		if s, ok := v.(string); ok {
			md[k] = s
		}
	}
	return md
}

func (t paddleTransactionPayload) details() PaymentDetails {
	amount, _ := strconv.ParseInt(t.Details.Totals.GrandTotal, 10, 64)
	reason := "transaction payment failed"
	for _, p := range t.Payments {
		if p.ErrorCode != "" {
			reason = p.ErrorCode
			break
		}
	}
	return PaymentDetails{
		PaymentIntentID: t.ID,
		SubscriptionID:  t.SubscriptionID,
		CustomerID:      t.CustomerID,
		Amount:          amount,
		Currency:        t.CurrencyCode,
		Reason:          reason,
		Metadata:        t.metadata(),
	}
}

func (t paddleTransactionPayload) remote() RemoteSubscription {
	md := t.metadata()
	r := RemoteSubscription{
		ID:         t.ID,
		CustomerID: t.CustomerID,
		Status:     paddleStatus(t.Status),
		PriceID:    t.priceID(),
		Metadata:   md,
	}
	switch {
	case t.BillingPeriod != nil:
		r.CurrentPeriodStart = timePtr(t.BillingPeriod.StartsAt.UTC())
		r.CurrentPeriodEnd = timePtr(t.BillingPeriod.EndsAt.UTC())
	case t.BilledAt != nil:
		interval := BillingInterval(md[MetaInterval])
		if !interval.Valid() {
			interval = IntervalMonth
		}
		r.CurrentPeriodStart = timePtr(t.BilledAt.UTC())
		r.CurrentPeriodEnd = timePtr(interval.AddTo(t.BilledAt.UTC()))
	}
	if r.Status == StatusCanceled {
		r.EndedAt = cloneTime(r.CurrentPeriodEnd)
	}
	return r
}

func paddleStatus(s string) Status {
	switch strings.ToLower(s) {
	case "completed", "paid", "billed":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusIncomplete
	}
}

// paddleClient adapts the Paddle SDK to PaddleAPI.
type paddleClient struct {
	sdk *paddle.SDK
}

func (c paddleClient) CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error) {
	return c.sdk.TransactionsClient.CreateTransaction(ctx, req)
}

func (c paddleClient) GetTransaction(ctx context.Context, req *paddle.GetTransactionRequest) (*paddle.Transaction, error) {
	return c.sdk.TransactionsClient.GetTransaction(ctx, req)
}

func (c paddleClient) CreateCustomerPortalSession(ctx context.Context, req *paddle.CreateCustomerPortalSessionRequest) (*paddle.CustomerPortalSession, error) {
	return c.sdk.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, req)
}
