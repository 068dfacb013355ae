package subscription_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testPlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:             "pro",
			Name:           "Pro",
			Tier:           subscription.TierPro,
			PriceIDMonthly: "price_pro_month",
			PriceIDYearly:  "price_pro_year",
			PriceMonthly:   subscription.Money{Amount: 900, Currency: "USD"},
			Features:       []subscription.PlanFeature{{Key: "collections", Description: "Unlimited collections"}},
		},
		{
			ID:             "premium",
			Name:           "Premium",
			Tier:           subscription.TierPremium,
			PriceIDMonthly: "price_premium_month",
			PriceIDYearly:  "price_premium_year",
		},
		{
			ID:             "enterprise",
			Name:           "Enterprise",
			Tier:           subscription.TierEnterprise,
			PriceIDMonthly: "price_enterprise_month",
		},
	}
}

func newResolver() *subscription.Resolver {
	return subscription.NewResolver(subscription.NewMemoryPlans(testPlans()...))
}

func fixedClock() func() time.Time {
	return func() time.Time { return t0 }
}

// fakeProvider is a configurable BillingProvider with every optional capability.
type fakeProvider struct {
	mu sync.Mutex

	name      subscription.ProviderName
	event     subscription.ProviderEvent
	parseErr  error
	customers map[string]string // customer id -> user id
	invoices  map[string]string // invoice id -> subscription id
	remote    map[string]*subscription.RemoteSubscription
	fetchErr  error
	toggleErr error
	portalURL string
	linked    map[string]string
}

func newFakeProvider(name subscription.ProviderName) *fakeProvider {
	return &fakeProvider{
		name:      name,
		customers: make(map[string]string),
		invoices:  make(map[string]string),
		remote:    make(map[string]*subscription.RemoteSubscription),
		linked:    make(map[string]string),
	}
}

func (f *fakeProvider) Name() subscription.ProviderName { return f.name }

func (f *fakeProvider) CreateCheckout(context.Context, subscription.CheckoutSessionRequest) (*subscription.CheckoutSession, error) {
	return &subscription.CheckoutSession{URL: "https://checkout.example/cs_1", SessionID: "cs_1"}, nil
}

func (f *fakeProvider) PortalURL(context.Context, *subscription.Subscription, string) (string, error) {
	return f.portalURL, nil
}

func (f *fakeProvider) ParseWebhook(context.Context, []byte, string) (subscription.ProviderEvent, error) {
	return f.event, f.parseErr
}

func (f *fakeProvider) CustomerUserID(_ context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[customerID], nil
}

func (f *fakeProvider) LinkCustomer(_ context.Context, customerID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[customerID] = userID
	f.customers[customerID] = userID
	return nil
}

func (f *fakeProvider) InvoiceSubscriptionID(_ context.Context, invoiceID string) (string, error) {
	return f.invoices[invoiceID], nil
}

func (f *fakeProvider) FetchSubscription(_ context.Context, id string) (*subscription.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	r, ok := f.remote[id]
	if !ok {
		return nil, subscription.ErrExternalSubscriptionNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	r, ok := f.remote[id]
	if !ok {
		return subscription.ErrExternalSubscriptionNotFound
	}
	r.CancelAtPeriodEnd = cancel
	return nil
}

// mockProvider is a testify mock of the minimal BillingProvider contract.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() subscription.ProviderName {
	return subscription.ProviderName(m.Called().String(0))
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req subscription.CheckoutSessionRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockProvider) PortalURL(ctx context.Context, sub *subscription.Subscription, returnURL string) (string, error) {
	args := m.Called(ctx, sub, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (subscription.ProviderEvent, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(subscription.ProviderEvent), args.Error(1)
}

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	subscription.Store
	deleteErr error
	upsertErr error
}

func (s *failingStore) Delete(ctx context.Context, userID string, intent subscription.WriteIntent) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, userID, intent)
}

func (s *failingStore) Upsert(ctx context.Context, sub *subscription.Subscription, intent subscription.WriteIntent) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.Upsert(ctx, sub, intent)
}

// hookStore runs onUpsert before each write; a non-nil error fails the write.
type hookStore struct {
	subscription.Store
	onUpsert func(ctx context.Context) error
}

func (s *hookStore) Upsert(ctx context.Context, sub *subscription.Subscription, intent subscription.WriteIntent) error {
	if err := s.onUpsert(ctx); err != nil {
		return err
	}
	return s.Store.Upsert(ctx, sub, intent)
}

// failingJournal rejects every append.
type failingJournal struct{ err error }

func (j failingJournal) Append(context.Context, subscription.Event) error { return j.err }

func (j failingJournal) List(context.Context, string) ([]subscription.Event, error) { return nil, j.err }

func remoteSub(id, customerID, priceID, userID string) subscription.RemoteSubscription {
	start := t0
	end := t0.AddDate(0, 0, 30)
	md := map[string]string{}
	if userID != "" {
		md[subscription.MetaUserID] = userID
	}
	return subscription.RemoteSubscription{
		ID:                 id,
		CustomerID:         customerID,
		Status:             subscription.StatusActive,
		PriceID:            priceID,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Metadata:           md,
	}
}

func meta(id string) subscription.EventMeta {
	return subscription.EventMeta{ID: id, Provider: subscription.ProviderStripe, Type: "test", OccurredAt: t0}
}
