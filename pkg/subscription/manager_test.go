package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

var allowAdmin = subscription.AuthorizerFunc(func(_ context.Context, actorID, capability string) (bool, error) {
	return actorID == "admin" && capability == subscription.CapabilityOverride, nil
})

type managerEnv struct {
	store    *subscription.MemoryStore
	journal  *subscription.MemoryJournal
	provider *fakeProvider
	m        *subscription.Manager
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()
	env := &managerEnv{
		store:    subscription.NewMemoryStore(),
		journal:  subscription.NewMemoryJournal(),
		provider: newFakeProvider(subscription.ProviderStripe),
	}
	sweeper := subscription.NewSweeper(env.store, env.journal, newResolver(),
		subscription.WithSweepProvider(env.provider),
		subscription.WithSweeperClock(fixedClock()))
	env.m = subscription.NewManager(env.store, env.journal, sweeper,
		subscription.WithManagerProvider(env.provider),
		subscription.WithAuthorizer(allowAdmin),
		subscription.WithManagerClock(fixedClock()))
	return env
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"portal", "cancel", "reactivate"} {
		a, err := subscription.ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, subscription.Action(s), a)
	}
	_, err := subscription.ParseAction("refund")
	assert.ErrorIs(t, err, subscription.ErrInvalidAction)
}

func TestManager_Manage(t *testing.T) {
	t.Parallel()

	t.Run("portal returns provider url", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		env.provider.portalURL = "https://billing.example/p_1"
		seedStripeRow(t, env.store, "U1", "sub_1")

		res, err := env.m.Manage(context.Background(), subscription.ActionPortal, "U1", "https://app.example")
		require.NoError(t, err)
		assert.Equal(t, "https://billing.example/p_1", res.URL)
	})

	t.Run("portal without customer", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.Manage(context.Background(), subscription.ActionPortal, "U1", "")
		require.ErrorIs(t, err, subscription.ErrNoCustomer)
	})

	t.Run("portal with empty url", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		seedStripeRow(t, env.store, "U1", "sub_1")

		_, err := env.m.Manage(context.Background(), subscription.ActionPortal, "U1", "")
		require.ErrorIs(t, err, subscription.ErrNoPortalURL)
	})

	t.Run("cancel toggles provider then syncs", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		seedStripeRow(t, env.store, "U1", "sub_1")
		remote := remoteSub("sub_1", "cus_1", "price_pro_month", "U1")
		env.provider.remote["sub_1"] = &remote
		ctx := context.Background()

		res, err := env.m.Manage(ctx, subscription.ActionCancel, "U1", "")
		require.NoError(t, err)
		require.NotNil(t, res.Sync)
		assert.True(t, res.Sync.Subscription.CancelAtPeriodEnd)

		sub, err := env.store.Find(ctx, "U1")
		require.NoError(t, err)
		assert.True(t, sub.CancelAtPeriodEnd)

		res, err = env.m.Manage(ctx, subscription.ActionReactivate, "U1", "")
		require.NoError(t, err)
		assert.False(t, res.Sync.Subscription.CancelAtPeriodEnd)
	})

	t.Run("toggle failure does not mutate state", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		seedStripeRow(t, env.store, "U1", "sub_1")
		env.provider.toggleErr = &subscription.ProviderError{Provider: subscription.ProviderStripe, Op: "update subscription", Err: errors.New("503")}

		_, err := env.m.Manage(context.Background(), subscription.ActionCancel, "U1", "")
		require.ErrorIs(t, err, subscription.ErrProviderError)

		sub, err := env.store.Find(context.Background(), "U1")
		require.NoError(t, err)
		assert.False(t, sub.CancelAtPeriodEnd)
	})

	t.Run("cancel without subscription", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.Manage(context.Background(), subscription.ActionCancel, "U1", "")
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("unknown action", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.Manage(context.Background(), "refund", "U1", "")
		require.ErrorIs(t, err, subscription.ErrInvalidAction)
	})
}

func TestManager_Override(t *testing.T) {
	t.Parallel()

	t.Run("assign requires capability", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.AssignManual(context.Background(), subscription.ManualAssignment{
			ActorID: "intruder",
			UserID:  "U1",
			Tier:    subscription.TierEnterprise,
		})
		require.ErrorIs(t, err, subscription.ErrPermissionDenied)
		assert.Equal(t, 0, env.store.Len())
	})

	t.Run("assign replaces provider row and journals", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		seedStripeRow(t, env.store, "U1", "sub_1")
		ctx := context.Background()
		until := t0.Add(90 * 24 * time.Hour)

		sub, err := env.m.AssignManual(ctx, subscription.ManualAssignment{
			ActorID:   "admin",
			UserID:    "U1",
			Tier:      subscription.TierEnterprise,
			PeriodEnd: &until,
			Reason:    "partner deal",
		})
		require.NoError(t, err)
		assert.True(t, sub.IsManuallyCreated)
		assert.Equal(t, subscription.ProviderManual, sub.Provider)
		assert.Empty(t, sub.ExternalSubscriptionID)
		assert.Equal(t, "cus_1", sub.ExternalCustomerID)

		events, err := env.journal.List(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, subscription.EventAdminModified, events[0].Type)
		assert.Equal(t, subscription.TierPro, events[0].OldTier)
		assert.Equal(t, subscription.TierEnterprise, events[0].NewTier)
		assert.Equal(t, "admin", events[0].Metadata["actor_id"])

		// Self-service cancellation cannot touch the manual row.
		_, err = env.m.Manage(ctx, subscription.ActionCancel, "U1", "")
		require.ErrorIs(t, err, subscription.ErrManualOverrideConflict)
	})

	t.Run("assign rejects invalid tier", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.AssignManual(context.Background(), subscription.ManualAssignment{
			ActorID: "admin",
			UserID:  "U1",
			Tier:    "platinum",
		})
		require.ErrorIs(t, err, subscription.ErrInvalidTier)
	})

	t.Run("clear returns row to automated reconciliation", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)
		ctx := context.Background()
		_, err := env.m.AssignManual(ctx, subscription.ManualAssignment{ActorID: "admin", UserID: "U1", Tier: subscription.TierPremium})
		require.NoError(t, err)

		sub, err := env.m.ClearOverride(ctx, "admin", "U1", "deal ended")
		require.NoError(t, err)
		assert.False(t, sub.IsManuallyCreated)
		assert.Equal(t, subscription.TierFree, sub.Tier)

		// Automated writes are accepted again.
		sub.Tier = subscription.TierPro
		require.NoError(t, env.store.Upsert(ctx, sub, subscription.WriteIntent{}))

		events, err := env.journal.List(ctx, "U1")
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("clear on missing row", func(t *testing.T) {
		t.Parallel()
		env := newManagerEnv(t)

		_, err := env.m.ClearOverride(context.Background(), "admin", "U1", "")
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}
