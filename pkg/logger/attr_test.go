package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestUserID(t *testing.T) {
	attr := logger.UserID("123")
	require.Equal(t, "user_id", attr.Key)
	assert.Equal(t, "123", attr.Value.Any())
}

func TestProvider(t *testing.T) {
	attr := logger.Provider("stripe")
	require.Equal(t, "provider", attr.Key)
	assert.Equal(t, "stripe", attr.Value.String())
}

func TestSubscriptionID(t *testing.T) {
	attr := logger.SubscriptionID("sub_123")
	require.Equal(t, "subscription_id", attr.Key)
	assert.Equal(t, "sub_123", attr.Value.String())

	assert.True(t, logger.SubscriptionID("").Equal(slog.Attr{}))
}

func TestCustomerID(t *testing.T) {
	attr := logger.CustomerID("cus_123")
	require.Equal(t, "customer_id", attr.Key)
	assert.Equal(t, "cus_123", attr.Value.String())

	assert.True(t, logger.CustomerID("").Equal(slog.Attr{}))
}

func TestPriceID(t *testing.T) {
	attr := logger.PriceID("price_pro")
	require.Equal(t, "price_id", attr.Key)
	assert.Equal(t, "price_pro", attr.Value.String())
}

func TestActorID(t *testing.T) {
	attr := logger.ActorID("admin-1")
	require.Equal(t, "actor_id", attr.Key)
	assert.Equal(t, "admin-1", attr.Value.Any())

	assert.True(t, logger.ActorID(nil).Equal(slog.Attr{}))
}

func TestRequestID(t *testing.T) {
	attr := logger.RequestID("abc")
	require.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "abc", attr.Value.Any())
}

func TestEventID(t *testing.T) {
	attr := logger.EventID("evt_1")
	require.Equal(t, "event_id", attr.Key)
	assert.Equal(t, "evt_1", attr.Value.String())

	assert.True(t, logger.EventID("").Equal(slog.Attr{}))
}
