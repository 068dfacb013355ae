package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/config"
)

type billingSecrets struct {
	StripeKey     string `env:"TEST_STRIPE_KEY"`
	WebhookSecret string `env:"TEST_STRIPE_WEBHOOK_SECRET,required"`
	Environment   string `env:"TEST_PADDLE_ENVIRONMENT" envDefault:"production"`
}

func failingSource(err error) config.Provider {
	return config.ProviderFunc(func(context.Context, string) (string, bool, error) {
		return "", false, err
	})
}

func TestChain_Lookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("primary wins", func(t *testing.T) {
		t.Parallel()
		src := config.Chain(
			config.MapSource{"KEY": "from-db"},
			config.MapSource{"KEY": "from-env", "OTHER": "env-only"},
		)

		v, ok, err := src.Lookup(ctx, "KEY")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "from-db", v)

		v, ok, err = src.Lookup(ctx, "OTHER")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "env-only", v)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		t.Parallel()
		src := config.Chain(config.MapSource{}, nil, config.MapSource{})

		_, ok, err := src.Lookup(ctx, "KEY")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failing primary falls back", func(t *testing.T) {
		t.Parallel()
		src := config.Chain(failingSource(errors.New("db down")), config.MapSource{"KEY": "env"})

		v, ok, err := src.Lookup(ctx, "KEY")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "env", v)
	})

	t.Run("failure surfaces when nobody has the key", func(t *testing.T) {
		t.Parallel()
		src := config.Chain(failingSource(errors.New("db down")), config.MapSource{})

		_, _, err := src.Lookup(ctx, "KEY")
		require.ErrorIs(t, err, config.ErrProviderFailed)
	})
}

func TestEnvSource(t *testing.T) {
	t.Setenv("TEST_ENV_SOURCE_KEY", "value")

	v, ok, err := config.EnvSource{}.Lookup(context.Background(), "TEST_ENV_SOURCE_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok, err = config.EnvSource{}.Lookup(context.Background(), "TEST_ENV_SOURCE_MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := config.MapSource{"KEY": "set"}

	v, err := config.Resolve(ctx, src, "KEY", "def")
	require.NoError(t, err)
	assert.Equal(t, "set", v)

	v, err = config.Resolve(ctx, src, "MISSING", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	_, err = config.Resolve(ctx, failingSource(errors.New("boom")), "KEY", "def")
	require.Error(t, err)

	assert.Panics(t, func() { config.MustResolve(ctx, failingSource(errors.New("boom")), "KEY", "") })
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fills from chain with defaults", func(t *testing.T) {
		t.Parallel()
		src := config.Chain(
			config.MapSource{"TEST_STRIPE_KEY": "sk_db"},
			config.MapSource{"TEST_STRIPE_KEY": "sk_env", "TEST_STRIPE_WEBHOOK_SECRET": "whsec_env"},
		)

		var cfg billingSecrets
		require.NoError(t, config.LoadFrom(ctx, src, &cfg))
		assert.Equal(t, "sk_db", cfg.StripeKey)
		assert.Equal(t, "whsec_env", cfg.WebhookSecret)
		assert.Equal(t, "production", cfg.Environment)
	})

	t.Run("required value missing", func(t *testing.T) {
		t.Parallel()
		var cfg billingSecrets
		err := config.LoadFrom(ctx, config.MapSource{}, &cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		t.Parallel()
		var cfg *billingSecrets
		require.ErrorIs(t, config.LoadFrom(ctx, config.MapSource{}, cfg), config.ErrNilPointer)
	})
}
