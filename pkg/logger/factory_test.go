package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/logger"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf))

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("shown", logger.UserID("U1"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "U1", entry["user_id"])
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("development is text at debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(logger.WithEnvironment("dev", "billing"), logger.WithOutput(&buf))
		log.Debug("msg")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "service=billing")
		assert.Contains(t, buf.String(), "env=development")
	})

	t.Run("production is json at info", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(logger.WithEnvironment("prod", "billing"), logger.WithOutput(&buf))
		log.Debug("hidden")
		log.Info("msg")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "billing", entry["service"])
		assert.Equal(t, "production", entry["env"])
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewFromConfig(logger.Config{
		Env:     "production",
		Service: "tiersync",
		Level:   "warn",
		Format:  "TEXT",
	}, logger.WithOutput(&buf))

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "env=production")
}

func TestWithContextExtractors(t *testing.T) {
	t.Parallel()

	type key struct{}
	extract := func(ctx context.Context) (slog.Attr, bool) {
		if v, ok := ctx.Value(key{}).(string); ok {
			return logger.ActorID(v), true
		}
		return slog.Attr{}, false
	}

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithContextExtractors(nil, extract),
		logger.WithAttr(logger.Component("test")),
	).With(slog.String("scope", "child"))

	log.InfoContext(context.WithValue(context.Background(), key{}, "admin"), "msg")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "admin", entry["actor_id"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "child", entry["scope"])
}
