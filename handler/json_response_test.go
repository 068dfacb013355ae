package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/handler"
)

func render(t *testing.T, resp handler.Response) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, resp.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("data envelope", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, handler.JSON(map[string]string{"tier": "pro"}, handler.WithJSONMeta(map[string]any{"source": "cache"})))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]any{"tier": "pro"}, body["data"])
		assert.Equal(t, map[string]any{"source": "cache"}, body["meta"])
		assert.NotContains(t, body, "error")
	})

	t.Run("custom status", func(t *testing.T) {
		t.Parallel()
		rec, _ := render(t, handler.JSON(map[string]bool{"received": true}, handler.WithJSONStatus(http.StatusAccepted)))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("error value becomes error envelope", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, handler.JSON(handler.HTTPError{Code: http.StatusForbidden, Key: "forbidden"}))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotContains(t, body, "data")
		assert.Equal(t, map[string]any{"code": "forbidden", "message": "Forbidden"}, body["error"])
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	t.Run("plain error is a 500 without its text", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, handler.JSONError(errors.New("secret internals")))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret internals")
		assert.Equal(t, "internal_error", body["error"].(map[string]any)["code"])
	})

	t.Run("validation error", func(t *testing.T) {
		t.Parallel()
		verr := handler.NewValidationError()
		verr.Add("success_url", "must satisfy url")
		rec, body := render(t, handler.JSONError(verr))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		detail := body["error"].(map[string]any)
		assert.Equal(t, "validation_failed", detail["code"])
		assert.Equal(t, map[string]any{"success_url": []any{"must satisfy url"}}, detail["details"])
	})

	t.Run("explicit detail and status", func(t *testing.T) {
		t.Parallel()
		rec, body := render(t, handler.JSONError(&handler.ErrorDetail{Code: "rate_limited", Message: "slow down"}, handler.WithJSONStatus(http.StatusTooManyRequests)))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "slow down", body["error"].(map[string]any)["message"])
	})
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	verr := handler.NewValidationError()
	assert.True(t, verr.IsEmpty())
	assert.Equal(t, "validation failed", verr.Error())

	verr.Add("user_id", "is required")
	verr.Add("price_id", "is required")
	verr.Add("price_id", "must be known")

	assert.False(t, verr.IsEmpty())
	assert.True(t, verr.Has("price_id"))
	assert.False(t, verr.Has("tier"))
	assert.Equal(t, "is required", verr.Get("price_id"))
	assert.Equal(t, "validation failed: price_id: is required; user_id: is required", verr.Error())
}
