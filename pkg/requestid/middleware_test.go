package requestid_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tiersync/pkg/logger"
	"github.com/dmitrymomot/tiersync/pkg/requestid"
)

func serve(t *testing.T, header string) (ctxID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generates an id when none is sent", func(t *testing.T) {
		t.Parallel()
		id, rec := serve(t, "")
		require.NotEmpty(t, id)
		assert.Equal(t, id, rec.Header().Get(requestid.Header))
	})

	t.Run("reuses a valid inbound id", func(t *testing.T) {
		t.Parallel()
		id, rec := serve(t, "req_ABC-123")
		assert.Equal(t, "req_ABC-123", id)
		assert.Equal(t, "req_ABC-123", rec.Header().Get(requestid.Header))
	})

	t.Run("replaces malformed ids", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"a b", "x/y", "<script>", strings.Repeat("a", 129)} {
			id, rec := serve(t, bad)
			assert.NotEqual(t, bad, id)
			assert.True(t, requestid.Valid(id))
			assert.Equal(t, id, rec.Header().Get(requestid.Header))
		}
	})
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, requestid.FromContext(context.Background()))
	assert.Equal(t, "r1", requestid.FromContext(requestid.WithContext(context.Background(), "r1")))
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatJSON),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)

	log.InfoContext(requestid.WithContext(context.Background(), "r-42"), "with id")
	assert.Contains(t, buf.String(), `"request_id":"r-42"`)

	buf.Reset()
	log.InfoContext(context.Background(), "without id")
	assert.NotContains(t, buf.String(), "request_id")
}
