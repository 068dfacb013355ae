package httpserver

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns middleware allowing browser calls from the given origins.
// With no origins it returns a passthrough, so server-to-server deployments
// send no CORS headers at all.
func CORS(origins []string, exposedHeaders ...string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "X-Actor-ID"},
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler
}
