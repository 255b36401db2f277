// Package auth provides API key authentication for the HTTP API.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pendergraft/contraverify/internal/middleware/logging"
	"github.com/pendergraft/contraverify/internal/storage"
)

type contextKey struct{}

// ErrorWriter writes a JSON error response.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// KeyFromContext returns the API key that authenticated the request, if any.
func KeyFromContext(ctx context.Context) *storage.APIKey {
	key, _ := ctx.Value(contextKey{}).(*storage.APIKey)
	return key
}

// KeyName returns the name of the authenticating key, or "".
func KeyName(ctx context.Context) string {
	if key := KeyFromContext(ctx); key != nil {
		return key.Name
	}
	return ""
}

// keyFromRequest reads the key from X-API-Key or a bearer token.
func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid API key. Keys without the expected prefix are rejected without a
// store lookup.
func Middleware(store storage.APIKeyStore, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := keyFromRequest(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}
			if !strings.HasPrefix(raw, storage.APIKeyPrefix) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			logging.AddAttrs(r.Context(), "api_key", key.Name)
			ctx := context.WithValue(r.Context(), contextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
