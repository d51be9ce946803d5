// Package requestctx carries the caller identity presented by the upstream
// auth layer through request contexts.
package requestctx

import (
	"context"
	"net/http"
	"strings"
)

// userIDContextKey is the context key for authenticated user identity.
type userIDContextKey struct{}

// WithUserID stores a user identifier in context. Surrounding whitespace is
// dropped; an empty identifier leaves the caller unauthenticated.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDContextKey{}, strings.TrimSpace(userID))
}

// UserIDFromContext returns the user identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDContextKey{}).(string)
	return value
}

// FromHeader returns middleware that trusts header as the authenticated
// username set by a fronting auth proxy. Requests whose context already
// carries an identity keep it.
func FromHeader(header string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header == "" || UserIDFromContext(r.Context()) != "" {
				next.ServeHTTP(w, r)
				return
			}
			if userID := strings.TrimSpace(r.Header.Get(header)); userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
