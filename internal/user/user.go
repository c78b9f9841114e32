package user

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* The caller's identity is established upstream by the auth gateway and
 * forwarded in headers. This package only reads it; it never authenticates.
 */

const (
	HeaderOwnerID = "X-Owner-ID"
	HeaderRole    = "X-Owner-Role"
	RoleAdmin     = "admin"
)

type ctxKey struct{}

// WithIdentity stores the identity in the context
func WithIdentity(ctx context.Context, id webhook.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by Middleware
func FromContext(ctx context.Context) (webhook.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(webhook.Identity)
	return id, ok
}

// FromRequest reads the identity headers. It reports false when no owner is present.
func FromRequest(r *http.Request) (webhook.Identity, bool) {
	owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
	if owner == "" {
		return webhook.Identity{}, false
	}
	return webhook.Identity{
		OwnerID: owner,
		Admin:   strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderRole)), RoleAdmin),
	}, true
}

// Middleware rejects requests without an identity with 401
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromRequest(r)
		if !ok {
			reject(w, http.StatusUnauthorized, "missing "+HeaderOwnerID+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects non-admin identities with 403. Use after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			reject(w, http.StatusUnauthorized, "missing "+HeaderOwnerID+" header")
			return
		}
		if !id.Admin {
			reject(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
