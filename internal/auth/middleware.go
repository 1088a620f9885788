package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

type contextKey string

const claimsKey contextKey = "claims"

const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleService = "service"
)

// Middleware rejects requests without a valid bearer token and stores the
// claims on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeUnauthorized(w, "missing or invalid Authorization header")
			return
		}

		claims, err := a.ValidateToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeUnauthorized(w, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// TenantID returns the authenticated tenant, or "" when unauthenticated.
func TenantID(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.TenantID
	}
	return ""
}

// RequireRole allows the request only when the authenticated role is one of
// roles. It must run after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := FromContext(r.Context())
			if !ok || !slices.Contains(roles, c.Role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
