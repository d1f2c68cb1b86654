package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quorumlabs/identity/internal/auth"
)

// AuthMiddleware creates a handler that validates bearer JWTs and injects
// the caller's identity into the request context.
func AuthMiddleware(provider auth.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := provider.ValidateToken(parts[1])
			if err != nil {
				slog.Warn("Invalid Token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if claims.Scope != "access" {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			if claims.OrganizationID != nil {
				ctx = context.WithValue(ctx, OrgIDKey, *claims.OrganizationID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
