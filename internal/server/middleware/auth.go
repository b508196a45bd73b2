package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/m3ugate/m3ugate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated admin.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// AdminAuth returns an HTTP middleware guarding the admin surface. It accepts
// either of:
//
//  1. the shared admin key via the X-Admin-Key header
//  2. a session JWT via "Authorization: Bearer <token>"
//
// When no admin key is configured every request is refused with 503.
func AdminAuth(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authSvc.Enabled() {
				writeAuthError(w, http.StatusServiceUnavailable, "Admin API is disabled")
				return
			}

			var (
				principal *service.AdminPrincipal
				err       error
			)
			if key := r.Header.Get("X-Admin-Key"); key != "" {
				principal, err = authSvc.ValidateAdminKey(key)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid admin key")
					return
				}
			} else if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				principal, err = authSvc.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
				if err != nil {
					if errors.Is(err, service.ErrAdminDisabled) {
						writeAuthError(w, http.StatusServiceUnavailable, "Admin API is disabled")
						return
					}
					writeAuthError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-Admin-Key header or Bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated admin from the context.
// Returns nil if the request did not pass through AdminAuth.
func GetPrincipal(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

// writeAuthError writes the same error envelope as the handler package
// without importing it.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	})
}
