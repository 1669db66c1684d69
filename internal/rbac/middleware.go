// Package rbac guards routes by the role carried on the request identity.
package rbac

import (
	"log/slog"
	"net/http"

	"github.com/bizdesk/bizdesk/internal/platform/httpx"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// Middleware wires role authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAuthenticated rejects anonymous requests with 401.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.RequireRole(shared.RoleAdmin, shared.RoleClient)
}

// RequireRole ensures the current identity has one of the given roles.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := shared.IdentityFromContext(r.Context())
			if id == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				if m.Logger != nil {
					m.Logger.Warn("rbac deny", slog.String("user", id.UserID), slog.String("role", string(id.Role)), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
