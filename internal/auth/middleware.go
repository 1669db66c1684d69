package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bizdesk/bizdesk/internal/platform/httpx"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// Authenticate resolves the bearer token, when present, into an Identity on the
// request context. Requests without a token pass through anonymously so that
// public routes keep working; protected routes use rbac to demand an identity.
func Authenticate(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				httpx.RespondError(w, ErrTokenInvalid)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				if logger != nil {
					logger.Warn("reject bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
		})
	}
}
