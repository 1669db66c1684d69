package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bizdesk/bizdesk/internal/shared"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, id *shared.Identity) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != nil {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), id))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireRole(t *testing.T) {
	m := Middleware{}
	clientID := int64(3)
	admin := &shared.Identity{UserID: "a", Role: shared.RoleAdmin}
	client := &shared.Identity{UserID: "c", Role: shared.RoleClient, ClientID: &clientID}

	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireRole(shared.RoleAdmin), nil))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireRole(shared.RoleAdmin), client))
	require.Equal(t, http.StatusOK, serve(t, m.RequireRole(shared.RoleAdmin), admin))
	require.Equal(t, http.StatusOK, serve(t, m.RequireAuthenticated(), client))
}
