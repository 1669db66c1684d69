package shared

import "context"

// Role identifies the caller class issued by the identity provider.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	ClientID *int64
}

// IsAdmin reports whether the identity has the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// CanSeeClient reports whether the caller may read records of clientID.
func (i *Identity) CanSeeClient(clientID int64) bool {
	if i == nil {
		return false
	}
	if i.IsAdmin() {
		return true
	}
	return i.ClientID != nil && *i.ClientID == clientID
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
