// Package auth verifies bearer tokens minted by the external identity provider
// and attaches the resulting identity to requests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bizdesk/bizdesk/internal/shared"
)

var (
	// ErrTokenMissing indicates no bearer token was presented.
	ErrTokenMissing = shared.Unauthorized("Bearer token missing")
	// ErrTokenInvalid indicates the token failed verification.
	ErrTokenInvalid = shared.Unauthorized("Invalid token")
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = shared.Unauthorized("Token expired")
)

// Claims are the identity provider claims this service relies on.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	ClientID *int64 `json:"client_id,omitempty"`
}

// Verifier validates HS256 tokens signed with the shared provider secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier builds a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses the token and maps its claims to an Identity.
func (v *Verifier) Verify(token string) (*shared.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims.identity()
}

func (c *Claims) identity() (*shared.Identity, error) {
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	id := &shared.Identity{UserID: c.Subject, Email: c.Email}
	switch shared.Role(c.Role) {
	case shared.RoleAdmin:
		id.Role = shared.RoleAdmin
	case shared.RoleClient:
		if c.ClientID == nil || *c.ClientID <= 0 {
			return nil, fmt.Errorf("%w: client token without client_id", ErrTokenInvalid)
		}
		id.Role = shared.RoleClient
		clientID := *c.ClientID
		id.ClientID = &clientID
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, c.Role)
	}
	return id, nil
}

// Issue signs a token for the identity. The identity provider is the normal
// issuer; this is used by bizctl for local development and by tests.
func Issue(secret, issuer string, id shared.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    id.Email,
		Role:     string(id.Role),
		ClientID: id.ClientID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
