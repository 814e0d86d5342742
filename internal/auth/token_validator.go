package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors. The authorization engine collapses both into an
// opaque deny; the distinction exists for internal logging only.
var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// expectedAlgorithm is the only signature scheme the identity provider uses.
const expectedAlgorithm = "RS256"

// IdentityClaims are the claims this service reads from a bearer token.
type IdentityClaims struct {
	Email      string   `json:"email,omitempty"`
	Role       string   `json:"role,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	TeamID     string   `json:"team_id,omitempty"`
	Department string   `json:"department,omitempty"`
	AuthTime   int64    `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *IdentityClaims) UserID() string {
	return c.Subject
}

// TokenValidator verifies bearer credentials against the identity provider's
// published keys. Stateless beyond its injected dependencies.
type TokenValidator struct {
	keys   *KeyCache
	issuer string
	logger *slog.Logger
}

// NewTokenValidator creates a new TokenValidator instance
func NewTokenValidator(keys *KeyCache, issuer string, logger *slog.Logger) *TokenValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenValidator{
		keys:   keys,
		issuer: issuer,
		logger: logger,
	}
}

// Validate verifies the token's signature, issuer, algorithm, and expiry, and
// extracts the subject and claims. Fails closed: every verification problem
// comes back as ErrTokenInvalid or ErrTokenExpired, never a panic.
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (*IdentityClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	keyfunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token has no key id")
		}
		return v.keys.Get(ctx, kid)
	}

	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{expectedAlgorithm}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: malformed claims", ErrTokenInvalid)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrTokenInvalid)
	}

	return claims, nil
}
