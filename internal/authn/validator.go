// Package authn verifies the bearer tokens presented by admin API and
// WebSocket callers and extracts the tenant account id they authenticate
// as. It is generalized from internal/auth/jwt_validator.go's JWKS-backed
// JWTTokenValidator: the same key-lookup-with-refresh flow, narrowed to a
// single supported validator type and a two-step claim lookup (account id,
// falling back to sub) instead of the teacher's email/user_id/sub chain.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

var (
	ErrInvalidToken = errors.New("authn: invalid token")
	ErrExpiredToken = errors.New("authn: token has expired")
	ErrNoJWKS       = errors.New("authn: no JWKS URL configured")
)

// Claims is the token shape this bridge expects: one tenant account id per
// token (SPEC_FULL.md §3.1).
type Claims struct {
	AccountID string `json:"account_id"`
	Sub       string `json:"sub"`
	jwt.RegisteredClaims
}

// Validator verifies a bearer token and returns the account id it
// authenticates.
type Validator interface {
	ValidateToken(tokenString string) (accountID string, err error)
}

// JWKSValidator validates tokens against a remote JSON Web Key Set,
// refetching once on an unrecognized kid.
type JWKSValidator struct {
	keySet  jwk.Set
	jwksURL string
}

// NewJWKSValidator fetches the key set at jwksURL. An empty URL is a
// configuration error — unlike the teacher's validator, this bridge has no
// unauthenticated development mode, since it gates per-tenant session
// access rather than static tooling.
func NewJWKSValidator(jwksURL string) (*JWKSValidator, error) {
	if jwksURL == "" {
		return nil, ErrNoJWKS
	}
	keySet, err := jwk.Fetch(context.Background(), jwksURL)
	if err != nil {
		return nil, fmt.Errorf("authn: failed to fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSValidator{keySet: keySet, jwksURL: jwksURL}, nil
}

func (v *JWKSValidator) refresh() error {
	keySet, err := jwk.Fetch(context.Background(), v.jwksURL)
	if err != nil {
		return fmt.Errorf("authn: failed to refresh JWKS from %s: %w", v.jwksURL, err)
	}
	v.keySet = keySet
	return nil
}

// ValidateToken validates tokenString and returns the account id it
// authenticates, preferring the account_id claim and falling back to sub.
func (v *JWKSValidator) ValidateToken(tokenString string) (string, error) {
	unverified, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok {
		return "", fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	key, found := v.keySet.LookupKeyID(kid)
	if !found {
		if err := v.refresh(); err != nil {
			return "", fmt.Errorf("%w: key %s not found and refresh failed: %v", ErrInvalidToken, kid, err)
		}
		key, found = v.keySet.LookupKeyID(kid)
		if !found {
			return "", fmt.Errorf("%w: key %s not found after refresh", ErrInvalidToken, kid)
		}
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return "", fmt.Errorf("%w: failed to materialize key: %v", ErrInvalidToken, err)
	}

	validated, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return rawKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := validated.Claims.(*Claims)
	if !ok || !validated.Valid {
		return "", ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(time.Now(), true) {
		return "", ErrExpiredToken
	}

	if claims.AccountID != "" {
		return claims.AccountID, nil
	}
	if claims.Sub != "" {
		return claims.Sub, nil
	}
	return "", fmt.Errorf("%w: no account_id or sub claim present", ErrInvalidToken)
}

// UIDExtractor is implemented by validators that can also resolve the
// per-member identity (the "sub" claim) Rbac.Resolve needs alongside the
// tenant account id. It is satisfied by JWKSValidator but kept separate from
// Validator since most callers only need the account id.
type UIDExtractor interface {
	ExtractUID(tokenString string) (string, error)
}

// ExtractUID returns the token's "sub" claim without re-verifying the
// signature — callers invoke this only after RequireAuth has already
// validated the token in full.
func (v *JWKSValidator) ExtractUID(tokenString string) (string, error) {
	unverified, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := unverified.Claims.(*Claims)
	if !ok || claims.Sub == "" {
		return "", fmt.Errorf("%w: no sub claim present", ErrInvalidToken)
	}
	return claims.Sub, nil
}
