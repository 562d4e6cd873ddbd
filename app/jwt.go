package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

var (
	ErrFetchJWKSet    = fmt.Errorf("failed to fetch JWK set")
	ErrKeyNotFound    = fmt.Errorf("no key with the token's key ID")
	ErrInvalidToken   = fmt.Errorf("invalid or expired token")
	ErrMissingKeyID   = fmt.Errorf("expecting JWT header to have 'kid'")
	ErrFailedToGetKey = fmt.Errorf("failed to get raw public key")
)

// TokenVerifier checks upstream access tokens against the API server's
// published JWKS, with an auto-refreshing key cache so key rotation upstream
// does not require a gateway restart.
type TokenVerifier struct {
	autoRefresh *jwk.AutoRefresh
	jwksURL     string
}

// NewTokenVerifier fetches the initial key set eagerly so a misconfigured
// URL fails at startup instead of on the first login.
func NewTokenVerifier(ctx context.Context, jwksURL string) (*TokenVerifier, error) {
	refreshInterval := 5 * time.Minute

	ar := jwk.NewAutoRefresh(ctx)
	ar.Configure(jwksURL, jwk.WithRefreshInterval(refreshInterval))

	if _, err := ar.Fetch(ctx, jwksURL); err != nil {
		slog.ErrorContext(ctx, "failed to fetch initial JWK set", "url", jwksURL, "err", err)
		return nil, ErrFetchJWKSet
	}

	return &TokenVerifier{autoRefresh: ar, jwksURL: jwksURL}, nil
}

// Verify parses and validates tokenString, returning its claims.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		keyID, ok := token.Header["kid"].(string)
		if !ok {
			return nil, ErrMissingKeyID
		}

		// Fetch the key set from the auto-refreshing cache.
		keySet, err := v.autoRefresh.Fetch(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchJWKSet, err)
		}

		key, found := keySet.LookupKeyID(keyID)
		if !found {
			// jwx will try to refresh the key set in the background.
			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, ErrFailedToGetKey
		}
		return pubKey, nil
	})
	if err != nil {
		slog.Debug("token validation failed", "err", err)
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// unverifiedClaims reads a token's claims without checking the signature.
// Used only when no JWKS endpoint is configured; the upstream API still
// rejects tampered tokens on every proxied call.
func unverifiedClaims(tokenString string) jwt.MapClaims {
	parser := jwt.Parser{}
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return claims
}

// roleFromClaims accepts the role under either of the upstream's spellings.
func roleFromClaims(claims jwt.MapClaims) string {
	if claims == nil {
		return ""
	}
	for _, key := range []string{"ruolo", "role"} {
		if role, ok := claims[key].(string); ok {
			return role
		}
	}
	return ""
}
