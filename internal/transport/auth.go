package transport

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

// TokenCookie holds the access token when a request has no Authorization
// header; the backend's own pages authenticate this way.
const TokenCookie = "JWT"

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// KeyFunc returns the key lookup for cfg: a shared secret read from the
// HMACSecretEnv variable, or the token's kid resolved through jwks.
func KeyFunc(cfg config.IdentityConfig, jwks *JWKSClient) (jwt.Keyfunc, error) {
	switch {
	case cfg.HMACSecretEnv != "":
		secret := []byte(os.Getenv(cfg.HMACSecretEnv))
		if len(secret) == 0 {
			return nil, fmt.Errorf("identity: %s is empty", cfg.HMACSecretEnv)
		}
		return func(*jwt.Token) (any, error) { return secret, nil }, nil
	case jwks == nil:
		return nil, errors.New("identity: jwks client is required")
	}
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return jwks.GetKey(kid)
	}, nil
}

// JWTAuthenticator verifies the request token against cfg and keyFunc. The
// verified claims and the raw token are stored in the request context; the
// token is later forwarded to the backend.
func JWTAuthenticator(cfg config.IdentityConfig, keyFunc jwt.Keyfunc) func(http.Handler) http.Handler {
	parser := newParser(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := requestToken(r)
			if err != nil {
				WriteError(w, err)
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				WriteError(w, model.NewUnauthorizedError(describeTokenError(err)))
				return
			}

			ctx := withToken(WithClaims(r.Context(), claims), raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newParser(cfg config.IdentityConfig) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return jwt.NewParser(opts...)
}

func requestToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
			return c.Value, nil
		}
		return "", model.NewUnauthorizedError("Missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", model.NewUnauthorizedError("Invalid authorization header format")
	}
	return token, nil
}

var tokenErrors = []struct {
	err error
	msg string
}{
	{jwt.ErrTokenExpired, "Token expired"},
	{jwt.ErrTokenInvalidIssuer, "Invalid token issuer"},
	{jwt.ErrTokenInvalidAudience, "Invalid token audience"},
	{jwt.ErrTokenRequiredClaimMissing, "Token is missing a required claim"},
	{jwt.ErrTokenSignatureInvalid, "Invalid token signature"},
	{jwt.ErrTokenUnverifiable, "Unknown signing key"},
}

// describeTokenError turns a parser error into the message sent to the
// client. Key material and claim values are never echoed.
func describeTokenError(err error) string {
	for _, te := range tokenErrors {
		if errors.Is(err, te.err) {
			return te.msg
		}
	}
	return "Invalid token"
}
