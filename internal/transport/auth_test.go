package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

const testSecretEnv = "PORTICO_TEST_JWT_SECRET"

func rsaJWK(t *testing.T, kid string) (*rsa.PrivateKey, map[string]any) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return key, map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func ecJWK(t *testing.T, kid string) (*ecdsa.PrivateKey, map[string]any) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey: %v", err)
	}
	return key, map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(key.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(key.Y.Bytes()),
	}
}

// jwksServer serves keys and counts fetches.
func jwksServer(t *testing.T, fetches *atomic.Int32, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sign(t *testing.T, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func identityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://id.example.org",
		Audience:   "portico-bff",
		Algorithms: []string{"RS256", "ES256"},
		ClaimPaths: map[string]string{
			"subject":  "sub",
			"username": "username",
			"language": "locale.language",
		},
	}
}

func adminClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":      "5f0c",
		"username": "admin",
		"locale":   map[string]any{"language": "fr"},
		"iss":      "https://id.example.org",
		"aud":      "portico-bff",
		"iat":      jwt.NewNumericDate(now),
		"exp":      jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

// authenticate runs one request through JWTAuthenticator and returns the
// recorder plus the raw token the next handler saw.
func authenticate(t *testing.T, cfg config.IdentityConfig, jwks *JWKSClient, prepare func(*http.Request)) (*httptest.ResponseRecorder, string) {
	t.Helper()
	kf, err := KeyFunc(cfg, jwks)
	if err != nil {
		t.Fatalf("KeyFunc: %v", err)
	}
	var seen string
	h := JWTAuthenticator(cfg, kf)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TokenFrom(r.Context())
		if ClaimsFrom(r.Context()) == nil {
			t.Error("claims missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/ui/roles", nil)
	prepare(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func errorCodeAndMessage(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code, body.Error.Message
}

func TestJWKSClient_keyTypes(t *testing.T) {
	rsaKey, rsaDoc := rsaJWK(t, "r1")
	ecKey, ecDoc := ecJWK(t, "e1")
	client := NewJWKSClient(jwksServer(t, nil, rsaDoc, ecDoc).URL, time.Hour)

	got, err := client.GetKey("r1")
	if err != nil {
		t.Fatalf("GetKey(r1): %v", err)
	}
	if pub, ok := got.(*rsa.PublicKey); !ok || pub.N.Cmp(rsaKey.N) != 0 {
		t.Errorf("GetKey(r1) = %T, want the RSA public key", got)
	}

	got, err = client.GetKey("e1")
	if err != nil {
		t.Fatalf("GetKey(e1): %v", err)
	}
	if pub, ok := got.(*ecdsa.PublicKey); !ok || pub.X.Cmp(ecKey.X) != 0 {
		t.Errorf("GetKey(e1) = %T, want the EC public key", got)
	}

	if _, err := client.GetKey("missing"); err == nil {
		t.Error("GetKey(missing) should fail")
	}
}

func TestJWKSClient_cachesKeys(t *testing.T) {
	var fetches atomic.Int32
	_, doc := rsaJWK(t, "r1")
	client := NewJWKSClient(jwksServer(t, &fetches, doc).URL, time.Hour)
	client.minRefresh = 0

	for i := 0; i < 3; i++ {
		if _, err := client.GetKey("r1"); err != nil {
			t.Fatalf("GetKey: %v", err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}
}

func TestJWTAuthenticator_jwks(t *testing.T) {
	rsaKey, rsaDoc := rsaJWK(t, "r1")
	ecKey, ecDoc := ecJWK(t, "e1")
	jwks := NewJWKSClient(jwksServer(t, nil, rsaDoc, ecDoc).URL, time.Hour)

	withClaims := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := adminClaims()
		mutate(c)
		return c
	}

	tests := []struct {
		name    string
		header  func(t *testing.T) string
		status  int
		message string
	}{
		{
			name:   "rs256",
			header: func(t *testing.T) string { return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", adminClaims()) },
			status: http.StatusNoContent,
		},
		{
			name:   "es256",
			header: func(t *testing.T) string { return "Bearer " + sign(t, jwt.SigningMethodES256, ecKey, "e1", adminClaims()) },
			status: http.StatusNoContent,
		},
		{
			name: "expired within leeway",
			header: func(t *testing.T) string {
				c := withClaims(func(c jwt.MapClaims) { c["exp"] = jwt.NewNumericDate(time.Now().Add(-10 * time.Second)) })
				return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", c)
			},
			status: http.StatusNoContent,
		},
		{
			name:    "no header",
			header:  func(*testing.T) string { return "" },
			status:  http.StatusUnauthorized,
			message: "Missing authorization header",
		},
		{
			name:    "basic scheme",
			header:  func(*testing.T) string { return "Basic YWRtaW46YWRtaW4=" },
			status:  http.StatusUnauthorized,
			message: "Invalid authorization header format",
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				c := withClaims(func(c jwt.MapClaims) { c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour)) })
				return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", c)
			},
			status:  http.StatusUnauthorized,
			message: "Token expired",
		},
		{
			name: "foreign issuer",
			header: func(t *testing.T) string {
				c := withClaims(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.org" })
				return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", c)
			},
			status:  http.StatusUnauthorized,
			message: "Invalid token issuer",
		},
		{
			name: "other audience",
			header: func(t *testing.T) string {
				c := withClaims(func(c jwt.MapClaims) { c["aud"] = "reporting" })
				return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", c)
			},
			status:  http.StatusUnauthorized,
			message: "Invalid token audience",
		},
		{
			name: "no exp",
			header: func(t *testing.T) string {
				c := withClaims(func(c jwt.MapClaims) { delete(c, "exp") })
				return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "r1", c)
			},
			status: http.StatusUnauthorized,
		},
		{
			name:   "hs256 not allowed",
			header: func(t *testing.T) string { return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("k"), "r1", adminClaims()) },
			status: http.StatusUnauthorized,
		},
		{
			name:    "unknown kid",
			header:  func(t *testing.T) string { return "Bearer " + sign(t, jwt.SigningMethodRS256, rsaKey, "rotated", adminClaims()) },
			status:  http.StatusUnauthorized,
			message: "Unknown signing key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header(t)
			rec, _ := authenticate(t, identityConfig(), jwks, func(r *http.Request) {
				if header != "" {
					r.Header.Set("Authorization", header)
				}
			})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusUnauthorized {
				return
			}
			code, msg := errorCodeAndMessage(t, rec)
			if code != model.ErrUnauthorized {
				t.Errorf("code = %q, want %q", code, model.ErrUnauthorized)
			}
			if tt.message != "" && msg != tt.message {
				t.Errorf("message = %q, want %q", msg, tt.message)
			}
		})
	}
}

func TestJWTAuthenticator_hmacSecret(t *testing.T) {
	t.Setenv(testSecretEnv, "s3cret")
	cfg := identityConfig()
	cfg.Algorithms = []string{"HS256"}
	cfg.HMACSecretEnv = testSecretEnv

	good := sign(t, jwt.SigningMethodHS256, []byte("s3cret"), "", adminClaims())
	rec, seen := authenticate(t, cfg, nil, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) })
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if seen != good {
		t.Error("raw token not kept in context")
	}

	forged := sign(t, jwt.SigningMethodHS256, []byte("guess"), "", adminClaims())
	rec, _ = authenticate(t, cfg, nil, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+forged) })
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: status = %d, want 401", rec.Code)
	}
}

func TestJWTAuthenticator_tokenCookie(t *testing.T) {
	t.Setenv(testSecretEnv, "s3cret")
	cfg := identityConfig()
	cfg.Algorithms = []string{"HS256"}
	cfg.HMACSecretEnv = testSecretEnv

	tok := sign(t, jwt.SigningMethodHS256, []byte("s3cret"), "", adminClaims())
	rec, seen := authenticate(t, cfg, nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: TokenCookie, Value: tok})
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if seen != tok {
		t.Error("cookie token not forwarded")
	}
}

func TestKeyFunc_requiresKeySource(t *testing.T) {
	t.Setenv(testSecretEnv, "")
	cfg := identityConfig()
	cfg.HMACSecretEnv = testSecretEnv
	if _, err := KeyFunc(cfg, nil); err == nil {
		t.Error("empty secret should be rejected")
	}
	cfg.HMACSecretEnv = ""
	if _, err := KeyFunc(cfg, nil); err == nil {
		t.Error("missing JWKS client should be rejected")
	}
}

func TestExtractClaimString(t *testing.T) {
	claims := map[string]any{
		"sub":    "5f0c",
		"locale": map[string]any{"language": "fr"},
		"uid":    float64(42),
	}
	tests := []struct {
		path string
		want string
	}{
		{"sub", "5f0c"},
		{"locale.language", "fr"},
		{"uid", "42"},
		{"locale.region", ""},
		{"missing.path", ""},
	}
	for _, tt := range tests {
		if got := extractClaimString(claims, tt.path); got != tt.want {
			t.Errorf("extractClaimString(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if got := extractClaimString(nil, "sub"); got != "" {
		t.Errorf("nil claims = %q, want empty", got)
	}
}
