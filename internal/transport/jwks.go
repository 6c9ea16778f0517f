package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// JWKSClient caches the identity provider's signing keys by kid. An unknown
// kid triggers a refetch, at most once per minRefresh, so rotated keys are
// picked up without letting forged kids hammer the provider.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	group      singleflight.Group

	mu      sync.RWMutex
	keys    map[string]crypto.PublicKey
	fetched time.Time
}

// NewJWKSClient returns a client for the key set at url, refetched after ttl.
func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		client:     &http.Client{Timeout: 10 * time.Second},
		keys:       map[string]crypto.PublicKey{},
	}
}

// GetKey returns the verification key for kid. When a refetch fails a
// previously cached key is still served.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	key, fresh := c.lookup(kid)
	if key != nil && fresh {
		return key, nil
	}

	_, err, _ := c.group.Do("refresh", func() (any, error) { return nil, c.refresh() })
	if err != nil {
		if key != nil {
			slog.Warn("jwks: refresh failed, serving cached key", "kid", kid, "error", err)
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	if key, _ = c.lookup(kid); key == nil {
		return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
	}
	return key, nil
}

// Name labels the key set in readiness reports.
func (c *JWKSClient) Name() string { return "jwks" }

// HealthCheck fails until at least one signing key has been fetched.
func (c *JWKSClient) HealthCheck(context.Context) error {
	c.mu.RLock()
	n := len(c.keys)
	c.mu.RUnlock()
	if n > 0 {
		return nil
	}

	if _, err, _ := c.group.Do("refresh", func() (any, error) { return nil, c.refresh() }); err != nil {
		return fmt.Errorf("jwks: fetch failed: %w", err)
	}
	c.mu.RLock()
	n = len(c.keys)
	c.mu.RUnlock()
	if n == 0 {
		return errors.New("jwks: key set has no usable keys")
	}
	return nil
}

func (c *JWKSClient) lookup(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], time.Since(c.fetched) <= c.ttl
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	recent := len(c.keys) > 0 && time.Since(c.fetched) < c.minRefresh
	c.mu.RUnlock()
	if recent {
		return nil
	}

	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			slog.Warn("jwks: skipping key", "kid", k.Kid, "error", err)
			continue
		}
		if pub != nil {
			keys[k.Kid] = pub
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetched = time.Now()
	c.mu.Unlock()
	return nil
}

// jwk is one entry of a key set. Only RSA and EC signing keys are used;
// other key types decode to nil.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

var curves = map[string]elliptic.Curve{
	"P-256": elliptic.P256(),
	"P-384": elliptic.P384(),
	"P-521": elliptic.P521(),
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N, "n")
		if err != nil {
			return nil, err
		}
		e, err := b64Int(k.E, "e")
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		curve, ok := curves[k.Crv]
		if !ok {
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X, "x")
		if err != nil {
			return nil, err
		}
		y, err := b64Int(k.Y, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, nil
	}
}

func b64Int(s, name string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}
