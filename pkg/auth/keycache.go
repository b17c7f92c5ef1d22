// Package auth implements bearer token authentication for the
// PropFirmFlow API: JWKS key management, RS256 token verification,
// claims extraction, role resolution, and the HTTP middleware that ties
// them to the identity store.
//
// The verification pipeline runs on every authenticated request:
//
//	bearer token -> Verifier -> Extractor -> ResolveRole -> identity.Service.Sync
//
// Every failure in the pipeline surfaces to the client as the same
// generic 401 response. The precise rejection reason is carried in the
// error code and logged server-side only, so probes cannot distinguish
// a bad signature from an expired token.
package auth

import (
	"context"
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for auth spans.
const tracerName = "github.com/propfirmflow/propfirmflow-api/pkg/auth"

// maxJWKSResponseSize bounds the JWKS response body (1 MB).
const maxJWKSResponseSize = 1 << 20

// errRefreshSuppressed marks a refresh skipped by the rate gate, as
// opposed to a fetch that ran and failed.
var errRefreshSuppressed = errors.New("auth: jwks refresh suppressed by rate gate")

const (
	// DefaultMaxRefreshesPerMinute bounds outbound JWKS fetches. A flood
	// of tokens with unknown key IDs must not turn the API into a
	// request amplifier against the identity provider.
	DefaultMaxRefreshesPerMinute = 5

	// DefaultKeyTTL is how long a fetched key set is considered fresh.
	// Stale keys are still served when a refresh fails or is suppressed,
	// since a signing key rarely rotates out mid-lifetime.
	DefaultKeyTTL = time.Hour
)

// HTTPClient abstracts the HTTP client used for JWKS fetches so tests
// can inject an httptest server client. The standard [http.Client]
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyCacheConfig configures a [KeyCache].
type KeyCacheConfig struct {
	// JWKSURL is the key set endpoint, typically
	// "https://<domain>/.well-known/jwks.json".
	JWKSURL string

	// MaxRefreshesPerMinute bounds fetch attempts.
	// Defaults to [DefaultMaxRefreshesPerMinute].
	MaxRefreshesPerMinute int

	// KeyTTL is the freshness window for a fetched key set.
	// Defaults to [DefaultKeyTTL].
	KeyTTL time.Duration

	// HTTPClient performs the fetches. Defaults to an [http.Client]
	// with a 10 second timeout.
	HTTPClient HTTPClient

	// Logger receives refresh failures. Defaults to [slog.Default].
	Logger *slog.Logger
}

// KeyCache caches RSA public keys from a JWKS endpoint, keyed by key ID.
//
// Refreshes are collapsed through singleflight so a burst of cache
// misses produces one upstream fetch, and attempts are spaced by a
// minimum interval derived from MaxRefreshesPerMinute. When a refresh
// fails or is suppressed, previously fetched keys keep being served.
//
// KeyCache is safe for concurrent use.
type KeyCache struct {
	url         string
	client      HTTPClient
	logger      *slog.Logger
	tracer      trace.Tracer
	ttl         time.Duration
	minInterval time.Duration
	group       singleflight.Group
	now         func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewKeyCache creates a KeyCache. The first fetch happens lazily on the
// first [KeyCache.Key] call.
func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	if cfg.JWKSURL == "" {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: key cache JWKS URL must not be empty")
	}
	if cfg.MaxRefreshesPerMinute < 0 {
		return nil, pferr.New(pferr.CodeValidation, "auth: key cache max refreshes per minute must not be negative")
	}
	if cfg.MaxRefreshesPerMinute == 0 {
		cfg.MaxRefreshesPerMinute = DefaultMaxRefreshesPerMinute
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultKeyTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &KeyCache{
		url:         cfg.JWKSURL,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(tracerName),
		ttl:         cfg.KeyTTL,
		minInterval: time.Minute / time.Duration(cfg.MaxRefreshesPerMinute),
		now:         time.Now,
		keys:        make(map[string]*rsa.PublicKey),
	}, nil
}

// Key returns the RSA public key for the given key ID.
//
// A fresh cached key is returned immediately. An unknown key ID or a
// stale cache triggers a refresh, subject to the rate gate; concurrent
// misses share a single fetch. If the refresh fails or is suppressed, a
// stale key is served when one exists, otherwise the error carries
// [pferr.CodeAuthKeyFetch].
func (c *KeyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ctx, span := c.tracer.Start(ctx, "auth.KeyCache.Key")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks.kid", kid))

	if kid == "" {
		return nil, pferr.New(pferr.CodeAuthKeyFetch, "auth: token header missing kid")
	}

	c.mu.RLock()
	key, known := c.keys[kid]
	fresh := c.now().Sub(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if known && fresh {
		span.SetAttributes(attribute.Bool("auth.jwks.cache_hit", true))
		return key, nil
	}
	span.SetAttributes(attribute.Bool("auth.jwks.cache_hit", false))

	// Concurrent misses join one in-flight fetch. The rate gate sits
	// inside the singleflight function so joining callers are not
	// counted as separate refresh attempts.
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		if !c.allowRefresh() {
			return nil, errRefreshSuppressed
		}
		return nil, c.refresh(ctx)
	})
	if err != nil {
		if errors.Is(err, errRefreshSuppressed) {
			if known {
				return key, nil
			}
			return nil, pferr.Newf(pferr.CodeAuthKeyFetch,
				"auth: signing key %q not cached and refresh suppressed", kid)
		}
		if known {
			c.logger.Warn("jwks refresh failed, serving stale key",
				"kid", kid, "error", err)
			return key, nil
		}
		return nil, pferr.Wrap(err, pferr.CodeAuthKeyFetch, "auth: JWKS fetch failed")
	}

	c.mu.RLock()
	key, known = c.keys[kid]
	c.mu.RUnlock()
	if !known {
		return nil, pferr.Newf(pferr.CodeAuthKeyFetch,
			"auth: signing key %q not present in JWKS", kid)
	}
	return key, nil
}

// allowRefresh enforces the minimum interval between fetch attempts.
// The attempt is recorded before the fetch runs so failed fetches count
// against the budget too.
func (c *KeyCache) allowRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.minInterval {
		return false
	}
	c.lastAttempt = now
	return true
}

// refresh fetches the JWKS and replaces the cached key set.
func (c *KeyCache) refresh(ctx context.Context) error {
	keys, err := c.fetchJWKS(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

// jwksResponse is the JSON shape of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey is a single key entry. Only RSA fields are retained because the
// verifier accepts RS256 exclusively.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchJWKS retrieves and parses the key set. Non-RSA and malformed
// entries are skipped rather than failing the whole set.
func (c *KeyCache) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" || k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			c.logger.Warn("skipping malformed JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
