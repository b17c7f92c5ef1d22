package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

func newTestKeyCache(t *testing.T, url string, client HTTPClient) *KeyCache {
	t.Helper()

	cache, err := NewKeyCache(KeyCacheConfig{
		JWKSURL:    url,
		HTTPClient: client,
	})
	require.NoError(t, err)
	return cache
}

func TestNewKeyCacheValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKeyCache(KeyCacheConfig{})
	require.Error(t, err)
	assert.Equal(t, pferr.CodeValidationRequired, pferr.GetCode(err))

	_, err = NewKeyCache(KeyCacheConfig{JWKSURL: "https://x/jwks.json", MaxRefreshesPerMinute: -1})
	require.Error(t, err)
	assert.Equal(t, pferr.CodeValidation, pferr.GetCode(err))
}

func TestKeyCacheFetchesAndCaches(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	hits := 0
	srv := jwksServer(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}, &hits)

	cache := newTestKeyCache(t, srv.URL, srv.Client())

	got, err := cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Zero(t, key.PublicKey.N.Cmp(got.N))
	assert.Equal(t, 1, hits)

	// Second lookup is served from cache without another fetch.
	_, err = cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestKeyCacheEmptyKid(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	srv := jwksServer(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}, nil)
	cache := newTestKeyCache(t, srv.URL, srv.Client())

	_, err := cache.Key(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, pferr.CodeAuthKeyFetch, pferr.GetCode(err))
}

func TestKeyCacheUnknownKidAfterRefresh(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	hits := 0
	srv := jwksServer(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}, &hits)
	cache := newTestKeyCache(t, srv.URL, srv.Client())

	_, err := cache.Key(context.Background(), "rotated-away")
	require.Error(t, err)
	assert.Equal(t, pferr.CodeAuthKeyFetch, pferr.GetCode(err))
	assert.Equal(t, 1, hits)
}

func TestKeyCacheRateGate(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	hits := 0
	srv := jwksServer(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}, &hits)
	cache := newTestKeyCache(t, srv.URL, srv.Client())

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	// First miss fetches; the unknown kid stays unknown.
	_, err := cache.Key(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, 1, hits)

	// Within the minimum interval the refresh is suppressed.
	clock = clock.Add(time.Second)
	_, err = cache.Key(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, pferr.CodeAuthKeyFetch, pferr.GetCode(err))
	assert.Equal(t, 1, hits)

	// A fresh cached key is served without touching the gate.
	_, err = cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	// After the interval elapses the next miss may fetch again.
	clock = clock.Add(cache.minInterval)
	_, err = cache.Key(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, 2, hits)
}

func TestKeyCacheServesStaleOnFetchFailure(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	body := jwksDocument(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey})

	failing := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	cache := newTestKeyCache(t, srv.URL, srv.Client())
	clock := time.Now()
	cache.now = func() time.Time { return clock }

	_, err := cache.Key(context.Background(), "key-1")
	require.NoError(t, err)

	// Expire the cache, then break the endpoint. The stale key is
	// still served.
	clock = clock.Add(cache.ttl + time.Minute)
	failing = true

	got, err := cache.Key(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Zero(t, key.PublicKey.N.Cmp(got.N))

	// A kid the stale cache never held still fails.
	clock = clock.Add(cache.minInterval)
	_, err = cache.Key(context.Background(), "never-seen")
	require.Error(t, err)
	assert.Equal(t, pferr.CodeAuthKeyFetch, pferr.GetCode(err))
}

func TestKeyCacheConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	body := jwksDocument(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey})

	var mu sync.Mutex
	hits := 0
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		<-release
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	cache := newTestKeyCache(t, srv.URL, srv.Client())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Key(context.Background(), "key-1")
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight fetch, then
	// let the server respond.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
}

func TestKeyCacheSkipsNonRSAKeys(t *testing.T) {
	t.Parallel()

	key := newRSAKey(t)
	mixed, err := json.Marshal(map[string]any{
		"keys": []any{
			map[string]any{"kty": "EC", "kid": "ec-key", "crv": "P-256", "x": "AQ", "y": "AQ"},
			map[string]any{
				"kty": "RSA",
				"kid": "rsa-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			},
		},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(mixed)
	}))
	t.Cleanup(srv.Close)

	cache := newTestKeyCache(t, srv.URL, srv.Client())

	_, err = cache.Key(context.Background(), "rsa-key")
	require.NoError(t, err)

	clock := time.Now()
	cache.now = func() time.Time { return clock }
	clock = clock.Add(cache.minInterval + time.Second)

	_, err = cache.Key(context.Background(), "ec-key")
	require.Error(t, err)
	assert.Equal(t, pferr.CodeAuthKeyFetch, pferr.GetCode(err))
}
