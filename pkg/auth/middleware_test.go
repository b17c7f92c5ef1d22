package auth

import (
	"context"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
)

// stubSynchronizer records the last resolved identity and returns a
// canned record or error.
type stubSynchronizer struct {
	calls int
	last  identity.Resolved
	err   error
}

func (s *stubSynchronizer) Sync(_ context.Context, resolved identity.Resolved) (*identity.Record, error) {
	s.calls++
	s.last = resolved
	if s.err != nil {
		return nil, s.err
	}
	return &identity.Record{
		ID:          uuid.New(),
		ExternalID:  resolved.ExternalID,
		Email:       resolved.Email,
		DisplayName: resolved.DisplayName,
		AvatarURL:   resolved.AvatarURL,
		Role:        resolved.Role,
	}, nil
}

type middlewareFixture struct {
	handler *httptest.Server
	sync    *stubSynchronizer
	sign    func(overrides jwt.MapClaims) string

	// lastRecord captures the record the inner handler saw.
	lastRecord *identity.Record
}

func newMiddlewareFixture(t *testing.T, cfg MiddlewareConfig) *middlewareFixture {
	t.Helper()

	key := newRSAKey(t)
	verifier := newTestVerifier(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey})

	extractor, err := NewExtractor(testNamespace)
	require.NoError(t, err)

	fx := &middlewareFixture{sync: &stubSynchronizer{}}
	cfg.Verifier = verifier
	cfg.Extractor = extractor
	cfg.Synchronizer = fx.sync

	mw, err := Middleware(cfg)
	require.NoError(t, err)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.lastRecord, _ = RecordFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	fx.handler = httptest.NewServer(mw(inner))
	t.Cleanup(fx.handler.Close)

	fx.sign = func(overrides jwt.MapClaims) string {
		return signToken(t, key, "key-1", overrides)
	}
	return fx
}

func (fx *middlewareFixture) get(t *testing.T, path, authHeader string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, fx.handler.URL+path, nil)
	require.NoError(t, err)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := fx.handler.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMiddlewareExemptPathBypassesAuthentication(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{
		ExemptPaths: []string{"/api/health", "/api/newsletter/subscribe"},
	})

	resp := fx.get(t, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, fx.sync.calls)
	assert.Nil(t, fx.lastRecord)
}

func TestMiddlewareExemptMatchIsExact(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{
		ExemptPaths: []string{"/api/health"},
	})

	resp := fx.get(t, "/api/health/deep", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddlewareAuthenticatesAndBindsRecord(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{
		AdminEmails: []string{"boss@propfirmflow.test"},
	})

	token := fx.sign(jwt.MapClaims{
		testNamespace + "/email": "Boss@PropFirmFlow.Test",
		testNamespace + "/name":  "The Boss",
	})
	resp := fx.get(t, "/api/auth/profile", "Bearer "+token)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, fx.lastRecord)
	assert.Equal(t, "auth0|user-123", fx.lastRecord.ExternalID)
	assert.Equal(t, identity.RoleAdmin, fx.lastRecord.Role)
	assert.Equal(t, 1, fx.sync.calls)
	assert.Equal(t, "boss@propfirmflow.test", fx.sync.last.Email)
}

func TestMiddlewareRejectionsAreUniform(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{})

	const wantBody = `{"error":"authentication required"}`

	tests := []struct {
		name   string
		header func() string
	}{
		{"missing header", func() string { return "" }},
		{"non-bearer scheme", func() string { return "Basic dXNlcjpwYXNz" }},
		{"garbage token", func() string { return "Bearer not.a.jwt" }},
		{"expired token", func() string {
			return "Bearer " + fx.sign(jwt.MapClaims{"exp": float64(1)})
		}},
		{"wrong issuer", func() string {
			return "Bearer " + fx.sign(jwt.MapClaims{"iss": "https://evil.test/"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := fx.get(t, "/api/auth/profile", tt.header())
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, wantBody, readBody(t, resp))
		})
	}
}

func TestMiddlewareSyncFailureRejects(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{})
	fx.sync.err = pferr.Internal("identity: create failed")

	resp := fx.get(t, "/api/auth/profile", "Bearer "+fx.sign(nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `{"error":"authentication required"}`, readBody(t, resp))
}

func TestMiddlewareValidation(t *testing.T) {
	t.Parallel()

	_, err := Middleware(MiddlewareConfig{})
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := RequireAdmin(inner)

	t.Run("no record", func(t *testing.T) {
		t.Parallel()

		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/all", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("plain user", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/api/auth/all", nil)
		ctx := ContextWithRecord(req.Context(), &identity.Record{Role: identity.RoleUser})
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"error":"forbidden"}`, rr.Body.String())
	})

	t.Run("admin", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/api/auth/all", nil)
		ctx := ContextWithRecord(req.Context(), &identity.Record{Role: identity.RoleAdmin})
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"uppercase scheme", "BEARER abc", "abc"},
		{"padded token", "Bearer   abc  ", "abc"},
		{"wrong scheme", "Basic abc", ""},
		{"scheme only", "Bearer ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractBearerToken(tt.header))
		})
	}
}

func TestMiddlewareGenericRoleClaimsStayUser(t *testing.T) {
	t.Parallel()

	fx := newMiddlewareFixture(t, MiddlewareConfig{})

	// Top-level roles and userType claims are not tenant-namespaced and
	// must not grant admin.
	token := fx.sign(jwt.MapClaims{
		"roles":    []any{"admin"},
		"userType": "admin",
	})
	resp := fx.get(t, "/api/auth/profile", "Bearer "+token)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, fx.lastRecord)
	assert.Equal(t, identity.RoleUser, fx.lastRecord.Role)
	assert.Equal(t, identity.RoleUser, fx.sync.last.Role)
}
