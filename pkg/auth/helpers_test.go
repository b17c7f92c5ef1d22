package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testDomain    = "propfirmflow.test"
	testIssuer    = "https://propfirmflow.test/"
	testAudience  = "https://api.propfirmflow.test"
	testNamespace = "https://app.propfirmflow.test"
)

// newRSAKey generates a test signing key. 1024 bits keeps the test
// suite fast; the verifier does not enforce a key size.
func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return key
}

// jwksDocument renders a JWKS JSON body for the given kid -> key map.
func jwksDocument(t *testing.T, keys map[string]*rsa.PublicKey) []byte {
	t.Helper()

	type jwk struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	doc := struct {
		Keys []jwk `json:"keys"`
	}{}
	for kid, key := range keys {
		doc.Keys = append(doc.Keys, jwk{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}

	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

// jwksServer serves a static JWKS document and counts fetches.
func jwksServer(t *testing.T, keys map[string]*rsa.PublicKey, hits *int) *httptest.Server {
	t.Helper()

	body := jwksDocument(t, keys)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// signToken mints an RS256 token with the given kid and claims. Claims
// default to a valid token for the test issuer and audience; callers
// override individual entries.
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, overrides jwt.MapClaims) string {
	t.Helper()

	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "auth0|user-123",
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range overrides {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// newTestVerifier wires a Verifier to a JWKS server holding the given
// keys.
func newTestVerifier(t *testing.T, keys map[string]*rsa.PublicKey) *Verifier {
	t.Helper()

	srv := jwksServer(t, keys, nil)
	cache, err := NewKeyCache(KeyCacheConfig{
		JWKSURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	verifier, err := NewVerifier(VerifierConfig{
		Domain:   testDomain,
		Audience: testAudience,
	}, cache)
	require.NoError(t, err)
	return verifier
}
