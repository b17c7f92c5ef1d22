package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a bearer token string
// (8 KB). Larger tokens are rejected before any parsing.
const maxTokenSize = 8192

// DefaultClockSkew is the tolerated clock difference between this
// service and the identity provider when checking exp and nbf.
const DefaultClockSkew = 30 * time.Second

// VerifierConfig configures a [Verifier].
type VerifierConfig struct {
	// Domain is the identity provider tenant domain, e.g.
	// "propfirmflow.us.auth0.com". The expected issuer is
	// "https://<domain>/" and the JWKS endpoint is
	// "https://<domain>/.well-known/jwks.json".
	Domain string

	// Audience is the expected "aud" claim, the API identifier
	// registered with the provider.
	Audience string

	// ClockSkew is the exp/nbf leeway. Defaults to [DefaultClockSkew].
	ClockSkew time.Duration
}

// Validate checks the configuration.
func (c *VerifierConfig) Validate() error {
	if c.Domain == "" {
		return pferr.New(pferr.CodeValidationRequired, "auth: verifier domain must not be empty")
	}
	if strings.Contains(c.Domain, "://") {
		return pferr.New(pferr.CodeValidation, "auth: verifier domain must not include a scheme")
	}
	if c.Audience == "" {
		return pferr.New(pferr.CodeValidationRequired, "auth: verifier audience must not be empty")
	}
	if c.ClockSkew < 0 {
		return pferr.New(pferr.CodeValidation, "auth: verifier clock skew must not be negative")
	}
	return nil
}

// Issuer returns the expected "iss" claim. The provider issues tokens
// with a trailing slash on the issuer URL.
func (c *VerifierConfig) Issuer() string {
	return "https://" + c.Domain + "/"
}

// JWKSURL returns the provider's key set endpoint.
func (c *VerifierConfig) JWKSURL() string {
	return "https://" + c.Domain + "/.well-known/jwks.json"
}

// Verifier validates RS256 bearer tokens against the identity provider's
// published signing keys. It checks the signature, issuer, audience, and
// the exp/nbf window, and requires a non-empty subject.
//
// Verifier is safe for concurrent use.
type Verifier struct {
	config VerifierConfig
	keys   *KeyCache
	tracer trace.Tracer
}

// NewVerifier creates a Verifier backed by the given key cache.
func NewVerifier(cfg VerifierConfig, keys *KeyCache) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: verifier key cache must not be nil")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}

	return &Verifier{
		config: cfg,
		keys:   keys,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Verify validates a bearer token string and returns its claims.
//
// Every rejection carries one of the AUTH error codes so the middleware
// can log the precise reason while the client sees only a generic 401.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer span.End()

	if tokenStr == "" {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: token must not be empty"))
	}
	if len(tokenStr) > maxTokenSize {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: token exceeds maximum size"))
	}

	// Inspect the header before verification so alg confusion is caught
	// explicitly rather than relying on WithValidMethods alone.
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: token is malformed"))
	}
	if alg, _ := unverified.Header["alg"].(string); strings.EqualFold(alg, "none") {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: algorithm 'none' is not permitted"))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.config.Issuer()),
		jwt.WithAudience(v.config.Audience),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, spanErr(span, classifyJWTError(err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: unable to extract token claims"))
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, spanErr(span, pferr.New(pferr.CodeAuthMalformed, "auth: token missing subject claim"))
	}
	span.SetAttributes(attribute.String("auth.subject", sub))

	return claims, nil
}

// classifyJWTError maps golang-jwt sentinel errors to AUTH error codes.
// Errors that already carry a code (key fetch failures from the cache)
// pass through unchanged.
func classifyJWTError(err error) *pferr.Error {
	if err == nil {
		return nil
	}

	var coded *pferr.Error
	if errors.As(err, &coded) {
		return coded
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return pferr.Wrap(err, pferr.CodeAuthExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return pferr.Wrap(err, pferr.CodeAuthNotYetValid, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return pferr.Wrap(err, pferr.CodeAuthBadSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return pferr.Wrap(err, pferr.CodeAuthIssuerMismatch, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return pferr.Wrap(err, pferr.CodeAuthAudienceMismatch, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return pferr.Wrap(err, pferr.CodeAuthMalformed, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return pferr.Wrap(err, pferr.CodeAuthKeyFetch, "auth: token is unverifiable")
	default:
		return pferr.Wrap(err, pferr.CodeAuthentication, "auth: token validation failed")
	}
}

// spanErr records err on the span and returns it for one-line error paths.
func spanErr(span trace.Span, err *pferr.Error) *pferr.Error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
