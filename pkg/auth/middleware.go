package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
)

// bearerPrefix is the expected Authorization scheme prefix, compared
// case-insensitively.
const bearerPrefix = "Bearer "

// Synchronizer persists a resolved identity, creating or updating the
// local record as needed. Implemented by [identity.Service].
type Synchronizer interface {
	Sync(ctx context.Context, resolved identity.Resolved) (*identity.Record, error)
}

// MiddlewareConfig configures [Middleware].
type MiddlewareConfig struct {
	// Verifier validates bearer tokens.
	Verifier *Verifier

	// Extractor resolves identity claims from verified tokens.
	Extractor *Extractor

	// Synchronizer persists the identity on each authenticated request.
	Synchronizer Synchronizer

	// AdminEmails is the normalized admin allowlist.
	AdminEmails []string

	// ExemptPaths bypass authentication entirely. Matching is exact on
	// the request path, regardless of method.
	ExemptPaths []string

	// Logger receives the internal rejection reasons that are withheld
	// from clients. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Middleware returns the authentication middleware. For each
// non-exempt request it verifies the bearer token, extracts claims,
// resolves the role, synchronizes the identity record, and attaches the
// record to the request context.
//
// All failures produce the same generic 401 body. The concrete reason
// (expired, bad signature, issuer mismatch, sync failure) is logged with
// its error code but never sent to the client.
func Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Verifier == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: middleware verifier must not be nil")
	}
	if cfg.Extractor == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: middleware extractor must not be nil")
	}
	if cfg.Synchronizer == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: middleware synchronizer must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			token := ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				logRejection(ctx, cfg.Logger, r, pferr.New(pferr.CodeAuthentication,
					"auth: missing or non-bearer authorization header"))
				writeUnauthorized(w)
				return
			}

			claims, err := cfg.Verifier.Verify(ctx, token)
			if err != nil {
				logRejection(ctx, cfg.Logger, r, err)
				writeUnauthorized(w)
				return
			}

			resolved, err := cfg.Extractor.Extract(claims)
			if err != nil {
				logRejection(ctx, cfg.Logger, r, err)
				writeUnauthorized(w)
				return
			}

			role := ResolveRole(resolved, cfg.AdminEmails)

			rec, err := cfg.Synchronizer.Sync(ctx, identity.Resolved{
				ExternalID:  resolved.ExternalID,
				Email:       resolved.Email,
				DisplayName: resolved.DisplayName,
				AvatarURL:   resolved.AvatarURL,
				Role:        role,
			})
			if err != nil {
				logRejection(ctx, cfg.Logger, r, err)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithRecord(ctx, rec)))
		})
	}, nil
}

// RequireAdmin guards a handler behind the admin role. It must run
// inside [Middleware]; a request that reaches it without a bound record
// is rejected like any other authentication failure.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := RecordFromContext(r.Context())
		if !ok {
			writeUnauthorized(w)
			return
		}
		if rec.Role != identity.RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractBearerToken returns the token portion of an Authorization
// header value, or an empty string when the header does not carry a
// bearer token. The scheme comparison is case-insensitive.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// writeUnauthorized sends the single generic 401 body used for every
// authentication failure.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication required"}`))
}

// logRejection records the withheld rejection reason with its error
// code and trace correlation.
func logRejection(ctx context.Context, logger *slog.Logger, r *http.Request, err error) {
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"code", string(pferr.GetCode(err)),
		"error", err,
	}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	logger.WarnContext(ctx, "authentication rejected", attrs...)
}
