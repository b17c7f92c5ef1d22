package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// ResolvedClaims is the provider-independent identity material pulled
// out of a verified token. Every field except ExternalID may be empty;
// downstream code treats empty as absent.
type ResolvedClaims struct {
	// ExternalID is the provider subject ("sub"), the stable key used
	// to find or create the local identity record.
	ExternalID string

	// Email is the lowercased email address, when present.
	Email string

	// DisplayName is the human-readable name, when present.
	DisplayName string

	// AvatarURL is the profile picture URL, when present.
	AvatarURL string

	// Roles is the role list claim, when present.
	Roles []string

	// RoleHint is the provider-side role marker ("userType"), when
	// present. It takes precedence over Roles during role resolution.
	RoleHint string
}

// Extractor pulls identity claims from verified tokens. Providers that
// add custom claims to tokens must namespace them with a URL prefix, so
// each claim is looked up under the configured namespace first and under
// its bare generic name as a fallback.
type Extractor struct {
	// Namespace is the custom-claim prefix, e.g.
	// "https://app.propfirmflow.com". Claim keys become
	// "<namespace>/email", "<namespace>/roles", and so on.
	Namespace string
}

// NewExtractor creates an Extractor. A trailing slash on the namespace
// is trimmed so claim keys always join with exactly one slash.
func NewExtractor(namespace string) (*Extractor, error) {
	if namespace == "" {
		return nil, pferr.New(pferr.CodeValidationRequired, "auth: claim namespace must not be empty")
	}
	return &Extractor{Namespace: strings.TrimRight(namespace, "/")}, nil
}

// Extract resolves the generic identity fields from token claims.
//
// Lookup order per field, first non-empty wins:
//
//	email:       <ns>/email, email
//	displayName: <ns>/name, name, nickname, email (as last resort)
//	avatarUrl:   <ns>/picture, picture
//	roles:       <ns>/roles only
//	roleHint:    <ns>/userType only
//
// The role signals have no generic fallback: only the tenant writes
// namespaced claims, so a bare "roles" or "userType" claim from some
// other party in the token must never feed role resolution.
//
// The subject must be present; the verifier guarantees it for tokens it
// has accepted.
func (e *Extractor) Extract(claims jwt.MapClaims) (ResolvedClaims, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return ResolvedClaims{}, pferr.New(pferr.CodeAuthMalformed, "auth: claims missing subject")
	}

	email := strings.ToLower(e.stringClaim(claims, "email"))

	displayName := e.stringClaim(claims, "name")
	if displayName == "" {
		displayName, _ = claims["nickname"].(string)
	}
	if displayName == "" {
		displayName = email
	}

	return ResolvedClaims{
		ExternalID:  sub,
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   e.stringClaim(claims, "picture"),
		Roles:       e.namespacedSliceClaim(claims, "roles"),
		RoleHint:    e.namespacedStringClaim(claims, "userType"),
	}, nil
}

// stringClaim returns the namespaced claim when set, else the generic one.
func (e *Extractor) stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[e.Namespace+"/"+name].(string); ok && v != "" {
		return v
	}
	v, _ := claims[name].(string)
	return v
}

// namespacedStringClaim returns the namespaced claim only; the bare
// generic name is never consulted.
func (e *Extractor) namespacedStringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[e.Namespace+"/"+name].(string)
	return v
}

// namespacedSliceClaim returns the namespaced list claim only. JSON
// arrays decode as []any, so entries are filtered to strings;
// non-string entries are dropped.
func (e *Extractor) namespacedSliceClaim(claims jwt.MapClaims, name string) []string {
	raw, ok := claims[e.Namespace+"/"+name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
