package auth

import (
	"strings"

	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
)

// adminMarker is the value that signals administrator status in both
// the role hint and the role list claims.
const adminMarker = "admin"

// ResolveRole computes the effective role for a set of resolved claims.
// It is pure: the result depends only on the inputs, never on stored
// state, so a claim or allowlist change takes effect on the next
// request in either direction, including downgrades.
//
// Three signals grant admin, checked in order:
//  1. the role hint claim equals "admin"
//  2. the role list claim contains "admin"
//  3. the email appears in the admin allowlist
//
// Anything else resolves to [identity.RoleUser].
func ResolveRole(rc ResolvedClaims, adminEmails []string) identity.Role {
	if strings.EqualFold(strings.TrimSpace(rc.RoleHint), adminMarker) {
		return identity.RoleAdmin
	}

	for _, role := range rc.Roles {
		if strings.EqualFold(strings.TrimSpace(role), adminMarker) {
			return identity.RoleAdmin
		}
	}

	if rc.Email != "" {
		for _, allowed := range adminEmails {
			if strings.EqualFold(strings.TrimSpace(allowed), rc.Email) {
				return identity.RoleAdmin
			}
		}
	}

	return identity.RoleUser
}

// ParseAdminEmails normalizes a comma-separated allowlist: entries are
// trimmed, lowercased, and empty entries dropped.
func ParseAdminEmails(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
