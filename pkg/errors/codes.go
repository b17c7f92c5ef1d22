package errors

// Code is a machine-readable error code following the pattern CATEGORY_XXX,
// where CATEGORY is a short identifier (VAL, AUTH, AUTHZ, ...) and XXX is a
// three-digit number. Codes are stable once assigned; clients and alerting
// rules may match on them.
type Code string

// Code categories and the HTTP status each maps to:
//
//	VAL_xxx     - validation failures (400 Bad Request)
//	AUTH_xxx    - authentication failures (401 Unauthorized)
//	AUTHZ_xxx   - authorization failures (403 Forbidden)
//	NF_xxx      - missing resources (404 Not Found)
//	CONF_xxx    - state conflicts (409 Conflict)
//	INT_xxx     - internal failures (500 Internal Server Error)
//	UNAVAIL_xxx - unavailable dependencies (503 Service Unavailable)
//	TIMEOUT_xxx - exceeded time limits (504 Gateway Timeout)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeAuthentication indicates a general authentication failure, used
	// when no more specific AUTH code applies.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthExpired indicates the token's expiry timestamp has passed.
	CodeAuthExpired Code = "AUTH_002"

	// CodeAuthMalformed indicates the token could not be parsed, or parsed
	// but lacks a subject claim.
	CodeAuthMalformed Code = "AUTH_003"

	// CodeAuthBadSignature indicates the token signature did not verify
	// against the provider's published keys.
	CodeAuthBadSignature Code = "AUTH_004"

	// CodeAuthNotYetValid indicates the token's not-before timestamp is in
	// the future.
	CodeAuthNotYetValid Code = "AUTH_005"

	// CodeAuthIssuerMismatch indicates the token's issuer claim does not
	// match the configured identity provider.
	CodeAuthIssuerMismatch Code = "AUTH_006"

	// CodeAuthAudienceMismatch indicates the token's audience claim does
	// not include the configured API identifier.
	CodeAuthAudienceMismatch Code = "AUTH_007"

	// CodeAuthKeyFetch indicates the provider's signing keys could not be
	// fetched and no previously fetched set was available.
	CodeAuthKeyFetch Code = "AUTH_008"

	// CodeAuthorization indicates the authenticated user lacks the role
	// required for the requested operation.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeNotFound indicates the requested resource does not exist.
	CodeNotFound Code = "NF_001"

	// CodeConflict indicates a general conflict with current state.
	CodeConflict Code = "CONF_001"

	// CodeConflictDuplicate indicates a uniqueness constraint was violated.
	CodeConflictDuplicate Code = "CONF_002"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates invalid or unloadable configuration.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependency (database, cache,
	// identity provider) is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the code (e.g. "AUTH", "CONF").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
