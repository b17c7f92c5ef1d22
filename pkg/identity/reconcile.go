package identity

// Resolved is the per-request identity material produced by the
// authentication pipeline: verified claims plus the freshly computed
// role.
type Resolved struct {
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
	Role        Role
}

// Decision is the outcome of comparing a stored record against the
// resolved identity of the current request.
type Decision int

const (
	// DecisionNone leaves the stored record untouched.
	DecisionNone Decision = iota

	// DecisionCreate inserts a new record.
	DecisionCreate

	// DecisionUpdate rewrites the role and refreshes the profile fields.
	DecisionUpdate
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionUpdate:
		return "update"
	default:
		return "none"
	}
}

// Reconcile decides what to do with the stored record for the current
// request. It is pure; callers apply the decision against the store.
//
// The role is the only change trigger. When the resolved role differs
// from the stored one, the record is rewritten and the profile fields
// (email, display name, avatar) are refreshed along the way. When the
// role is unchanged, nothing is written at all: profile edits at the
// identity provider do not propagate until the next role transition.
// That keeps the steady-state request path read-only against the
// database, which is the trade this service makes deliberately.
func Reconcile(stored *Record, resolved Resolved) Decision {
	if stored == nil {
		return DecisionCreate
	}
	if stored.Role != resolved.Role {
		return DecisionUpdate
	}
	return DecisionNone
}
