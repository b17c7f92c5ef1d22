// Package identity manages the local directory records backing
// authenticated users: the Record model, the pure reconciliation rules
// that decide when a record changes, and the Service that applies them
// atomically against the store.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Role is the binary access level of an identity. The API distinguishes
// only regular users and administrators.
type Role string

const (
	// RoleUser is the default access level.
	RoleUser Role = "user"

	// RoleAdmin grants access to administrative endpoints.
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is a recognized value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Record is a directory entry for one authenticated person, keyed by
// the identity provider's subject.
type Record struct {
	// ID is the local primary key.
	ID uuid.UUID `json:"id"`

	// ExternalID is the provider subject ("sub"). Unique.
	ExternalID string `json:"externalId"`

	// Email is the lowercased email address. Unique when non-empty.
	Email string `json:"email"`

	// DisplayName is the human-readable name shown in the directory.
	DisplayName string `json:"displayName"`

	// AvatarURL is the profile picture URL.
	AvatarURL string `json:"avatarUrl,omitempty"`

	// Role is the current access level.
	Role Role `json:"role"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
