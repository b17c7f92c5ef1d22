// Package newsletter stores mailing-list subscriptions. Subscribing is
// public and idempotent at the API level: a repeated email surfaces as
// a duplicate conflict that the HTTP layer renders as 409.
package newsletter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/propfirmflow/propfirmflow-api/pkg/clients/postgres"
	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

const subscriberSchema = `
CREATE TABLE IF NOT EXISTS newsletter_subscribers (
    id         UUID PRIMARY KEY,
    email      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS newsletter_subscribers_email_key ON newsletter_subscribers (email);
`

// Subscriber is one mailing-list entry.
type Subscriber struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists subscribers in PostgreSQL.
type Store struct {
	db *postgres.Client
}

// NewStore creates a store on top of the shared database client.
func NewStore(db *postgres.Client) (*Store, error) {
	if db == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "newsletter: store database client must not be nil")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the subscribers table and index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, subscriberSchema); err != nil {
		return pferr.Wrap(err, pferr.CodeInternalDatabase, "newsletter: failed to ensure schema")
	}
	return nil
}

// Subscribe inserts the email, lower-cased, and returns the stored row.
// A repeated email yields an error with [pferr.CodeConflictDuplicate].
func (s *Store) Subscribe(ctx context.Context, email string) (*Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, pferr.New(pferr.CodeValidationRequired, "newsletter: email must not be empty")
	}
	if !strings.Contains(email, "@") {
		return nil, pferr.Newf(pferr.CodeValidation, "newsletter: %q is not a valid email address", email)
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO newsletter_subscribers (id, email)
		 VALUES ($1, $2)
		 RETURNING id, email, created_at`,
		uuid.New(), email)

	var sub Subscriber
	if err := row.Scan(&sub.ID, &sub.Email, &sub.CreatedAt); err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, pferr.Wrap(err, pferr.CodeConflictDuplicate,
				"newsletter: email already subscribed")
		}
		return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "newsletter: subscribe failed")
	}
	return &sub, nil
}

// Count returns the number of subscribers.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM newsletter_subscribers").Scan(&count)
	if err != nil {
		return 0, pferr.Wrap(err, pferr.CodeInternalDatabase, "newsletter: count failed")
	}
	return count, nil
}
