package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/propfirmflow/propfirmflow-api/pkg/clients/postgres"
	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// identitySchema creates the directory table. The partial unique index
// on email lets records without a known email coexist while still
// preventing two records from claiming the same address.
const identitySchema = `
CREATE TABLE IF NOT EXISTS identities (
    id           UUID PRIMARY KEY,
    external_id  TEXT NOT NULL,
    email        TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url   TEXT NOT NULL DEFAULT '',
    role         TEXT NOT NULL DEFAULT 'user',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS identities_external_id_key ON identities (external_id);
CREATE UNIQUE INDEX IF NOT EXISTS identities_email_key ON identities (email) WHERE email <> '';
`

const identityColumns = "id, external_id, email, display_name, avatar_url, role, created_at, updated_at"

// PostgresStore is the PostgreSQL-backed [Store].
type PostgresStore struct {
	db *postgres.Client
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on top of the shared database client.
func NewPostgresStore(db *postgres.Client) (*PostgresStore, error) {
	if db == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "identity: store database client must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the identities table and indexes if missing.
// Called once at startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, identitySchema); err != nil {
		return pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: failed to ensure schema")
	}
	return nil
}

// FindByExternalID returns the record for the provider subject.
func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE external_id = $1",
		externalID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pferr.NotFoundf("identity: no record for external ID %q", externalID)
		}
		return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: find by external ID failed")
	}
	return rec, nil
}

// Create inserts a new record. The ID is assigned here; timestamps come
// from the database so concurrent writers agree on ordering.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) (*Record, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO identities (id, external_id, email, display_name, avatar_url, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+identityColumns,
		uuid.New(), rec.ExternalID, rec.Email, rec.DisplayName, rec.AvatarURL, string(rec.Role))

	created, err := scanRecord(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, pferr.Wrap(err, pferr.CodeConflictDuplicate,
				"identity: record already exists")
		}
		return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: create failed")
	}
	return created, nil
}

// Update rewrites the role and profile fields for the record with the
// given external ID.
func (s *PostgresStore) Update(ctx context.Context, rec *Record) (*Record, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE identities
		 SET role = $2, email = $3, display_name = $4, avatar_url = $5, updated_at = now()
		 WHERE external_id = $1
		 RETURNING `+identityColumns,
		rec.ExternalID, string(rec.Role), rec.Email, rec.DisplayName, rec.AvatarURL)

	updated, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pferr.NotFoundf("identity: no record for external ID %q", rec.ExternalID)
		}
		return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: update failed")
	}
	return updated, nil
}

// ListAll returns every record, newest first.
func (s *PostgresStore) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+identityColumns+" FROM identities ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: list scan failed")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pferr.Wrap(err, pferr.CodeInternalDatabase, "identity: list failed")
	}
	return records, nil
}

// scanRecord reads one identity row.
func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var role string
	err := row.Scan(&rec.ID, &rec.ExternalID, &rec.Email, &rec.DisplayName,
		&rec.AvatarURL, &role, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Role = Role(role)
	return &rec, nil
}
