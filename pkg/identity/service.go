package identity

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/propfirmflow/propfirmflow-api/pkg/identity"

// Store persists identity records. Implemented by [PostgresStore];
// tests substitute stubs.
type Store interface {
	// FindByExternalID returns the record for the provider subject, or
	// an error with [pferr.CodeNotFound] when absent.
	FindByExternalID(ctx context.Context, externalID string) (*Record, error)

	// Create inserts a new record and returns it with the
	// store-assigned timestamps. A concurrent insert for the same
	// subject yields an error with [pferr.CodeConflictDuplicate].
	Create(ctx context.Context, rec *Record) (*Record, error)

	// Update rewrites the role and profile fields of the record
	// identified by ExternalID and returns the updated row.
	Update(ctx context.Context, rec *Record) (*Record, error)

	// ListAll returns every record, newest first.
	ListAll(ctx context.Context) ([]Record, error)
}

// Service synchronizes resolved identities into the store. It is safe
// for concurrent use.
type Service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a Service. logger may be nil.
func NewService(store Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "identity: service store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Sync finds or creates the record for the resolved identity and
// applies the reconciliation decision. Two requests can race on the
// first appearance of a subject; the loser of the insert race retries
// as a fetch so both end up with the same single record.
func (s *Service) Sync(ctx context.Context, resolved Resolved) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("identity.external_id", resolved.ExternalID))

	if resolved.ExternalID == "" {
		return nil, pferr.New(pferr.CodeValidationRequired, "identity: resolved external ID must not be empty")
	}
	if !resolved.Role.Valid() {
		return nil, pferr.Newf(pferr.CodeValidation, "identity: resolved role %q is not valid", resolved.Role)
	}

	stored, err := s.store.FindByExternalID(ctx, resolved.ExternalID)
	if err != nil && !pferr.IsNotFound(err) {
		return nil, err
	}

	decision := Reconcile(stored, resolved)
	span.SetAttributes(attribute.String("identity.decision", decision.String()))

	switch decision {
	case DecisionCreate:
		created, err := s.store.Create(ctx, recordFromResolved(resolved))
		if err == nil {
			s.logger.InfoContext(ctx, "identity created",
				"external_id", resolved.ExternalID, "role", string(resolved.Role))
			return created, nil
		}
		if !pferr.IsConflict(err) {
			return nil, err
		}
		// Lost the first-seen race; the other request's insert won.
		stored, err = s.store.FindByExternalID(ctx, resolved.ExternalID)
		if err != nil {
			return nil, err
		}
		if Reconcile(stored, resolved) == DecisionUpdate {
			return s.update(ctx, stored, resolved)
		}
		return stored, nil

	case DecisionUpdate:
		return s.update(ctx, stored, resolved)

	default:
		return stored, nil
	}
}

// ListAll returns every directory record, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "identity.ListAll")
	defer span.End()

	return s.store.ListAll(ctx)
}

// update rewrites the role and refreshes the profile fields.
func (s *Service) update(ctx context.Context, stored *Record, resolved Resolved) (*Record, error) {
	next := *stored
	next.Role = resolved.Role
	next.Email = resolved.Email
	next.DisplayName = resolved.DisplayName
	next.AvatarURL = resolved.AvatarURL

	updated, err := s.store.Update(ctx, &next)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "identity role changed",
		"external_id", stored.ExternalID,
		"from", string(stored.Role),
		"to", string(resolved.Role))
	return updated, nil
}

// recordFromResolved builds a new record for first contact. The store
// assigns ID and timestamps.
func recordFromResolved(resolved Resolved) *Record {
	return &Record{
		ExternalID:  resolved.ExternalID,
		Email:       resolved.Email,
		DisplayName: resolved.DisplayName,
		AvatarURL:   resolved.AvatarURL,
		Role:        resolved.Role,
	}
}
