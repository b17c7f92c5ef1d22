package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
)

// contextKey is an unexported type for context keys in this package so
// they cannot collide with keys from other packages.
type contextKey int

// recordKey stores the authenticated identity record in the context.
const recordKey contextKey = iota

// ContextWithRecord returns a new context with the synchronized identity
// record attached. The middleware calls this after verification and
// sync; handlers read it back with [RecordFromContext].
func ContextWithRecord(ctx context.Context, rec *identity.Record) context.Context {
	return context.WithValue(ctx, recordKey, rec)
}

// RecordFromContext retrieves the authenticated identity record from the
// context. Returns nil and false when no record has been set, which on a
// protected route means the middleware is missing.
func RecordFromContext(ctx context.Context) (*identity.Record, bool) {
	rec, ok := ctx.Value(recordKey).(*identity.Record)
	return rec, ok && rec != nil
}

// MustRecordFromContext retrieves the identity record, panicking when
// absent. Use only on routes behind the authentication middleware.
func MustRecordFromContext(ctx context.Context) *identity.Record {
	rec, ok := RecordFromContext(ctx)
	if !ok {
		panic("auth: no identity record in context; ensure authentication middleware is configured")
	}
	return rec
}

// TraceIDFromContext extracts the OpenTelemetry trace ID as a hex
// string, for correlating authentication log lines with traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
