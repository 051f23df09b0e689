package domain

import (
	"context"

	"github.com/google/uuid"
)

// correlationKey is a context key type for the correlation id.
type correlationKey struct{}

// ContextWithCorrelationID returns a context carrying the correlation id.
// One id is generated per logical operation (an inbound request, a rotation
// run) and propagated to every audit event that operation produces.
func ContextWithCorrelationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id from the context,
// minting a fresh one when absent so no event is ever uncorrelated.
func CorrelationIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(correlationKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Must(uuid.NewV7())
}
