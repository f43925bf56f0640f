package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists endpoints, delivery events and the notification outbox.
type Store interface {
	CreateEndpoint(ctx context.Context, e *Endpoint) error
	// Endpoint returns the endpoint whether or not it is still active.
	Endpoint(ctx context.Context, ownerID, id uuid.UUID) (*Endpoint, error)
	// ActiveEndpoints lists the owner's active endpoints, newest first.
	ActiveEndpoints(ctx context.Context, ownerID uuid.UUID) ([]*Endpoint, error)
	// DeactivateEndpoint soft-deletes an active endpoint.
	DeactivateEndpoint(ctx context.Context, ownerID, id uuid.UUID) error

	RecordEvent(ctx context.Context, ev *Event) error
	// Events returns the endpoint's delivery history, newest first.
	Events(ctx context.Context, endpointID uuid.UUID, limit int) ([]*Event, error)

	// ClaimDue leases up to limit unprocessed messages due at now. A leased
	// message is invisible to other claimers until lease expires.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*OutboxMessage, error)
	// ExtendLease moves the lease of an unprocessed message to until.
	ExtendLease(ctx context.Context, id uuid.UUID, until time.Time) error
	EnqueueRetry(ctx context.Context, m *OutboxMessage) error
	Complete(ctx context.Context, id uuid.UUID, lastError string, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error
}
