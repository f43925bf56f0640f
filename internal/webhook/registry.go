package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// Registry manages the endpoints a business subscribes with.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store, opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{store: store, logger: o.logger, now: o.now}
}

// Register validates url, generates a signing secret and stores the endpoint.
// The secret is returned here and never again.
func (r *Registry) Register(ctx context.Context, ownerID uuid.UUID, url string) (*Registration, error) {
	if err := ValidateURL(url); err != nil {
		return nil, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	e := &Endpoint{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		URL:       url,
		Secret:    secret,
		IsActive:  true,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}
	if err := r.store.CreateEndpoint(ctx, e); err != nil {
		return nil, err
	}
	r.logger.Info("webhook endpoint registered", "endpoint_id", e.ID, "owner_id", ownerID)
	return &Registration{Endpoint: e, Secret: secret}, nil
}

// List returns the owner's active endpoints, newest first.
func (r *Registry) List(ctx context.Context, ownerID uuid.UUID) ([]*Endpoint, error) {
	return r.store.ActiveEndpoints(ctx, ownerID)
}

// Deactivate soft-deletes an endpoint. Past events stay queryable.
func (r *Registry) Deactivate(ctx context.Context, ownerID, id uuid.UUID) error {
	if err := r.store.DeactivateEndpoint(ctx, ownerID, id); err != nil {
		return err
	}
	r.logger.Info("webhook endpoint deactivated", "endpoint_id", id, "owner_id", ownerID)
	return nil
}

// Events returns delivery history for one of the owner's endpoints.
func (r *Registry) Events(ctx context.Context, ownerID, endpointID uuid.UUID, limit int) ([]*Event, error) {
	if _, err := r.store.Endpoint(ctx, ownerID, endpointID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultEventLimit
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}
	return r.store.Events(ctx, endpointID, limit)
}
