package webhook

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/business-ledger/internal/ledger"
)

func TestRegistryLifecycle(t *testing.T) {
	f := newFixture(t)
	clock := newManualClock()
	reg := NewRegistry(f.store, WithLogger(quietLogger), WithClock(clock.Now))

	first, err := reg.Register(f.ctx, f.owner, "https://example.com/one")
	require.NoError(t, err)
	assert.Len(t, first.Secret, 64)
	assert.Equal(t, first.Secret, first.Endpoint.Secret)
	assert.True(t, first.Endpoint.IsActive)

	clock.Advance(time.Second)
	second, err := reg.Register(f.ctx, f.owner, "https://example.com/two")
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	list, err := reg.List(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Endpoint.ID, list[0].ID)
	assert.Equal(t, first.Endpoint.ID, list[1].ID)

	others, err := reg.List(f.ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, reg.Deactivate(f.ctx, f.owner, first.Endpoint.ID))
	assert.ErrorIs(t, reg.Deactivate(f.ctx, f.owner, first.Endpoint.ID), ErrEndpointNotFound)
	assert.ErrorIs(t, reg.Deactivate(f.ctx, uuid.New(), second.Endpoint.ID), ErrEndpointNotFound)

	list, err = reg.List(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.Endpoint.ID, list[0].ID)

	// Soft-deleted endpoints keep their history reachable.
	_, err = reg.Events(f.ctx, f.owner, first.Endpoint.ID, 10)
	assert.NoError(t, err)
	_, err = reg.Events(f.ctx, uuid.New(), first.Endpoint.ID, 10)
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestRegistryRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	reg := NewRegistry(f.store, WithLogger(quietLogger))

	_, err := reg.Register(f.ctx, f.owner, "http://example.com/hook")
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)

	list, err := reg.List(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}
