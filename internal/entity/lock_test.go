package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/modelvc/internal/domain"
)

func TestAcquireLockLastWriterWins(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return fixed }))
	e := f.createEntity(t, "Order")

	other := domain.User{ID: uuid.New()}
	locked, err := f.svc.AcquireLock(f.ctx, e.ID, other)
	require.NoError(t, err)
	require.NotNil(t, locked.LockedByUserID)
	assert.Equal(t, other.ID, *locked.LockedByUserID)
	require.NotNil(t, locked.LockedAt)
	assert.True(t, fixed.Equal(*locked.LockedAt))

	released, err := f.svc.ReleaseLock(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, released.LockedByUserID)
	assert.Nil(t, released.LockedAt)
}

func TestAcquireLockOnDeletedEntityFails(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")
	_, err := f.svc.DeleteEntity(f.ctx, e.ID, f.user)
	require.NoError(t, err)

	_, err = f.svc.AcquireLock(f.ctx, e.ID, f.user)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUseLockingReleasesOnError(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")
	boom := errors.New("boom")

	err := f.svc.useLocking(f.ctx, e.ID, f.user, func(locked domain.Entity) error {
		require.NotNil(t, locked.LockedByUserID)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, f.rawEntity(t, e.ID).LockedByUserID)
}

func TestUseLockingReleasesOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")
	ctx, cancel := context.WithCancel(f.ctx)

	err := f.svc.useLocking(ctx, e.ID, f.user, func(domain.Entity) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.rawEntity(t, e.ID).LockedByUserID)
}

func TestUseLockingReleasesOnPanic(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")

	assert.Panics(t, func() {
		_ = f.svc.useLocking(f.ctx, e.ID, f.user, func(domain.Entity) error {
			panic("unexpected")
		})
	})
	assert.Nil(t, f.rawEntity(t, e.ID).LockedByUserID)
}

func TestMutationByNonHolderIsNotRejected(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")

	other := domain.User{ID: uuid.New()}
	field, err := f.svc.CreateField(f.ctx, CreateFieldArgs{
		EntityID: e.ID,
		Field: FieldInput{
			Name:       "reference",
			DataType:   domain.DataTypeSingleLineText,
			Properties: map[string]any{"maxLength": 32},
		},
	}, other)
	require.NoError(t, err)
	assert.Equal(t, "reference", field.Name)
	assert.Nil(t, f.rawEntity(t, e.ID).LockedByUserID)
}
