package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/modelvc/internal/domain"
)

func changesByEntity(changes []domain.EntityPendingChange) map[uuid.UUID]domain.EntityPendingChange {
	out := make(map[uuid.UUID]domain.EntityPendingChange, len(changes))
	for _, c := range changes {
		out[c.ResourceID] = c
	}
	return out
}

func TestGetChangedEntitiesClassifiesChanges(t *testing.T) {
	f := newFixture(t)
	unchanged := f.createEntity(t, "Stable")
	updated := f.createEntity(t, "Edited")
	removed := f.createEntity(t, "Removed")
	f.commit(t, "baseline")

	fresh := f.createEntity(t, "Fresh")
	f.addTextField(t, updated.ID, "reference")
	_, err := f.svc.DeleteEntity(f.ctx, removed.ID, f.user)
	require.NoError(t, err)

	changes, err := f.svc.GetChangedEntities(f.ctx, f.appID, f.user.ID)
	require.NoError(t, err)
	byID := changesByEntity(changes)
	require.Len(t, byID, 3)

	assert.Equal(t, domain.PendingChangeActionCreate, byID[fresh.ID].Action)
	assert.Equal(t, 1, byID[fresh.ID].VersionNumber)
	assert.Equal(t, domain.PendingChangeActionUpdate, byID[updated.ID].Action)
	assert.Equal(t, 2, byID[updated.ID].VersionNumber)
	assert.Equal(t, domain.PendingChangeActionDelete, byID[removed.ID].Action)
	assert.Equal(t, domain.PendingChangeResourceTypeEntity, byID[removed.ID].ResourceType)

	_, ok := byID[unchanged.ID]
	assert.False(t, ok)
}

func TestDeleteTakesPrecedenceOverUpdate(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")
	f.commit(t, "baseline")

	f.addTextField(t, e.ID, "reference")
	_, err := f.svc.DeleteEntity(f.ctx, e.ID, f.user)
	require.NoError(t, err)

	changes, err := f.svc.GetChangedEntities(f.ctx, f.appID, f.user.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.PendingChangeActionDelete, changes[0].Action)
}

func TestEntityDeletedBeforeFirstCommitHasNoChange(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")
	_, err := f.svc.DeleteEntity(f.ctx, e.ID, f.user)
	require.NoError(t, err)

	changes, err := f.svc.GetChangedEntities(f.ctx, f.appID, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)

	pending, err := f.svc.HasPendingChanges(f.ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestGetChangedEntitiesSkipsOtherUsersLocks(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")

	other := domain.User{ID: uuid.New()}
	changes, err := f.svc.GetChangedEntities(f.ctx, f.appID, other.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = f.svc.GetChangedEntities(f.ctx, f.appID, f.user.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, e.ID, changes[0].ResourceID)
	require.NotNil(t, changes[0].Resource.LockedByUser)
	assert.Equal(t, f.user.ID, changes[0].Resource.LockedByUser.ID)
}

func TestGetChangedEntitiesIsScopedToApp(t *testing.T) {
	f := newFixture(t)
	f.createEntity(t, "Order")
	_, err := f.svc.CreateEntity(f.ctx, CreateEntityInput{AppID: uuid.New(), Name: "Order"}, f.user)
	require.NoError(t, err)

	changes, err := f.svc.GetChangedEntities(f.ctx, f.appID, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestHasPendingChanges(t *testing.T) {
	f := newFixture(t)
	e := f.createEntity(t, "Order")

	pending, err := f.svc.HasPendingChanges(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, pending)

	f.commit(t, "baseline")
	pending, err = f.svc.HasPendingChanges(f.ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, pending)

	description := "Customer orders"
	_, err = f.svc.UpdateEntity(f.ctx, e.ID, UpdateEntityInput{Description: &description}, f.user)
	require.NoError(t, err)
	pending, err = f.svc.HasPendingChanges(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = f.svc.HasPendingChanges(f.ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetChangedEntitiesByCommit(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")
	invoice := f.createEntity(t, "Invoice")
	first := f.commit(t, "first")

	byID := changesByEntity(mustChangesByCommit(t, f, first.Commit.ID))
	require.Len(t, byID, 2)
	assert.Equal(t, domain.PendingChangeActionCreate, byID[order.ID].Action)
	assert.Equal(t, 1, byID[order.ID].VersionNumber)

	f.addTextField(t, order.ID, "reference")
	_, err := f.svc.DeleteEntity(f.ctx, invoice.ID, f.user)
	require.NoError(t, err)
	second := f.commit(t, "second")

	byID = changesByEntity(mustChangesByCommit(t, f, second.Commit.ID))
	require.Len(t, byID, 2)
	assert.Equal(t, domain.PendingChangeActionUpdate, byID[order.ID].Action)
	assert.Equal(t, 2, byID[order.ID].VersionNumber)
	assert.Equal(t, domain.PendingChangeActionDelete, byID[invoice.ID].Action)

	none := mustChangesByCommit(t, f, uuid.New())
	assert.Empty(t, none)
}

func mustChangesByCommit(t *testing.T, f *fixture, commitID uuid.UUID) []domain.EntityPendingChange {
	t.Helper()
	changes, err := f.svc.GetChangedEntitiesByCommit(f.ctx, commitID)
	require.NoError(t, err)
	return changes
}
