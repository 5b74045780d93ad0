package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/modelvc/internal/domain"
)

// runStoreSuite checks the behaviour every Store implementation must share.
// Each case scopes its rows to a fresh app id so stores can be reused.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	cases := []struct {
		name string
		run  func(t *testing.T, ctx context.Context, s Store)
	}{
		{"EntityNameUniquePerApp", testEntityNameUniquePerApp},
		{"EntityUpdateWritesNamesOnly", testEntityUpdateWritesNamesOnly},
		{"EntityListFilters", testEntityListFilters},
		{"EntityLock", testEntityLock},
		{"VersionOrdering", testVersionOrdering},
		{"FieldUniqueness", testFieldUniqueness},
		{"PermissionCascade", testPermissionCascade},
		{"FieldRoleLinks", testFieldRoleLinks},
		{"CommitRequiresUser", testCommitRequiresUser},
		{"UserEnsureIdempotent", testUserEnsureIdempotent},
		{"WithTxRollback", testWithTxRollback},
		{"LoadVersionsHydrates", testLoadVersionsHydrates},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, context.Background(), newStore(t))
		})
	}
}

func mustEntity(t *testing.T, ctx context.Context, s Store, appID uuid.UUID, name string) domain.Entity {
	t.Helper()
	e, err := s.Entities().Create(ctx, domain.Entity{AppID: appID, Name: name, DisplayName: name, PluralDisplayName: name + "s"})
	if err != nil {
		t.Fatalf("create entity %q: %v", name, err)
	}
	return e
}

func mustVersion(t *testing.T, ctx context.Context, s Store, e domain.Entity, number int, commitID *uuid.UUID) domain.EntityVersion {
	t.Helper()
	v, err := s.Versions().Create(ctx, domain.EntityVersion{
		EntityID:      e.ID,
		VersionNumber: number,
		CommitID:      commitID,
		Name:          e.Name,
		DisplayName:   e.DisplayName,
	})
	if err != nil {
		t.Fatalf("create version %d: %v", number, err)
	}
	return v
}

func mustField(t *testing.T, ctx context.Context, s Store, versionID uuid.UUID, name, permanentID string) domain.EntityField {
	t.Helper()
	f, err := s.Fields().Create(ctx, domain.EntityField{
		EntityVersionID: versionID,
		PermanentID:     permanentID,
		Name:            name,
		DisplayName:     name,
		DataType:        domain.DataTypeSingleLineText,
		Properties:      map[string]any{"maxLength": float64(64)},
	})
	if err != nil {
		t.Fatalf("create field %q: %v", name, err)
	}
	return f
}

func mustUser(t *testing.T, ctx context.Context, s Store) domain.User {
	t.Helper()
	u, err := s.Users().Ensure(ctx, domain.User{ID: uuid.New()})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return u
}

func testEntityNameUniquePerApp(t *testing.T, ctx context.Context, s Store) {
	appID := uuid.New()
	mustEntity(t, ctx, s, appID, "Order")

	_, err := s.Entities().Create(ctx, domain.Entity{AppID: appID, Name: "Order"})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	mustEntity(t, ctx, s, uuid.New(), "Order")
}

func testEntityUpdateWritesNamesOnly(t *testing.T, ctx context.Context, s Store) {
	e := mustEntity(t, ctx, s, uuid.New(), "Order")
	intruder := uuid.New()
	now := time.Now()

	patch := e
	patch.DisplayName = "Purchase Order"
	patch.Description = "orders placed by customers"
	patch.LockedByUserID = &intruder
	patch.LockedAt = &now
	patch.DeletedAt = &now

	updated, err := s.Entities().Update(ctx, patch)
	if err != nil {
		t.Fatalf("update entity: %v", err)
	}
	if updated.DisplayName != "Purchase Order" || updated.Description != "orders placed by customers" {
		t.Fatalf("names not written: %+v", updated)
	}
	if updated.DeletedAt == nil {
		t.Fatalf("expected deletedAt to be written")
	}
	if updated.LockedByUserID != nil || updated.LockedAt != nil {
		t.Fatalf("lock columns must not change through Update: %+v", updated)
	}

	_, err = s.Entities().Update(ctx, domain.Entity{ID: uuid.New(), Name: "Ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testEntityListFilters(t *testing.T, ctx context.Context, s Store) {
	appID := uuid.New()
	order := mustEntity(t, ctx, s, appID, "Order")
	item := mustEntity(t, ctx, s, appID, "Item")

	deleted := item
	now := time.Now()
	deleted.DeletedAt = &now
	if _, err := s.Entities().Update(ctx, deleted); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	live, err := s.Entities().List(ctx, EntityFilter{AppID: &appID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 || live[0].ID != order.ID {
		t.Fatalf("expected only the live entity, got %+v", live)
	}

	all, err := s.Entities().List(ctx, EntityFilter{AppID: &appID, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list deleted: %v", err)
	}
	if len(all) != 2 || all[0].ID != order.ID || all[1].ID != item.ID {
		t.Fatalf("expected creation order [order item], got %+v", all)
	}

	query := "ORDERS"
	byName, err := s.Entities().List(ctx, EntityFilter{AppID: &appID, NameEqualFold: &query})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != order.ID {
		t.Fatalf("expected plural display name match, got %+v", byName)
	}

	user := mustUser(t, ctx, s)
	commit, err := s.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: user.ID, Message: "first"})
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	mustVersion(t, ctx, s, item, 1, &commit.ID)
	byCommit, err := s.Entities().List(ctx, EntityFilter{CommitID: &commit.ID, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list by commit: %v", err)
	}
	if len(byCommit) != 1 || byCommit[0].ID != item.ID {
		t.Fatalf("expected entity bound to commit, got %+v", byCommit)
	}
}

func testEntityLock(t *testing.T, ctx context.Context, s Store) {
	e := mustEntity(t, ctx, s, uuid.New(), "Order")
	user := mustUser(t, ctx, s)
	at := time.Now().UTC().Truncate(time.Millisecond)

	locked, err := s.Entities().UpdateLock(ctx, e.ID, &user.ID, &at)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if locked.LockedByUserID == nil || *locked.LockedByUserID != user.ID {
		t.Fatalf("expected lock holder %s, got %v", user.ID, locked.LockedByUserID)
	}
	if locked.LockedAt == nil || !locked.LockedAt.Equal(at) {
		t.Fatalf("expected lockedAt %v, got %v", at, locked.LockedAt)
	}

	released, err := s.Entities().UpdateLock(ctx, e.ID, nil, nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.LockedByUserID != nil || released.LockedAt != nil {
		t.Fatalf("expected released lock, got %+v", released)
	}

	if _, err := s.Entities().UpdateLock(ctx, uuid.New(), nil, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testVersionOrdering(t *testing.T, ctx context.Context, s Store) {
	appID := uuid.New()
	user := mustUser(t, ctx, s)
	commit, err := s.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: user.ID, Message: "m"})
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	e := mustEntity(t, ctx, s, appID, "Order")
	mustVersion(t, ctx, s, e, domain.CurrentVersionNumber, nil)
	mustVersion(t, ctx, s, e, 2, &commit.ID)
	mustVersion(t, ctx, s, e, 1, &commit.ID)

	if _, err := s.Versions().Create(ctx, domain.EntityVersion{EntityID: e.ID, VersionNumber: 1}); !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation on duplicate number, got %v", err)
	}

	versions, err := s.Versions().List(ctx, VersionFilter{EntityIDs: []uuid.UUID{e.ID}})
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	var numbers []int
	for _, v := range versions {
		numbers = append(numbers, v.VersionNumber)
	}
	if len(numbers) != 3 || numbers[0] != 0 || numbers[1] != 1 || numbers[2] != 2 {
		t.Fatalf("expected ascending numbers [0 1 2], got %v", numbers)
	}

	committed, err := s.Versions().List(ctx, VersionFilter{EntityIDs: []uuid.UUID{e.ID}, ExcludeDraft: true})
	if err != nil {
		t.Fatalf("list committed: %v", err)
	}
	if len(committed) != 2 {
		t.Fatalf("expected 2 committed versions, got %d", len(committed))
	}

	second, err := s.Versions().GetByNumber(ctx, e.ID, 2)
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if second.CommitID == nil || *second.CommitID != commit.ID {
		t.Fatalf("expected version bound to commit, got %+v", second)
	}
	if _, err := s.Versions().GetByNumber(ctx, e.ID, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testFieldUniqueness(t *testing.T, ctx context.Context, s Store) {
	e := mustEntity(t, ctx, s, uuid.New(), "Order")
	draft := mustVersion(t, ctx, s, e, domain.CurrentVersionNumber, nil)
	other := mustVersion(t, ctx, s, e, 1, nil)

	ref := mustField(t, ctx, s, draft.ID, "reference", "p-reference")
	mustField(t, ctx, s, other.ID, "reference", "p-reference")

	dupName := domain.EntityField{EntityVersionID: draft.ID, PermanentID: "p-other", Name: "reference", DataType: domain.DataTypeSingleLineText}
	if _, err := s.Fields().Create(ctx, dupName); !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation on name, got %v", err)
	}
	dupPermanent := domain.EntityField{EntityVersionID: draft.ID, PermanentID: "p-reference", Name: "renamed", DataType: domain.DataTypeSingleLineText}
	if _, err := s.Fields().Create(ctx, dupPermanent); !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation on permanent id, got %v", err)
	}

	found, err := s.Fields().List(ctx, FieldFilter{EntityVersionIDs: []uuid.UUID{draft.ID}, PermanentIDs: []string{"p-reference"}})
	if err != nil {
		t.Fatalf("list fields: %v", err)
	}
	if len(found) != 1 || found[0].ID != ref.ID {
		t.Fatalf("expected the draft field, got %+v", found)
	}
	if v, ok := found[0].Properties["maxLength"].(float64); !ok || v != 64 {
		t.Fatalf("expected properties to round trip, got %#v", found[0].Properties)
	}

	if err := s.Fields().Delete(ctx, ref.ID); err != nil {
		t.Fatalf("delete field: %v", err)
	}
	if _, err := s.Fields().GetByID(ctx, ref.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted field to be gone, got %v", err)
	}
}

func permissionFixture(t *testing.T, ctx context.Context, s Store) (domain.EntityVersion, domain.EntityPermissionRole, domain.EntityPermissionField) {
	t.Helper()
	appID := uuid.New()
	e := mustEntity(t, ctx, s, appID, "Order")
	draft := mustVersion(t, ctx, s, e, domain.CurrentVersionNumber, nil)
	field := mustField(t, ctx, s, draft.ID, "reference", "p-reference")

	perm, err := s.Permissions().Create(ctx, domain.EntityPermission{
		EntityVersionID: draft.ID,
		Action:          domain.EntityActionView,
		Type:            domain.EntityPermissionTypeGranular,
	})
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	appRole, err := s.AppRoles().Create(ctx, domain.AppRole{AppID: appID, Name: "admin"})
	if err != nil {
		t.Fatalf("create app role: %v", err)
	}
	role, err := s.Permissions().CreateRole(ctx, domain.EntityPermissionRole{
		EntityVersionID: draft.ID,
		Action:          domain.EntityActionView,
		AppRoleID:       appRole.ID,
	})
	if err != nil {
		t.Fatalf("create permission role: %v", err)
	}
	binding, err := s.Permissions().CreateField(ctx, domain.EntityPermissionField{
		PermissionID:     perm.ID,
		EntityVersionID:  draft.ID,
		FieldPermanentID: field.PermanentID,
	})
	if err != nil {
		t.Fatalf("create permission field: %v", err)
	}
	return draft, role, binding
}

func testPermissionCascade(t *testing.T, ctx context.Context, s Store) {
	draft, role, binding := permissionFixture(t, ctx, s)

	_, err := s.Permissions().Create(ctx, domain.EntityPermission{
		EntityVersionID: draft.ID,
		Action:          domain.EntityActionView,
		Type:            domain.EntityPermissionTypeDisabled,
	})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation on action, got %v", err)
	}
	dup := domain.EntityPermissionRole{EntityVersionID: draft.ID, Action: role.Action, AppRoleID: role.AppRoleID}
	if _, err := s.Permissions().CreateRole(ctx, dup); !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation on role, got %v", err)
	}
	if err := s.Permissions().ConnectFieldRoles(ctx, binding.ID, []uuid.UUID{role.ID}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.Permissions().DeleteByVersion(ctx, draft.ID); err != nil {
		t.Fatalf("delete by version: %v", err)
	}
	perms, err := s.Permissions().List(ctx, PermissionFilter{EntityVersionIDs: []uuid.UUID{draft.ID}})
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	roles, err := s.Permissions().ListRoles(ctx, PermissionRoleFilter{EntityVersionIDs: []uuid.UUID{draft.ID}})
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	fields, err := s.Permissions().ListFields(ctx, PermissionFieldFilter{EntityVersionIDs: []uuid.UUID{draft.ID}})
	if err != nil {
		t.Fatalf("list permission fields: %v", err)
	}
	links, err := s.Permissions().ListFieldRoleLinks(ctx, []uuid.UUID{binding.ID})
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(perms)+len(roles)+len(fields)+len(links) != 0 {
		t.Fatalf("expected cascade, got %d permissions %d roles %d fields %d links", len(perms), len(roles), len(fields), len(links))
	}
}

func testFieldRoleLinks(t *testing.T, ctx context.Context, s Store) {
	draft, role, binding := permissionFixture(t, ctx, s)

	for i := 0; i < 2; i++ {
		if err := s.Permissions().ConnectFieldRoles(ctx, binding.ID, []uuid.UUID{role.ID}); err != nil {
			t.Fatalf("connect #%d: %v", i, err)
		}
	}
	links, err := s.Permissions().ListFieldRoleLinks(ctx, []uuid.UUID{binding.ID})
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if got := links[binding.ID]; len(got) != 1 || got[0] != role.ID {
		t.Fatalf("expected one deduplicated link, got %v", got)
	}

	if err := s.Permissions().DeleteRoles(ctx, []uuid.UUID{role.ID}); err != nil {
		t.Fatalf("delete roles: %v", err)
	}
	links, err = s.Permissions().ListFieldRoleLinks(ctx, []uuid.UUID{binding.ID})
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links[binding.ID]) != 0 {
		t.Fatalf("expected links pruned with the role, got %v", links[binding.ID])
	}

	fields, err := s.Fields().List(ctx, FieldFilter{EntityVersionIDs: []uuid.UUID{draft.ID}})
	if err != nil || len(fields) != 1 {
		t.Fatalf("list fields: %v (%d)", err, len(fields))
	}
	if err := s.Fields().Delete(ctx, fields[0].ID); err != nil {
		t.Fatalf("delete field: %v", err)
	}
	if _, err := s.Permissions().GetField(ctx, binding.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected binding removed with its field, got %v", err)
	}
}

func testCommitRequiresUser(t *testing.T, ctx context.Context, s Store) {
	appID := uuid.New()
	if _, err := s.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: uuid.New(), Message: "orphan"}); err == nil {
		t.Fatalf("expected commit by unknown user to fail")
	}

	user := mustUser(t, ctx, s)
	first, err := s.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: user.ID, Message: "first"})
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	second, err := s.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: user.ID, Message: "second"})
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	commits, err := s.Commits().List(ctx, appID)
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if len(commits) != 2 || commits[0].ID != first.ID || commits[1].ID != second.ID {
		t.Fatalf("expected commits in creation order, got %+v", commits)
	}
}

func testUserEnsureIdempotent(t *testing.T, ctx context.Context, s Store) {
	id := uuid.New()
	for i := 0; i < 2; i++ {
		if _, err := s.Users().Ensure(ctx, domain.User{ID: id}); err != nil {
			t.Fatalf("ensure #%d: %v", i, err)
		}
	}
	users, err := s.Users().GetByIDs(ctx, []uuid.UUID{id, uuid.New()})
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if len(users) != 1 || users[0].ID != id {
		t.Fatalf("expected exactly the ensured user, got %+v", users)
	}
}

func testWithTxRollback(t *testing.T, ctx context.Context, s Store) {
	appID := uuid.New()
	boom := errors.New("boom")
	var created domain.Entity

	err := s.WithTx(ctx, func(tx Store) error {
		created = mustEntity(t, ctx, tx, appID, "Order")
		return tx.WithTx(ctx, func(inner Store) error {
			mustVersion(t, ctx, inner, created, domain.CurrentVersionNumber, nil)
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := s.Entities().GetByID(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}

	err = s.WithTx(ctx, func(tx Store) error {
		created = mustEntity(t, ctx, tx, appID, "Order")
		return nil
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}
	if _, err := s.Entities().GetByID(ctx, created.ID); err != nil {
		t.Fatalf("expected committed entity, got %v", err)
	}
}

func testLoadVersionsHydrates(t *testing.T, ctx context.Context, s Store) {
	draft, role, binding := permissionFixture(t, ctx, s)
	if err := s.Permissions().ConnectFieldRoles(ctx, binding.ID, []uuid.UUID{role.ID}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	v, err := LoadVersion(ctx, s, draft.ID, VersionInclude{Fields: true, Permissions: true, Entity: true})
	if err != nil {
		t.Fatalf("load version: %v", err)
	}
	if len(v.Fields) != 1 || v.Fields[0].Name != "reference" {
		t.Fatalf("expected hydrated fields, got %+v", v.Fields)
	}
	if v.Entity == nil || v.Entity.ID != draft.EntityID {
		t.Fatalf("expected hydrated entity, got %+v", v.Entity)
	}
	if len(v.Permissions) != 1 {
		t.Fatalf("expected one permission, got %d", len(v.Permissions))
	}
	perm := v.Permissions[0]
	if len(perm.PermissionRoles) != 1 || perm.PermissionRoles[0].AppRole == nil {
		t.Fatalf("expected role with app role, got %+v", perm.PermissionRoles)
	}
	if len(perm.PermissionFields) != 1 {
		t.Fatalf("expected one permission field, got %+v", perm.PermissionFields)
	}
	pf := perm.PermissionFields[0]
	if pf.Field == nil || pf.Field.Name != "reference" {
		t.Fatalf("expected bound field, got %+v", pf.Field)
	}
	if len(pf.PermissionRoles) != 1 || pf.PermissionRoles[0].ID != role.ID {
		t.Fatalf("expected linked role, got %+v", pf.PermissionRoles)
	}

	if _, err := LoadVersion(ctx, s, uuid.New(), VersionInclude{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
