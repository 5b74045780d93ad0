package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/modelvc/internal/domain"
)

// LoadEntities lists entities and hydrates the requested relations.
func LoadEntities(ctx context.Context, store Store, filter EntityFilter, include EntityInclude) ([]domain.Entity, error) {
	entities, err := store.Entities().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return entities, nil
	}

	if include.Versions {
		ids := make([]uuid.UUID, len(entities))
		for i, e := range entities {
			ids[i] = e.ID
		}
		vf := include.VersionFilter
		vf.EntityIDs = ids
		versions, err := LoadVersions(ctx, store, vf, include.VersionInclude)
		if err != nil {
			return nil, err
		}
		byEntity := make(map[uuid.UUID][]domain.EntityVersion, len(entities))
		for _, v := range versions {
			byEntity[v.EntityID] = append(byEntity[v.EntityID], v)
		}
		for i := range entities {
			entities[i].Versions = byEntity[entities[i].ID]
		}
	}

	if include.LockedByUser {
		var userIDs []uuid.UUID
		for _, e := range entities {
			if e.LockedByUserID != nil {
				userIDs = append(userIDs, *e.LockedByUserID)
			}
		}
		if len(userIDs) > 0 {
			users, err := store.Users().GetByIDs(ctx, userIDs)
			if err != nil {
				return nil, err
			}
			byID := make(map[uuid.UUID]domain.User, len(users))
			for _, u := range users {
				byID[u.ID] = u
			}
			for i := range entities {
				if entities[i].LockedByUserID == nil {
					continue
				}
				if u, ok := byID[*entities[i].LockedByUserID]; ok {
					user := u
					entities[i].LockedByUser = &user
				}
			}
		}
	}

	return entities, nil
}

// LoadVersions lists versions and hydrates the requested relations.
func LoadVersions(ctx context.Context, store Store, filter VersionFilter, include VersionInclude) ([]domain.EntityVersion, error) {
	versions, err := store.Versions().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return versions, nil
	}

	ids := make([]uuid.UUID, len(versions))
	for i, v := range versions {
		ids[i] = v.ID
	}

	if include.Fields {
		fields, err := store.Fields().List(ctx, FieldFilter{EntityVersionIDs: ids})
		if err != nil {
			return nil, err
		}
		byVersion := map[uuid.UUID][]domain.EntityField{}
		for _, f := range fields {
			byVersion[f.EntityVersionID] = append(byVersion[f.EntityVersionID], f)
		}
		for i := range versions {
			versions[i].Fields = byVersion[versions[i].ID]
		}
	}

	if include.Permissions {
		perms, err := LoadPermissions(ctx, store, ids, nil)
		if err != nil {
			return nil, err
		}
		byVersion := map[uuid.UUID][]domain.EntityPermission{}
		for _, p := range perms {
			byVersion[p.EntityVersionID] = append(byVersion[p.EntityVersionID], p)
		}
		for i := range versions {
			versions[i].Permissions = byVersion[versions[i].ID]
		}
	}

	if include.Commit {
		var commitIDs []uuid.UUID
		for _, v := range versions {
			if v.CommitID != nil {
				commitIDs = append(commitIDs, *v.CommitID)
			}
		}
		if len(commitIDs) > 0 {
			commits, err := store.Commits().GetByIDs(ctx, commitIDs)
			if err != nil {
				return nil, err
			}
			byID := make(map[uuid.UUID]domain.Commit, len(commits))
			for _, c := range commits {
				byID[c.ID] = c
			}
			for i := range versions {
				if versions[i].CommitID == nil {
					continue
				}
				if c, ok := byID[*versions[i].CommitID]; ok {
					commit := c
					versions[i].Commit = &commit
				}
			}
		}
	}

	if include.Entity {
		entityIDs := make([]uuid.UUID, 0, len(versions))
		for _, v := range versions {
			entityIDs = append(entityIDs, v.EntityID)
		}
		entities, err := store.Entities().List(ctx, EntityFilter{IDs: entityIDs, IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		byID := make(map[uuid.UUID]domain.Entity, len(entities))
		for _, e := range entities {
			byID[e.ID] = e
		}
		for i := range versions {
			if e, ok := byID[versions[i].EntityID]; ok {
				entity := e
				versions[i].Entity = &entity
			}
		}
	}

	return versions, nil
}

// LoadVersion loads a single version by id with the requested relations.
func LoadVersion(ctx context.Context, store Store, id uuid.UUID, include VersionInclude) (domain.EntityVersion, error) {
	versions, err := LoadVersions(ctx, store, VersionFilter{IDs: []uuid.UUID{id}}, include)
	if err != nil {
		return domain.EntityVersion{}, err
	}
	if len(versions) == 0 {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity version", id)
	}
	return versions[0], nil
}

// LoadPermissions assembles permissions of the given versions with their
// roles (and app roles) and field bindings (with field and roles). Permissions
// are ordered by action, roles by app role id, fields by permanent id.
func LoadPermissions(ctx context.Context, store Store, versionIDs []uuid.UUID, action *domain.EntityAction) ([]domain.EntityPermission, error) {
	perms, err := store.Permissions().List(ctx, PermissionFilter{EntityVersionIDs: versionIDs, Action: action})
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	if len(perms) == 0 {
		return perms, nil
	}

	roles, err := store.Permissions().ListRoles(ctx, PermissionRoleFilter{EntityVersionIDs: versionIDs, Action: action})
	if err != nil {
		return nil, fmt.Errorf("failed to list permission roles: %w", err)
	}
	if err := attachAppRoles(ctx, store, roles); err != nil {
		return nil, err
	}
	rolesByID := make(map[uuid.UUID]domain.EntityPermissionRole, len(roles))
	type roleKey struct {
		version uuid.UUID
		action  domain.EntityAction
	}
	rolesByPermission := map[roleKey][]domain.EntityPermissionRole{}
	for _, r := range roles {
		rolesByID[r.ID] = r
		key := roleKey{r.EntityVersionID, r.Action}
		rolesByPermission[key] = append(rolesByPermission[key], r)
	}

	permIDs := make([]uuid.UUID, len(perms))
	for i, p := range perms {
		permIDs[i] = p.ID
	}
	permFields, err := store.Permissions().ListFields(ctx, PermissionFieldFilter{PermissionIDs: permIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to list permission fields: %w", err)
	}

	if len(permFields) > 0 {
		pfIDs := make([]uuid.UUID, len(permFields))
		for i, pf := range permFields {
			pfIDs[i] = pf.ID
		}
		links, err := store.Permissions().ListFieldRoleLinks(ctx, pfIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to list permission field roles: %w", err)
		}

		fields, err := store.Fields().List(ctx, FieldFilter{EntityVersionIDs: versionIDs})
		if err != nil {
			return nil, err
		}
		type fieldKey struct {
			version     uuid.UUID
			permanentID string
		}
		fieldsByKey := make(map[fieldKey]domain.EntityField, len(fields))
		for _, f := range fields {
			fieldsByKey[fieldKey{f.EntityVersionID, f.PermanentID}] = f
		}

		for i := range permFields {
			if f, ok := fieldsByKey[fieldKey{permFields[i].EntityVersionID, permFields[i].FieldPermanentID}]; ok {
				field := f
				permFields[i].Field = &field
			}
			var linked []domain.EntityPermissionRole
			for _, roleID := range links[permFields[i].ID] {
				if r, ok := rolesByID[roleID]; ok {
					linked = append(linked, r)
				}
			}
			sortRoles(linked)
			permFields[i].PermissionRoles = linked
		}
	}

	fieldsByPermission := map[uuid.UUID][]domain.EntityPermissionField{}
	for _, pf := range permFields {
		fieldsByPermission[pf.PermissionID] = append(fieldsByPermission[pf.PermissionID], pf)
	}

	for i := range perms {
		perms[i].PermissionRoles = rolesByPermission[roleKey{perms[i].EntityVersionID, perms[i].Action}]
		perms[i].PermissionFields = fieldsByPermission[perms[i].ID]
	}

	return perms, nil
}

func attachAppRoles(ctx context.Context, store Store, roles []domain.EntityPermissionRole) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(roles))
	for i, r := range roles {
		ids[i] = r.AppRoleID
	}
	appRoles, err := store.AppRoles().GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load app roles: %w", err)
	}
	byID := make(map[uuid.UUID]domain.AppRole, len(appRoles))
	for _, ar := range appRoles {
		byID[ar.ID] = ar
	}
	for i := range roles {
		if ar, ok := byID[roles[i].AppRoleID]; ok {
			appRole := ar
			roles[i].AppRole = &appRole
		}
	}
	return nil
}

func sortRoles(roles []domain.EntityPermissionRole) {
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].AppRoleID.String() < roles[j].AppRoleID.String()
	})
}
