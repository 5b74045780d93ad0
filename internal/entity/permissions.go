package entity

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
)

// GetPermissions returns the draft permissions of an entity, optionally
// restricted to one action.
func (s *Service) GetPermissions(ctx context.Context, entityID uuid.UUID, action *domain.EntityAction) ([]domain.EntityPermission, error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return nil, err
	}
	draft, err := s.getDraft(ctx, s.store, entityID, repository.VersionInclude{})
	if err != nil {
		return nil, err
	}
	return repository.LoadPermissions(ctx, s.store, []uuid.UUID{draft.ID}, action)
}

// GetVersionPermissions returns the permissions of a given version number.
func (s *Service) GetVersionPermissions(ctx context.Context, entityID uuid.UUID, versionNumber int, action *domain.EntityAction) ([]domain.EntityPermission, error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return nil, err
	}
	version, err := s.store.Versions().GetByNumber(ctx, entityID, versionNumber)
	if err != nil {
		return nil, err
	}
	return repository.LoadPermissions(ctx, s.store, []uuid.UUID{version.ID}, action)
}

// UpdateEntityPermission sets the permission type of an action on the draft.
func (s *Service) UpdateEntityPermission(ctx context.Context, entityID uuid.UUID, action domain.EntityAction, permType domain.EntityPermissionType, user domain.User) (domain.EntityPermission, error) {
	var updated domain.EntityPermission
	err := s.useLocking(ctx, entityID, user, func(domain.Entity) error {
		if !action.IsValid() {
			return fmt.Errorf("unknown entity action %q", action)
		}
		if !permType.IsValid() {
			return fmt.Errorf("unknown permission type %q", permType)
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			permission, err := s.draftPermission(ctx, tx, entityID, action)
			if err != nil {
				return err
			}
			permission.Type = permType
			updated, err = tx.Permissions().Update(ctx, permission)
			return err
		})
	})
	if err != nil {
		return domain.EntityPermission{}, err
	}

	s.logger.Info("entity permission updated",
		zap.String("entity_id", entityID.String()),
		zap.String("action", string(action)),
		zap.String("type", string(permType)),
		zap.String("user_id", user.ID.String()),
	)
	return updated, nil
}

// UpdateEntityPermissionRolesArgs adds app roles to and removes permission
// roles from an action.
type UpdateEntityPermissionRolesArgs struct {
	EntityID uuid.UUID
	Action   domain.EntityAction
	// AddPermissionRoles holds app role ids.
	AddPermissionRoles []uuid.UUID
	// DeletePermissionRoles holds permission role ids.
	DeletePermissionRoles []uuid.UUID
}

// UpdateEntityPermissionRoles edits the roles granted an action on the
// draft and returns the permission with its roles.
func (s *Service) UpdateEntityPermissionRoles(ctx context.Context, args UpdateEntityPermissionRolesArgs, user domain.User) (domain.EntityPermission, error) {
	var result domain.EntityPermission
	err := s.useLocking(ctx, args.EntityID, user, func(domain.Entity) error {
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			permission, err := s.draftPermission(ctx, tx, args.EntityID, args.Action)
			if err != nil {
				return err
			}

			if len(args.DeletePermissionRoles) > 0 {
				existing, err := tx.Permissions().ListRoles(ctx, repository.PermissionRoleFilter{
					IDs:              args.DeletePermissionRoles,
					EntityVersionIDs: []uuid.UUID{permission.EntityVersionID},
					Action:           &args.Action,
				})
				if err != nil {
					return err
				}
				ids := make([]uuid.UUID, len(existing))
				for i, r := range existing {
					ids[i] = r.ID
				}
				if err := tx.Permissions().DeleteRoles(ctx, ids); err != nil {
					return err
				}
			}

			for _, appRoleID := range args.AddPermissionRoles {
				_, err := tx.Permissions().CreateRole(ctx, domain.EntityPermissionRole{
					EntityVersionID: permission.EntityVersionID,
					Action:          args.Action,
					AppRoleID:       appRoleID,
				})
				if err != nil {
					return fmt.Errorf("failed to add role %s to %s: %w", appRoleID, args.Action, err)
				}
			}

			loaded, err := repository.LoadPermissions(ctx, tx, []uuid.UUID{permission.EntityVersionID}, &args.Action)
			if err != nil {
				return err
			}
			if len(loaded) > 0 {
				result = loaded[0]
			}
			return nil
		})
	})
	if err != nil {
		return domain.EntityPermission{}, err
	}
	return result, nil
}

type AddEntityPermissionFieldArgs struct {
	EntityID  uuid.UUID
	Action    domain.EntityAction
	FieldName string
}

// AddEntityPermissionField restricts an action to a draft field.
func (s *Service) AddEntityPermissionField(ctx context.Context, args AddEntityPermissionFieldArgs, user domain.User) (domain.EntityPermissionField, error) {
	var created domain.EntityPermissionField
	err := s.useLocking(ctx, args.EntityID, user, func(domain.Entity) error {
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			missing, err := s.validateAllFieldsExist(ctx, tx, args.EntityID, []string{args.FieldName})
			if err != nil {
				return err
			}
			if missing.Cardinality() > 0 {
				return &domain.InvalidFieldSelectionError{EntityID: args.EntityID, Missing: missing.ToSlice()}
			}

			permission, err := s.draftPermission(ctx, tx, args.EntityID, args.Action)
			if err != nil {
				return err
			}
			fields, err := tx.Fields().List(ctx, repository.FieldFilter{
				EntityVersionIDs: []uuid.UUID{permission.EntityVersionID},
				Names:            []string{args.FieldName},
			})
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return &domain.InvalidFieldSelectionError{EntityID: args.EntityID, Missing: []string{args.FieldName}}
			}

			created, err = tx.Permissions().CreateField(ctx, domain.EntityPermissionField{
				PermissionID:     permission.ID,
				EntityVersionID:  permission.EntityVersionID,
				FieldPermanentID: fields[0].PermanentID,
			})
			if err != nil {
				return err
			}
			field := fields[0]
			created.Field = &field
			return nil
		})
	})
	if err != nil {
		return domain.EntityPermissionField{}, err
	}

	s.logger.Info("entity permission field added",
		zap.String("entity_id", args.EntityID.String()),
		zap.String("action", string(args.Action)),
		zap.String("field", args.FieldName),
		zap.String("user_id", user.ID.String()),
	)
	return created, nil
}

type DeleteEntityPermissionFieldArgs struct {
	EntityID         uuid.UUID
	Action           domain.EntityAction
	FieldPermanentID string
}

// DeleteEntityPermissionField removes the field restriction of an action.
func (s *Service) DeleteEntityPermissionField(ctx context.Context, args DeleteEntityPermissionFieldArgs, user domain.User) (domain.EntityPermissionField, error) {
	var deleted domain.EntityPermissionField
	err := s.useLocking(ctx, args.EntityID, user, func(domain.Entity) error {
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			permission, err := s.draftPermission(ctx, tx, args.EntityID, args.Action)
			if err != nil {
				return err
			}
			bindings, err := tx.Permissions().ListFields(ctx, repository.PermissionFieldFilter{
				PermissionIDs:     []uuid.UUID{permission.ID},
				FieldPermanentIDs: []string{args.FieldPermanentID},
			})
			if err != nil {
				return err
			}
			if len(bindings) == 0 {
				return &domain.NotFoundError{
					Resource: "entity permission field",
					ID:       args.FieldPermanentID,
					Detail:   fmt.Sprintf("no %s binding on entity %s", args.Action, args.EntityID),
				}
			}
			deleted = bindings[0]
			return tx.Permissions().DeleteFields(ctx, []uuid.UUID{deleted.ID})
		})
	})
	if err != nil {
		return domain.EntityPermissionField{}, err
	}
	return deleted, nil
}

type UpdateEntityPermissionFieldRolesArgs struct {
	PermissionFieldID uuid.UUID
	// Both lists hold permission role ids of the field's action.
	AddPermissionRoles    []uuid.UUID
	DeletePermissionRoles []uuid.UUID
}

// UpdateEntityPermissionFieldRoles links and unlinks permission roles of a
// permission field.
func (s *Service) UpdateEntityPermissionFieldRoles(ctx context.Context, args UpdateEntityPermissionFieldRolesArgs, user domain.User) (domain.EntityPermissionField, error) {
	binding, err := s.store.Permissions().GetField(ctx, args.PermissionFieldID)
	if isNotFound(err) {
		return domain.EntityPermissionField{}, &domain.NotFoundError{
			Resource: "entity permission field",
			ID:       args.PermissionFieldID.String(),
			Detail:   "cannot find entity permission field",
		}
	}
	if err != nil {
		return domain.EntityPermissionField{}, err
	}
	version, err := s.store.Versions().GetByID(ctx, binding.EntityVersionID)
	if err != nil {
		return domain.EntityPermissionField{}, err
	}

	var result domain.EntityPermissionField
	err = s.useLocking(ctx, version.EntityID, user, func(domain.Entity) error {
		if err := domain.EnsureDraft(ctx, version); err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			if len(args.AddPermissionRoles) > 0 {
				if err := s.ensureFieldRolesOfAction(ctx, tx, binding, args.AddPermissionRoles); err != nil {
					return err
				}
				if err := tx.Permissions().ConnectFieldRoles(ctx, binding.ID, args.AddPermissionRoles); err != nil {
					return err
				}
			}
			if len(args.DeletePermissionRoles) > 0 {
				if err := tx.Permissions().DisconnectFieldRoles(ctx, binding.ID, args.DeletePermissionRoles); err != nil {
					return err
				}
			}

			perms, err := repository.LoadPermissions(ctx, tx, []uuid.UUID{version.ID}, nil)
			if err != nil {
				return err
			}
			for _, p := range perms {
				for _, pf := range p.PermissionFields {
					if pf.ID == binding.ID {
						result = pf
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return domain.EntityPermissionField{}, err
	}
	return result, nil
}

// ensureFieldRolesOfAction rejects permission roles that are not granted the
// binding's own action on the binding's version.
func (s *Service) ensureFieldRolesOfAction(ctx context.Context, tx repository.Store, binding domain.EntityPermissionField, roleIDs []uuid.UUID) error {
	perms, err := tx.Permissions().List(ctx, repository.PermissionFilter{
		EntityVersionIDs: []uuid.UUID{binding.EntityVersionID},
	})
	if err != nil {
		return err
	}
	var action *domain.EntityAction
	for _, p := range perms {
		if p.ID == binding.PermissionID {
			a := p.Action
			action = &a
		}
	}
	if action == nil {
		return domain.NewNotFoundError("entity permission", binding.PermissionID)
	}

	roles, err := tx.Permissions().ListRoles(ctx, repository.PermissionRoleFilter{
		IDs:              roleIDs,
		EntityVersionIDs: []uuid.UUID{binding.EntityVersionID},
		Action:           action,
	})
	if err != nil {
		return err
	}
	allowed := mapset.NewThreadUnsafeSet[uuid.UUID]()
	for _, r := range roles {
		allowed.Add(r.ID)
	}
	for _, id := range roleIDs {
		if !allowed.Contains(id) {
			return &domain.NotFoundError{
				Resource: "entity permission role",
				ID:       id.String(),
				Detail:   fmt.Sprintf("role is not granted %s on this version", *action),
			}
		}
	}
	return nil
}

// draftPermission returns the flat permission record of an action on the
// entity draft.
func (s *Service) draftPermission(ctx context.Context, store repository.Store, entityID uuid.UUID, action domain.EntityAction) (domain.EntityPermission, error) {
	draft, err := s.getDraft(ctx, store, entityID, repository.VersionInclude{})
	if err != nil {
		return domain.EntityPermission{}, err
	}
	if err := domain.EnsureDraft(ctx, draft); err != nil {
		return domain.EntityPermission{}, err
	}

	perms, err := store.Permissions().List(ctx, repository.PermissionFilter{
		EntityVersionIDs: []uuid.UUID{draft.ID},
		Action:           &action,
	})
	if err != nil {
		return domain.EntityPermission{}, err
	}
	if len(perms) == 0 {
		return domain.EntityPermission{}, &domain.NotFoundError{
			Resource: "entity permission",
			ID:       entityID.String(),
			Detail:   fmt.Sprintf("action %s", action),
		}
	}
	return perms[0], nil
}
