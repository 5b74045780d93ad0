package entity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/auth"
	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
	"github.com/rpattn/modelvc/internal/schema/validator"
)

// CreateEntity creates an entity together with its draft version, the default
// permissions and the initial id/createdAt/updatedAt fields. The entity stays
// locked by user until the next commit or discard.
func (s *Service) CreateEntity(ctx context.Context, input CreateEntityInput, user domain.User) (domain.Entity, error) {
	if err := auth.EnforceAppScope(ctx, input.AppID); err != nil {
		return domain.Entity{}, err
	}
	if err := validator.ValidateName(input.Name); err != nil {
		return domain.Entity{}, err
	}

	names := defaultNames(domain.EntityNames{
		Name:              input.Name,
		DisplayName:       input.DisplayName,
		PluralDisplayName: input.PluralDisplayName,
		Description:       input.Description,
	})

	var created domain.Entity
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Users().Ensure(ctx, user); err != nil {
			return err
		}

		now := s.now().UTC()
		entity, draft, err := s.createEntityRecords(ctx, tx, uuid.Nil, input.AppID, names, &user.ID, &now)
		if err != nil {
			return err
		}

		for _, f := range initialEntityFields() {
			if _, err := s.createFieldRecord(ctx, tx, draft.ID, s.newPermanentID(), f); err != nil {
				return err
			}
		}

		created = entity
		return nil
	})
	if err != nil {
		return domain.Entity{}, err
	}

	s.logger.Info("entity created",
		zap.String("entity_id", created.ID.String()),
		zap.String("app_id", created.AppID.String()),
		zap.String("user_id", user.ID.String()),
	)
	return created, nil
}

// createEntityRecords writes the entity row, its draft and one permission per
// action.
func (s *Service) createEntityRecords(
	ctx context.Context,
	tx repository.Store,
	id uuid.UUID,
	appID uuid.UUID,
	names domain.EntityNames,
	lockedBy *uuid.UUID,
	lockedAt *time.Time,
) (domain.Entity, domain.EntityVersion, error) {
	entity := domain.Entity{ID: id, AppID: appID, LockedByUserID: lockedBy, LockedAt: lockedAt}.WithNames(names)

	entity, err := tx.Entities().Create(ctx, entity)
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, err
	}

	draft, err := tx.Versions().Create(ctx, domain.EntityVersion{
		EntityID:      entity.ID,
		VersionNumber: domain.CurrentVersionNumber,
	}.WithNames(names))
	if err != nil {
		return domain.Entity{}, domain.EntityVersion{}, err
	}

	for _, p := range domain.DefaultPermissions(s.allowedActions) {
		p.EntityVersionID = draft.ID
		if _, err := tx.Permissions().Create(ctx, p); err != nil {
			return domain.Entity{}, domain.EntityVersion{}, err
		}
	}

	return entity, draft, nil
}

func defaultNames(names domain.EntityNames) domain.EntityNames {
	if strings.TrimSpace(names.DisplayName) == "" {
		names.DisplayName = names.Name
	}
	if strings.TrimSpace(names.PluralDisplayName) == "" {
		names.PluralDisplayName = inflection.Plural(names.DisplayName)
	}
	return names
}

// DeleteEntity soft-deletes an entity: its names are mangled so they can be
// reused and the draft is marked deleted. The built-in user entity cannot be
// deleted.
func (s *Service) DeleteEntity(ctx context.Context, id uuid.UUID, user domain.User) (domain.Entity, error) {
	entity, err := s.getEntity(ctx, s.store, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if entity.IsUserEntity() {
		return domain.Entity{}, &domain.ProtectedResourceError{EntityID: entity.ID, Name: entity.Name}
	}

	err = s.useLocking(ctx, id, user, func(locked domain.Entity) error {
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			draft, err := s.getDraft(ctx, tx, id, repository.VersionInclude{})
			if err != nil {
				return err
			}
			if err := domain.EnsureDraft(ctx, draft); err != nil {
				return err
			}

			now := s.now().UTC()
			mangled := locked.WithNames(domain.EntityNames{
				Name:              domain.PrepareDeletedItemName(locked.Name, locked.ID),
				DisplayName:       domain.PrepareDeletedItemName(locked.DisplayName, locked.ID),
				PluralDisplayName: domain.PrepareDeletedItemName(locked.PluralDisplayName, locked.ID),
				Description:       locked.Description,
			})
			mangled.DeletedAt = &now
			if _, err := tx.Entities().Update(ctx, mangled); err != nil {
				return err
			}

			draft.Deleted = true
			_, err = tx.Versions().Update(ctx, draft)
			return err
		})
	})
	if err != nil {
		return domain.Entity{}, err
	}

	s.logger.Info("entity deleted", zap.String("entity_id", id.String()), zap.String("user_id", user.ID.String()))
	return s.store.Entities().GetByID(ctx, id)
}

// UpdateEntity updates the entity names and mirrors them onto the draft.
func (s *Service) UpdateEntity(ctx context.Context, id uuid.UUID, input UpdateEntityInput, user domain.User) (domain.Entity, error) {
	entity, err := s.getEntity(ctx, s.store, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if entity.IsUserEntity() && input.Name != nil && *input.Name != entity.Name {
		return domain.Entity{}, &domain.ProtectedResourceError{EntityID: entity.ID, Name: entity.Name, Operation: "rename"}
	}

	err = s.useLocking(ctx, id, user, func(locked domain.Entity) error {
		if input.Name != nil {
			if err := validator.ValidateName(*input.Name); err != nil {
				return err
			}
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			draft, err := s.getDraft(ctx, tx, id, repository.VersionInclude{})
			if err != nil {
				return err
			}
			if err := domain.EnsureDraft(ctx, draft); err != nil {
				return err
			}

			names := input.apply(locked.Names())
			if _, err := tx.Entities().Update(ctx, locked.WithNames(names)); err != nil {
				return err
			}
			_, err = tx.Versions().Update(ctx, draft.WithNames(names))
			return err
		})
	})
	if err != nil {
		return domain.Entity{}, err
	}

	s.logger.Info("entity updated", zap.String("entity_id", id.String()), zap.String("user_id", user.ID.String()))
	return s.getEntity(ctx, s.store, id)
}

// CreateVersion freezes the draft of entityID into a new committed version
// bound to commitID and returns the draft, which stays editable.
func (s *Service) CreateVersion(ctx context.Context, commitID, entityID uuid.UUID) (domain.EntityVersion, error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return domain.EntityVersion{}, err
	}
	var draft domain.EntityVersion
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		draft, err = s.createVersion(ctx, tx, commitID, entityID)
		return err
	})
	return draft, err
}

func (s *Service) createVersion(ctx context.Context, tx repository.Store, commitID, entityID uuid.UUID) (domain.EntityVersion, error) {
	versions, err := repository.LoadVersions(ctx, tx, repository.VersionFilter{EntityIDs: []uuid.UUID{entityID}},
		repository.VersionInclude{Fields: true, Permissions: true})
	if err != nil {
		return domain.EntityVersion{}, err
	}

	draft, committed := splitVersions(versions)
	if draft == nil {
		return domain.EntityVersion{}, &domain.NotFoundError{Resource: "entity version", ID: entityID.String(), Detail: "draft"}
	}

	nextNumber := 1
	if len(committed) > 0 {
		nextNumber = committed[len(committed)-1].VersionNumber + 1
	}

	if err := domain.NewVersionLifecycle(*draft).Freeze(ctx); err != nil {
		return domain.EntityVersion{}, err
	}

	frozen, err := tx.Versions().Create(ctx, domain.EntityVersion{
		EntityID:      entityID,
		VersionNumber: nextNumber,
		CommitID:      &commitID,
		Deleted:       draft.Deleted,
	}.WithNames(draft.Names()))
	if err != nil {
		return domain.EntityVersion{}, err
	}

	if err := copyVersionContent(ctx, tx, *draft, frozen.ID); err != nil {
		return domain.EntityVersion{}, err
	}

	s.logger.Debug("entity version created",
		zap.String("entity_id", entityID.String()),
		zap.String("commit_id", commitID.String()),
		zap.Int("version_number", nextNumber),
	)
	return *draft, nil
}

// DiscardPendingChanges resets the draft to the latest committed version and
// releases the lock. An entity that was never committed is returned unchanged.
func (s *Service) DiscardPendingChanges(ctx context.Context, entityID, userID uuid.UUID) (domain.Entity, error) {
	entity, err := s.store.Entities().GetByID(ctx, entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	if err := auth.EnforceAppScope(ctx, entity.AppID); err != nil {
		return domain.Entity{}, err
	}

	committed, err := s.store.Versions().List(ctx, repository.VersionFilter{
		EntityIDs:    []uuid.UUID{entityID},
		ExcludeDraft: true,
	})
	if err != nil {
		return domain.Entity{}, err
	}
	if len(committed) == 0 {
		return entity, nil
	}

	var restoredNumber int
	err = s.withLock(ctx, entityID, domain.User{ID: userID}, func(locked domain.Entity) error {
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			versions, err := repository.LoadVersions(ctx, tx, repository.VersionFilter{EntityIDs: []uuid.UUID{entityID}},
				repository.VersionInclude{Fields: true, Permissions: true})
			if err != nil {
				return err
			}
			draft, committed := splitVersions(versions)
			if draft == nil {
				return &domain.NotFoundError{Resource: "entity version", ID: entityID.String(), Detail: "draft"}
			}
			if len(committed) == 0 {
				return nil
			}
			last := committed[len(committed)-1]
			restoredNumber = last.VersionNumber

			if err := domain.EnsureDraft(ctx, *draft); err != nil {
				return err
			}
			if err := tx.Fields().DeleteByVersion(ctx, draft.ID); err != nil {
				return err
			}
			if err := tx.Permissions().DeleteByVersion(ctx, draft.ID); err != nil {
				return err
			}

			restored := draft.WithNames(last.Names())
			restored.Deleted = last.Deleted
			if _, err := tx.Versions().Update(ctx, restored); err != nil {
				return err
			}
			if err := copyVersionContent(ctx, tx, last, draft.ID); err != nil {
				return err
			}

			if last.Deleted {
				return nil
			}
			revived := locked.WithNames(last.Names())
			revived.DeletedAt = nil
			_, err = tx.Entities().Update(ctx, revived)
			return err
		})
	})
	if err != nil {
		return domain.Entity{}, err
	}

	s.logger.Info("pending changes discarded",
		zap.String("entity_id", entityID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("restored_version", restoredNumber),
	)
	return s.store.Entities().GetByID(ctx, entityID)
}

// CommitResult is the outcome of Commit.
type CommitResult struct {
	Commit  domain.Commit
	Changes []domain.EntityPendingChange
}

// Commit freezes every pending change of the app that is not being edited by
// another user into a new version bound to one commit, then releases the
// locks user holds in the app.
func (s *Service) Commit(ctx context.Context, appID uuid.UUID, user domain.User, message string) (CommitResult, error) {
	if err := auth.EnforceAppScope(ctx, appID); err != nil {
		return CommitResult{}, err
	}

	var result CommitResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Users().Ensure(ctx, user); err != nil {
			return err
		}

		changes, err := s.changedEntities(ctx, tx, repository.EntityFilter{AppID: &appID}, &user.ID)
		if err != nil {
			return err
		}

		commit, err := tx.Commits().Create(ctx, domain.Commit{AppID: appID, UserID: user.ID, Message: message})
		if err != nil {
			return err
		}

		for _, change := range changes {
			if _, err := s.createVersion(ctx, tx, commit.ID, change.ResourceID); err != nil {
				return fmt.Errorf("failed to commit entity %s: %w", change.ResourceID, err)
			}
		}

		result = CommitResult{Commit: commit, Changes: changes}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	if err := s.releaseUserLocks(ctx, appID, user.ID); err != nil {
		return result, err
	}

	s.logger.Info("commit created",
		zap.String("commit_id", result.Commit.ID.String()),
		zap.String("app_id", appID.String()),
		zap.String("user_id", user.ID.String()),
		zap.Int("changes", len(result.Changes)),
	)
	return result, nil
}

func (s *Service) releaseUserLocks(ctx context.Context, appID, userID uuid.UUID) error {
	entities, err := s.store.Entities().List(ctx, repository.EntityFilter{AppID: &appID, IncludeDeleted: true})
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, e := range entities {
		if e.LockedByUserID == nil || *e.LockedByUserID != userID {
			continue
		}
		if _, err := s.ReleaseLock(ctx, e.ID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// BulkEntityInput describes an entity created with its fields in one call.
// A zero ID lets the store assign one.
type BulkEntityInput struct {
	ID                uuid.UUID
	Name              string
	DisplayName       string
	PluralDisplayName string
	Description       string
	Fields            []BulkFieldInput
}

// BulkCreateEntities creates several entities with drafts, default
// permissions and the given fields in one transaction. Lookup fields may
// reference entities created by the same call.
func (s *Service) BulkCreateEntities(ctx context.Context, appID uuid.UUID, user domain.User, inputs []BulkEntityInput) ([]domain.Entity, error) {
	if err := auth.EnforceAppScope(ctx, appID); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := validator.ValidateName(in.Name); err != nil {
			return nil, err
		}
		for _, f := range in.Fields {
			if err := validateFieldInput(f.FieldInput); err != nil {
				return nil, err
			}
		}
	}

	created := make([]domain.Entity, 0, len(inputs))
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Users().Ensure(ctx, user); err != nil {
			return err
		}

		drafts := make([]domain.EntityVersion, len(inputs))
		for i, in := range inputs {
			names := defaultNames(domain.EntityNames{
				Name:              in.Name,
				DisplayName:       in.DisplayName,
				PluralDisplayName: in.PluralDisplayName,
				Description:       in.Description,
			})
			entity, draft, err := s.createEntityRecords(ctx, tx, in.ID, appID, names, nil, nil)
			if err != nil {
				return err
			}
			created = append(created, entity)
			drafts[i] = draft
		}

		var all []BulkFieldInput
		for _, in := range inputs {
			all = append(all, in.Fields...)
		}
		if err := s.relatedEntities(ctx, tx, appID, lookupTargets(all)); err != nil {
			return err
		}
		for i, in := range inputs {
			if _, err := s.createBulkFields(ctx, tx, drafts[i].ID, in.Fields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("entities created",
		zap.String("app_id", appID.String()),
		zap.String("user_id", user.ID.String()),
		zap.Int("count", len(created)),
	)
	return created, nil
}

// CreateDefaultEntities seeds a new app with the built-in entities.
func (s *Service) CreateDefaultEntities(ctx context.Context, appID uuid.UUID, user domain.User) ([]domain.Entity, error) {
	return s.BulkCreateEntities(ctx, appID, user, DefaultEntities())
}

// splitVersions separates the draft from committed versions, which keep
// their ascending order.
func splitVersions(versions []domain.EntityVersion) (*domain.EntityVersion, []domain.EntityVersion) {
	var (
		draft     *domain.EntityVersion
		committed []domain.EntityVersion
	)
	for i := range versions {
		if versions[i].IsDraft() {
			v := versions[i]
			draft = &v
			continue
		}
		committed = append(committed, versions[i])
	}
	return draft, committed
}

// copyVersionContent copies fields and permissions of a hydrated source
// version onto targetVersionID. Storage ids are regenerated; permanent ids,
// role bindings and field role links are preserved.
func copyVersionContent(ctx context.Context, tx repository.Store, source domain.EntityVersion, targetVersionID uuid.UUID) error {
	for _, f := range source.Fields {
		_, err := tx.Fields().Create(ctx, domain.EntityField{
			PermanentID:     f.PermanentID,
			EntityVersionID: targetVersionID,
			Name:            f.Name,
			DisplayName:     f.DisplayName,
			DataType:        f.DataType,
			Properties:      copyProperties(f.Properties),
			Required:        f.Required,
			Unique:          f.Unique,
			Searchable:      f.Searchable,
			Description:     f.Description,
		})
		if err != nil {
			return fmt.Errorf("failed to copy field %s: %w", f.Name, err)
		}
	}

	for _, p := range source.Permissions {
		permission, err := tx.Permissions().Create(ctx, domain.EntityPermission{
			EntityVersionID: targetVersionID,
			Action:          p.Action,
			Type:            p.Type,
		})
		if err != nil {
			return fmt.Errorf("failed to copy permission %s: %w", p.Action, err)
		}

		roleIDs := make(map[uuid.UUID]uuid.UUID, len(p.PermissionRoles))
		for _, r := range p.PermissionRoles {
			role, err := tx.Permissions().CreateRole(ctx, domain.EntityPermissionRole{
				EntityVersionID: targetVersionID,
				Action:          p.Action,
				AppRoleID:       r.AppRoleID,
			})
			if err != nil {
				return fmt.Errorf("failed to copy permission role: %w", err)
			}
			roleIDs[r.ID] = role.ID
		}

		for _, pf := range p.PermissionFields {
			field, err := tx.Permissions().CreateField(ctx, domain.EntityPermissionField{
				PermissionID:     permission.ID,
				EntityVersionID:  targetVersionID,
				FieldPermanentID: pf.FieldPermanentID,
			})
			if err != nil {
				return fmt.Errorf("failed to copy permission field: %w", err)
			}

			linked := make([]uuid.UUID, 0, len(pf.PermissionRoles))
			for _, r := range pf.PermissionRoles {
				if id, ok := roleIDs[r.ID]; ok {
					linked = append(linked, id)
				}
			}
			if len(linked) > 0 {
				if err := tx.Permissions().ConnectFieldRoles(ctx, field.ID, linked); err != nil {
					return fmt.Errorf("failed to copy permission field roles: %w", err)
				}
			}
		}
	}
	return nil
}
