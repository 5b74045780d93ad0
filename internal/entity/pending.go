package entity

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/modelvc/internal/auth"
	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
)

// GetChangedEntities returns the pending changes of an app. Entities locked
// by a user other than userID are skipped.
func (s *Service) GetChangedEntities(ctx context.Context, appID, userID uuid.UUID) ([]domain.EntityPendingChange, error) {
	if err := auth.EnforceAppScope(ctx, appID); err != nil {
		return nil, err
	}
	return s.changedEntities(ctx, s.store, repository.EntityFilter{AppID: &appID}, &userID)
}

func (s *Service) changedEntities(ctx context.Context, store repository.Store, filter repository.EntityFilter, userID *uuid.UUID) ([]domain.EntityPendingChange, error) {
	filter.IncludeDeleted = true
	entities, err := repository.LoadEntities(ctx, store, filter, repository.EntityInclude{
		Versions:     true,
		LockedByUser: true,
	})
	if err != nil {
		return nil, err
	}

	changes := make([]domain.EntityPendingChange, 0, len(entities))
	for _, e := range entities {
		if userID != nil && e.IsLockedByOther(*userID) {
			continue
		}
		change, ok, err := s.classify(ctx, store, e)
		if err != nil {
			return nil, err
		}
		if ok {
			changes = append(changes, change)
		}
	}
	return changes, nil
}

// classify compares the draft of an entity (loaded with its versions) with
// its latest committed version.
func (s *Service) classify(ctx context.Context, store repository.Store, entity domain.Entity) (domain.EntityPendingChange, bool, error) {
	draft, committed := splitVersions(entity.Versions)
	if draft == nil {
		return domain.EntityPendingChange{}, false, nil
	}

	var last *domain.EntityVersion
	if len(committed) > 0 {
		last = &committed[len(committed)-1]
	}

	change := domain.EntityPendingChange{
		ResourceID:    entity.ID,
		ResourceType:  domain.PendingChangeResourceTypeEntity,
		VersionNumber: 1,
		Resource:      entity,
	}
	if last != nil {
		change.VersionNumber = last.VersionNumber + 1
	}

	switch {
	case last == nil && draft.Deleted:
		return domain.EntityPendingChange{}, false, nil
	case entity.IsDeleted():
		if last != nil && last.Deleted {
			return domain.EntityPendingChange{}, false, nil
		}
		change.Action = domain.PendingChangeActionDelete
		return change, true, nil
	case last == nil:
		change.Action = domain.PendingChangeActionCreate
		return change, true, nil
	}

	different, err := s.versionsDiffer(ctx, store, draft.ID, last.ID)
	if err != nil || !different {
		return domain.EntityPendingChange{}, false, err
	}
	change.Action = domain.PendingChangeActionUpdate
	return change, true, nil
}

func (s *Service) versionsDiffer(ctx context.Context, store repository.Store, sourceID, targetID uuid.UUID) (bool, error) {
	versions, err := repository.LoadVersions(ctx, store, repository.VersionFilter{IDs: []uuid.UUID{sourceID, targetID}},
		repository.VersionInclude{Fields: true, Permissions: true})
	if err != nil {
		return false, err
	}

	var source, target *domain.EntityVersion
	for i := range versions {
		switch versions[i].ID {
		case sourceID:
			source = &versions[i]
		case targetID:
			target = &versions[i]
		}
	}
	return domain.AreDifferent(source, target), nil
}

// GetChangedEntitiesByCommit lists the changes a commit froze. The version
// bound to the commit decides the action.
func (s *Service) GetChangedEntitiesByCommit(ctx context.Context, commitID uuid.UUID) ([]domain.EntityPendingChange, error) {
	if _, ok := auth.AppIDFromContext(ctx); ok {
		commit, err := s.store.Commits().GetByID(ctx, commitID)
		if err != nil {
			return nil, err
		}
		if err := auth.EnforceAppScope(ctx, commit.AppID); err != nil {
			return nil, err
		}
	}
	versions, err := s.store.Versions().List(ctx, repository.VersionFilter{CommitID: &commitID})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return []domain.EntityPendingChange{}, nil
	}

	byEntity := make(map[uuid.UUID]domain.EntityVersion, len(versions))
	ids := make([]uuid.UUID, 0, len(versions))
	for _, v := range versions {
		byEntity[v.EntityID] = v
		ids = append(ids, v.EntityID)
	}

	entities, err := repository.LoadEntities(ctx, s.store, repository.EntityFilter{IDs: ids, IncludeDeleted: true},
		repository.EntityInclude{LockedByUser: true})
	if err != nil {
		return nil, err
	}

	changes := make([]domain.EntityPendingChange, 0, len(entities))
	for _, e := range entities {
		v, ok := byEntity[e.ID]
		if !ok {
			continue
		}

		action := domain.PendingChangeActionCreate
		switch {
		case v.Deleted:
			action = domain.PendingChangeActionDelete
		case v.VersionNumber > 1:
			action = domain.PendingChangeActionUpdate
		}
		changes = append(changes, domain.EntityPendingChange{
			ResourceID:    e.ID,
			Action:        action,
			ResourceType:  domain.PendingChangeResourceTypeEntity,
			VersionNumber: v.VersionNumber,
			Resource:      e,
		})
	}
	return changes, nil
}

// HasPendingChanges reports whether the draft of an entity differs from its
// latest committed version.
func (s *Service) HasPendingChanges(ctx context.Context, entityID uuid.UUID) (bool, error) {
	entities, err := repository.LoadEntities(ctx, s.store, repository.EntityFilter{
		IDs:            []uuid.UUID{entityID},
		IncludeDeleted: true,
	}, repository.EntityInclude{Versions: true})
	if err != nil {
		return false, err
	}
	if len(entities) == 0 {
		return false, domain.NewNotFoundError("entity", entityID)
	}
	if err := auth.EnforceAppScope(ctx, entities[0].AppID); err != nil {
		return false, err
	}

	entity := entities[0]
	if len(entity.Versions) == 1 && entity.Versions[0].Deleted {
		return false, nil
	}
	_, changed, err := s.classify(ctx, s.store, entity)
	return changed, err
}
