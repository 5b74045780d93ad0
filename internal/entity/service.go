package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/auth"
	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/entityloader"
	"github.com/rpattn/modelvc/internal/repository"
)

// Service is the entity versioning engine. It owns drafts, commits, pending
// changes, field and permission edits, and the cooperative edit lock.
type Service struct {
	store          repository.Store
	logger         *zap.Logger
	now            func() time.Time
	allowedActions []domain.EntityAction
	newPermanentID func() string
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAllowedActions sets the actions that new entities grant to all roles.
// Every other action starts Disabled.
func WithAllowedActions(actions []domain.EntityAction) Option {
	return func(s *Service) {
		if actions != nil {
			s.allowedActions = append([]domain.EntityAction(nil), actions...)
		}
	}
}

// WithPermanentIDs overrides the generator used for field permanent ids.
func WithPermanentIDs(next func() string) Option {
	return func(s *Service) {
		if next != nil {
			s.newPermanentID = next
		}
	}
}

func NewService(store repository.Store, opts ...Option) *Service {
	service := &Service{
		store:          store,
		logger:         zap.NewNop(),
		now:            time.Now,
		allowedActions: domain.EntityActions(),
		newPermanentID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreateEntityInput carries the names of a new entity.
type CreateEntityInput struct {
	AppID             uuid.UUID
	Name              string
	DisplayName       string
	PluralDisplayName string
	Description       string
}

// UpdateEntityInput updates only the non-nil names.
type UpdateEntityInput struct {
	Name              *string
	DisplayName       *string
	PluralDisplayName *string
	Description       *string
}

func (in UpdateEntityInput) apply(names domain.EntityNames) domain.EntityNames {
	if in.Name != nil {
		names.Name = *in.Name
	}
	if in.DisplayName != nil {
		names.DisplayName = *in.DisplayName
	}
	if in.PluralDisplayName != nil {
		names.PluralDisplayName = *in.PluralDisplayName
	}
	if in.Description != nil {
		names.Description = *in.Description
	}
	return names
}

// Entity returns a live entity. Soft-deleted entities are not found.
func (s *Service) Entity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	return s.getEntity(ctx, s.store, id)
}

// Entities lists live entities with the requested relations. A scoped
// context narrows the filter to its app.
func (s *Service) Entities(ctx context.Context, filter repository.EntityFilter, include repository.EntityInclude) ([]domain.Entity, error) {
	if scoped, ok := auth.AppIDFromContext(ctx); ok {
		if filter.AppID != nil {
			if err := auth.EnforceAppScope(ctx, *filter.AppID); err != nil {
				return nil, err
			}
		}
		filter.AppID = &scoped
	}
	filter.IncludeDeleted = false
	return repository.LoadEntities(ctx, s.store, filter, include)
}

// GetVersions lists versions with the requested relations.
func (s *Service) GetVersions(ctx context.Context, filter repository.VersionFilter, include repository.VersionInclude) ([]domain.EntityVersion, error) {
	versions, err := repository.LoadVersions(ctx, s.store, filter, include)
	if err != nil {
		return nil, err
	}
	if err := s.scopeVersions(ctx, s.store, versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// GetVersion returns one version of an entity by number.
func (s *Service) GetVersion(ctx context.Context, entityID uuid.UUID, versionNumber int, include repository.VersionInclude) (domain.EntityVersion, error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return domain.EntityVersion{}, err
	}
	versions, err := repository.LoadVersions(ctx, s.store, repository.VersionFilter{
		EntityIDs:     []uuid.UUID{entityID},
		VersionNumber: &versionNumber,
	}, include)
	if err != nil {
		return domain.EntityVersion{}, err
	}
	if len(versions) == 0 {
		return domain.EntityVersion{}, &domain.NotFoundError{
			Resource: "entity version",
			ID:       entityID.String(),
			Detail:   fmt.Sprintf("version %d", versionNumber),
		}
	}
	return versions[0], nil
}

// GetLatestVersions returns the newest committed version of every live entity
// of the app. Entities that were never committed are skipped.
func (s *Service) GetLatestVersions(ctx context.Context, appID uuid.UUID) ([]domain.EntityVersion, error) {
	if err := auth.EnforceAppScope(ctx, appID); err != nil {
		return nil, err
	}
	entities, err := repository.LoadEntities(ctx, s.store, repository.EntityFilter{AppID: &appID}, repository.EntityInclude{
		Versions:      true,
		VersionFilter: repository.VersionFilter{ExcludeDraft: true},
	})
	if err != nil {
		return nil, err
	}

	latest := make([]domain.EntityVersion, 0, len(entities))
	for _, e := range entities {
		if len(e.Versions) == 0 {
			continue
		}
		latest = append(latest, e.Versions[len(e.Versions)-1])
	}
	return latest, nil
}

// GetEntitiesByVersions returns, for every matching version, its entity with
// that single version hydrated with fields and permissions.
func (s *Service) GetEntitiesByVersions(ctx context.Context, filter repository.VersionFilter) ([]domain.Entity, error) {
	versions, err := repository.LoadVersions(ctx, s.store, filter, repository.VersionInclude{
		Fields:      true,
		Permissions: true,
		Entity:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.scopeVersions(ctx, s.store, versions); err != nil {
		return nil, err
	}

	entities := make([]domain.Entity, 0, len(versions))
	for _, v := range versions {
		if v.Entity == nil {
			continue
		}
		e := *v.Entity
		v.Entity = nil
		e.Versions = []domain.EntityVersion{v}
		entities = append(entities, e)
	}
	return entities, nil
}

// IsEntityInSameApp reports whether a live entity belongs to appID.
func (s *Service) IsEntityInSameApp(ctx context.Context, entityID, appID uuid.UUID) (bool, error) {
	if err := auth.EnforceAppScope(ctx, appID); err != nil {
		return false, err
	}
	found, err := s.store.Entities().List(ctx, repository.EntityFilter{
		IDs:   []uuid.UUID{entityID},
		AppID: &appID,
		Limit: 1,
	})
	if err != nil {
		return false, err
	}
	return len(found) == 1, nil
}

// GetVersionCommit returns the commit a version is bound to.
func (s *Service) GetVersionCommit(ctx context.Context, entityVersionID uuid.UUID) (domain.Commit, error) {
	version, err := s.store.Versions().GetByID(ctx, entityVersionID)
	if err != nil {
		return domain.Commit{}, err
	}
	if version.CommitID == nil {
		return domain.Commit{}, &domain.NotFoundError{
			Resource: "commit",
			Detail:   fmt.Sprintf("entity version %s is not committed", entityVersionID),
		}
	}
	commit, err := s.store.Commits().GetByID(ctx, *version.CommitID)
	if err != nil {
		return domain.Commit{}, err
	}
	if err := auth.EnforceAppScope(ctx, commit.AppID); err != nil {
		return domain.Commit{}, err
	}
	return commit, nil
}

func (s *Service) getEntity(ctx context.Context, store repository.Store, id uuid.UUID) (domain.Entity, error) {
	entity, err := store.Entities().GetByID(ctx, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if entity.IsDeleted() {
		return domain.Entity{}, domain.NewNotFoundError("entity", id)
	}
	if err := auth.EnforceAppScope(ctx, entity.AppID); err != nil {
		return domain.Entity{}, err
	}
	return entity, nil
}

// scopeEntity checks that entityID, live or soft-deleted, belongs to the app
// the context is scoped to.
func (s *Service) scopeEntity(ctx context.Context, store repository.Store, entityID uuid.UUID) error {
	if _, ok := auth.AppIDFromContext(ctx); !ok {
		return nil
	}
	entity, err := store.Entities().GetByID(ctx, entityID)
	if err != nil {
		return err
	}
	return auth.EnforceAppScope(ctx, entity.AppID)
}

func (s *Service) scopeVersions(ctx context.Context, store repository.Store, versions []domain.EntityVersion) error {
	if _, ok := auth.AppIDFromContext(ctx); !ok || len(versions) == 0 {
		return nil
	}
	ids := mapset.NewThreadUnsafeSet[uuid.UUID]()
	for _, v := range versions {
		ids.Add(v.EntityID)
	}
	entities, err := store.Entities().List(ctx, repository.EntityFilter{IDs: ids.ToSlice(), IncludeDeleted: true})
	if err != nil {
		return err
	}
	for _, e := range entities {
		if err := auth.EnforceAppScope(ctx, e.AppID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) getDraft(ctx context.Context, store repository.Store, entityID uuid.UUID, include repository.VersionInclude) (domain.EntityVersion, error) {
	draftNumber := domain.CurrentVersionNumber
	versions, err := repository.LoadVersions(ctx, store, repository.VersionFilter{
		EntityIDs:     []uuid.UUID{entityID},
		VersionNumber: &draftNumber,
	}, include)
	if err != nil {
		return domain.EntityVersion{}, err
	}
	if len(versions) == 0 {
		return domain.EntityVersion{}, &domain.NotFoundError{
			Resource: "entity version",
			ID:       entityID.String(),
			Detail:   "draft",
		}
	}
	return versions[0], nil
}

// relatedEntity resolves the target of a lookup and checks it lives in appID.
func (s *Service) relatedEntity(ctx context.Context, store repository.Store, appID, relatedEntityID uuid.UUID) (domain.Entity, error) {
	related, err := entityloader.NewEntityLoader(store.Entities()).Load(ctx, relatedEntityID)
	if err != nil {
		return domain.Entity{}, err
	}
	if related.AppID != appID {
		return domain.Entity{}, &domain.NotFoundError{
			Resource: "entity",
			ID:       relatedEntityID.String(),
			Detail:   "related entity must belong to the same app",
		}
	}
	return related, nil
}

// relatedEntities resolves every lookup target in one batch and checks they
// all live in appID.
func (s *Service) relatedEntities(ctx context.Context, store repository.Store, appID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	related, err := entityloader.NewEntityLoader(store.Entities()).LoadMany(ctx, ids)
	if err != nil {
		return err
	}
	for _, e := range related {
		if e.AppID != appID {
			return &domain.NotFoundError{
				Resource: "entity",
				ID:       e.ID.String(),
				Detail:   "related entity must belong to the same app",
			}
		}
	}
	return nil
}

// lookupTargets returns the distinct related entity ids of the lookup fields.
func lookupTargets(fields []BulkFieldInput) []uuid.UUID {
	targets := mapset.NewThreadUnsafeSet[uuid.UUID]()
	ids := make([]uuid.UUID, 0)
	for _, f := range fields {
		if f.DataType != domain.DataTypeLookup {
			continue
		}
		id := domain.LookupPropertiesFrom(f.Properties).RelatedEntityID
		if targets.Add(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
