package entity

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
	"github.com/rpattn/modelvc/internal/schema/validator"
)

// FieldInput is the user-editable part of a field.
type FieldInput struct {
	Name        string
	DisplayName string
	DataType    domain.DataType
	Properties  map[string]any
	Required    bool
	Unique      bool
	Searchable  bool
	Description string
}

// BulkFieldInput is a field created with a caller-chosen permanent id. An
// empty PermanentID gets a fresh one.
type BulkFieldInput struct {
	PermanentID string
	FieldInput
}

type CreateFieldArgs struct {
	EntityID uuid.UUID
	Field    FieldInput
}

type UpdateFieldArgs struct {
	FieldID uuid.UUID
	Field   FieldInput
}

type CreateDefaultRelatedFieldArgs struct {
	FieldID                 uuid.UUID
	RelatedFieldName        string
	RelatedFieldDisplayName string
}

func validateFieldInput(in FieldInput) error {
	if err := validator.ValidateName(in.Name); err != nil {
		return err
	}
	return validator.ValidateFieldProperties(in.DataType, in.Properties)
}

// validateField checks the name grammar, the properties schema and, for
// lookups, that the related entity lives in appID.
func (s *Service) validateField(ctx context.Context, store repository.Store, appID uuid.UUID, in FieldInput) error {
	if err := validateFieldInput(in); err != nil {
		return err
	}
	if in.DataType != domain.DataTypeLookup {
		return nil
	}
	lookup := domain.LookupPropertiesFrom(in.Properties)
	_, err := s.relatedEntity(ctx, store, appID, lookup.RelatedEntityID)
	return err
}

func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := deepcopy.Copy(&out, props); err != nil || out == nil {
		out = make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
	}
	return out
}

func (s *Service) createFieldRecord(ctx context.Context, tx repository.Store, versionID uuid.UUID, permanentID string, in FieldInput) (domain.EntityField, error) {
	return tx.Fields().Create(ctx, domain.EntityField{
		PermanentID:     permanentID,
		EntityVersionID: versionID,
		Name:            in.Name,
		DisplayName:     in.DisplayName,
		DataType:        in.DataType,
		Properties:      copyProperties(in.Properties),
		Required:        in.Required,
		Unique:          in.Unique,
		Searchable:      in.Searchable,
		Description:     in.Description,
	})
}

// CreateField adds a field with a fresh permanent id to the entity draft.
// A relatedFieldId on a new lookup is ignored; CreateDefaultRelatedField
// links the two sides.
func (s *Service) CreateField(ctx context.Context, args CreateFieldArgs, user domain.User) (domain.EntityField, error) {
	in := args.Field
	if in.DataType == domain.DataTypeLookup {
		lookup := domain.LookupPropertiesFrom(in.Properties)
		lookup.RelatedFieldID = ""
		in.Properties = lookup.Map()
	}

	var created domain.EntityField
	err := s.useLocking(ctx, args.EntityID, user, func(entity domain.Entity) error {
		if err := s.validateField(ctx, s.store, entity.AppID, in); err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			draft, err := s.getDraft(ctx, tx, entity.ID, repository.VersionInclude{})
			if err != nil {
				return err
			}
			if err := domain.EnsureDraft(ctx, draft); err != nil {
				return err
			}
			created, err = s.createFieldRecord(ctx, tx, draft.ID, s.newPermanentID(), in)
			return err
		})
	})
	if err != nil {
		return domain.EntityField{}, err
	}

	s.logger.Info("field created",
		zap.String("entity_id", args.EntityID.String()),
		zap.String("field", created.Name),
		zap.String("permanent_id", created.PermanentID),
		zap.String("user_id", user.ID.String()),
	)
	return created, nil
}

// UpdateField replaces the editable attributes of a draft field. A lookup
// keeps its related field while it still points at the same entity;
// retargeting it or changing its type removes the counterpart.
func (s *Service) UpdateField(ctx context.Context, args UpdateFieldArgs, user domain.User) (domain.EntityField, error) {
	field, err := s.store.Fields().GetByID(ctx, args.FieldID)
	if err != nil {
		return domain.EntityField{}, err
	}
	version, err := s.store.Versions().GetByID(ctx, field.EntityVersionID)
	if err != nil {
		return domain.EntityField{}, err
	}

	var updated domain.EntityField
	err = s.useLocking(ctx, version.EntityID, user, func(entity domain.Entity) error {
		if err := domain.EnsureDraft(ctx, version); err != nil {
			return err
		}
		if err := s.validateField(ctx, s.store, entity.AppID, args.Field); err != nil {
			return err
		}

		return s.store.WithTx(ctx, func(tx repository.Store) error {
			current, err := tx.Fields().GetByID(ctx, args.FieldID)
			if err != nil {
				return err
			}

			props := copyProperties(args.Field.Properties)
			oldLookup, wasLookup := current.LookupProperties()
			linked := wasLookup && oldLookup.RelatedFieldID != ""
			if args.Field.DataType == domain.DataTypeLookup {
				newLookup := domain.LookupPropertiesFrom(props)
				newLookup.RelatedFieldID = ""
				if linked && newLookup.RelatedEntityID == oldLookup.RelatedEntityID {
					newLookup.RelatedFieldID = oldLookup.RelatedFieldID
					linked = false
				}
				props = newLookup.Map()
			}
			if linked {
				if err := s.deleteRelatedField(ctx, tx, oldLookup); err != nil {
					return err
				}
			}

			current.Name = args.Field.Name
			current.DisplayName = args.Field.DisplayName
			current.DataType = args.Field.DataType
			current.Properties = props
			current.Required = args.Field.Required
			current.Unique = args.Field.Unique
			current.Searchable = args.Field.Searchable
			current.Description = args.Field.Description

			updated, err = tx.Fields().Update(ctx, current)
			return err
		})
	})
	if err != nil {
		return domain.EntityField{}, err
	}

	s.logger.Info("field updated",
		zap.String("entity_id", version.EntityID.String()),
		zap.String("field", updated.Name),
		zap.String("user_id", user.ID.String()),
	)
	return updated, nil
}

// DeleteField removes a draft field, its permission-field bindings and, for a
// linked lookup, the counterpart on the related entity.
func (s *Service) DeleteField(ctx context.Context, fieldID uuid.UUID, user domain.User) (domain.EntityField, error) {
	field, err := s.store.Fields().GetByID(ctx, fieldID)
	if err != nil {
		return domain.EntityField{}, err
	}
	version, err := s.store.Versions().GetByID(ctx, field.EntityVersionID)
	if err != nil {
		return domain.EntityField{}, err
	}

	err = s.useLocking(ctx, version.EntityID, user, func(domain.Entity) error {
		if err := domain.EnsureDraft(ctx, version); err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			if lookup, ok := field.LookupProperties(); ok && lookup.RelatedFieldID != "" {
				if err := s.deleteRelatedField(ctx, tx, lookup); err != nil {
					return err
				}
			}
			return tx.Fields().Delete(ctx, field.ID)
		})
	})
	if err != nil {
		return domain.EntityField{}, err
	}

	s.logger.Info("field deleted",
		zap.String("entity_id", version.EntityID.String()),
		zap.String("field", field.Name),
		zap.String("user_id", user.ID.String()),
	)
	return field, nil
}

// deleteRelatedField drops the counterpart of a lookup from the related
// entity's draft. A missing counterpart or related draft is not an error.
func (s *Service) deleteRelatedField(ctx context.Context, tx repository.Store, lookup domain.LookupProperties) error {
	draft, err := s.getDraft(ctx, tx, lookup.RelatedEntityID, repository.VersionInclude{})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	counterparts, err := tx.Fields().List(ctx, repository.FieldFilter{
		EntityVersionIDs: []uuid.UUID{draft.ID},
		PermanentIDs:     []string{lookup.RelatedFieldID},
	})
	if err != nil {
		return err
	}
	for _, f := range counterparts {
		if err := tx.Fields().Delete(ctx, f.ID); err != nil {
			return fmt.Errorf("failed to delete related field %s: %w", f.Name, err)
		}
	}
	return nil
}

// BulkCreateFields adds several fields with caller-chosen permanent ids to
// the entity draft.
func (s *Service) BulkCreateFields(ctx context.Context, user domain.User, entityID uuid.UUID, fields []BulkFieldInput) ([]domain.EntityField, error) {
	var created []domain.EntityField
	err := s.useLocking(ctx, entityID, user, func(entity domain.Entity) error {
		for _, f := range fields {
			if err := validateFieldInput(f.FieldInput); err != nil {
				return err
			}
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			draft, err := s.getDraft(ctx, tx, entityID, repository.VersionInclude{})
			if err != nil {
				return err
			}
			if err := domain.EnsureDraft(ctx, draft); err != nil {
				return err
			}
			if err := s.relatedEntities(ctx, tx, entity.AppID, lookupTargets(fields)); err != nil {
				return err
			}
			created, err = s.createBulkFields(ctx, tx, draft.ID, fields)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// createBulkFields writes fields whose lookup targets were already resolved.
func (s *Service) createBulkFields(ctx context.Context, tx repository.Store, versionID uuid.UUID, fields []BulkFieldInput) ([]domain.EntityField, error) {
	created := make([]domain.EntityField, 0, len(fields))
	for _, f := range fields {
		permanentID := f.PermanentID
		if permanentID == "" {
			permanentID = s.newPermanentID()
		}
		field, err := s.createFieldRecord(ctx, tx, versionID, permanentID, f.FieldInput)
		if err != nil {
			return nil, err
		}
		created = append(created, field)
	}
	return created, nil
}

// CreateDefaultRelatedField creates the inverse lookup of fieldID on the
// related entity and records its permanent id as the original's
// relatedFieldId.
func (s *Service) CreateDefaultRelatedField(ctx context.Context, args CreateDefaultRelatedFieldArgs, user domain.User) (domain.EntityField, error) {
	field, err := s.store.Fields().GetByID(ctx, args.FieldID)
	if err != nil {
		return domain.EntityField{}, err
	}
	version, err := s.store.Versions().GetByID(ctx, field.EntityVersionID)
	if err != nil {
		return domain.EntityField{}, err
	}
	if err := domain.EnsureDraft(ctx, version); err != nil {
		return domain.EntityField{}, err
	}

	lookup, ok := field.LookupProperties()
	if !ok {
		return domain.EntityField{}, &domain.PropertyValidationError{
			DataType: field.DataType,
			Keys:     []string{"dataType"},
			Messages: []string{"a related field can only be created for a Lookup field"},
		}
	}
	if lookup.RelatedFieldID != "" {
		return domain.EntityField{}, &domain.PropertyValidationError{
			DataType: field.DataType,
			Keys:     []string{"relatedFieldId"},
			Messages: []string{fmt.Sprintf("field %s already has a related field", field.Name)},
		}
	}

	inverse := FieldInput{
		Name:        args.RelatedFieldName,
		DisplayName: args.RelatedFieldDisplayName,
		DataType:    domain.DataTypeLookup,
		Properties: domain.LookupProperties{
			RelatedEntityID:        version.EntityID,
			AllowMultipleSelection: !lookup.AllowMultipleSelection,
			RelatedFieldID:         field.PermanentID,
		}.Map(),
		Required:   false,
		Unique:     false,
		Searchable: true,
	}

	var created domain.EntityField
	err = s.useLocking(ctx, lookup.RelatedEntityID, user, func(domain.Entity) error {
		if err := validateFieldInput(inverse); err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx repository.Store) error {
			relatedDraft, err := s.getDraft(ctx, tx, lookup.RelatedEntityID, repository.VersionInclude{})
			if err != nil {
				return err
			}
			created, err = s.createFieldRecord(ctx, tx, relatedDraft.ID, s.newPermanentID(), inverse)
			if err != nil {
				return err
			}

			lookup.RelatedFieldID = created.PermanentID
			field.Properties = lookup.Map()
			_, err = tx.Fields().Update(ctx, field)
			return err
		})
	})
	if err != nil {
		return domain.EntityField{}, err
	}

	s.logger.Info("related field created",
		zap.String("entity_id", lookup.RelatedEntityID.String()),
		zap.String("field", created.Name),
		zap.String("related_field_id", field.PermanentID),
		zap.String("user_id", user.ID.String()),
	)
	return created, nil
}

// ValidateAllFieldsExist returns the requested names missing from the draft.
func (s *Service) ValidateAllFieldsExist(ctx context.Context, entityID uuid.UUID, names []string) (mapset.Set[string], error) {
	if err := s.scopeEntity(ctx, s.store, entityID); err != nil {
		return nil, err
	}
	return s.validateAllFieldsExist(ctx, s.store, entityID, names)
}

func (s *Service) validateAllFieldsExist(ctx context.Context, store repository.Store, entityID uuid.UUID, names []string) (mapset.Set[string], error) {
	requested := mapset.NewSet(names...)
	if requested.Cardinality() == 0 {
		return requested, nil
	}

	draft, err := s.getDraft(ctx, store, entityID, repository.VersionInclude{})
	if err != nil {
		return nil, err
	}
	fields, err := store.Fields().List(ctx, repository.FieldFilter{
		EntityVersionIDs: []uuid.UUID{draft.ID},
		Names:            requested.ToSlice(),
	})
	if err != nil {
		return nil, err
	}

	existing := mapset.NewSet[string]()
	for _, f := range fields {
		existing.Add(f.Name)
	}
	return requested.Difference(existing), nil
}

// GetFields lists draft fields of an entity. The filter's version ids are
// replaced by the draft's.
func (s *Service) GetFields(ctx context.Context, entityID uuid.UUID, filter repository.FieldFilter) ([]domain.EntityField, error) {
	if _, err := s.getEntity(ctx, s.store, entityID); err != nil {
		return nil, err
	}
	draft, err := s.getDraft(ctx, s.store, entityID, repository.VersionInclude{})
	if err != nil {
		return nil, err
	}
	filter.EntityVersionIDs = []uuid.UUID{draft.ID}
	return s.store.Fields().List(ctx, filter)
}
