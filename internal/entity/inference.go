package entity

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/stoewer/go-strcase"

	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/repository"
)

type CreateFieldByDisplayNameArgs struct {
	EntityID    uuid.UUID
	DisplayName string
}

// fieldNameFromDisplayName turns "Customer Email" into "customerEmail".
func fieldNameFromDisplayName(displayName string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return ' '
	}, displayName)
	return strcase.LowerCamelCase(strings.Join(strings.Fields(cleaned), " "))
}

// CreateFieldCreateInputByDisplayName infers the name, data type and default
// properties of a field from its display name.
func (s *Service) CreateFieldCreateInputByDisplayName(ctx context.Context, args CreateFieldByDisplayNameArgs, entity domain.Entity) (FieldInput, error) {
	displayName := strings.TrimSpace(args.DisplayName)
	lowered := strings.ToLower(displayName)
	input := FieldInput{
		Name:        fieldNameFromDisplayName(displayName),
		DisplayName: displayName,
		Searchable:  true,
	}

	switch {
	case strings.HasSuffix(lowered, "date"):
		input.DataType = domain.DataTypeDateTime
		input.Properties = map[string]any{"timeZone": "localTime", "dateOnly": false}
	case strings.HasSuffix(lowered, "description"):
		input.DataType = domain.DataTypeMultiLineText
		input.Properties = map[string]any{"maxLength": 1000}
	case strings.HasSuffix(lowered, "email"):
		input.DataType = domain.DataTypeEmail
		input.Properties = map[string]any{}
	case strings.HasPrefix(lowered, "is"):
		input.DataType = domain.DataTypeBoolean
		input.Properties = map[string]any{}
	case strings.HasSuffix(lowered, "status"):
		input.DataType = domain.DataTypeOptionSet
		input.Properties = map[string]any{
			"options": []any{map[string]any{"label": "Option 1", "value": "Option1"}},
		}
	default:
		lookup, ok, err := s.inferLookup(ctx, entity, input.Name, displayName)
		if err != nil {
			return FieldInput{}, err
		}
		if ok {
			input.DataType = domain.DataTypeLookup
			input.Properties = lookup.Map()
			return input, nil
		}
		input.DataType = domain.DataTypeSingleLineText
		input.Properties = map[string]any{"maxLength": 256}
	}
	return input, nil
}

// inferLookup looks for an entity of the same app named by displayName. A
// singular match wins over a plural one.
func (s *Service) inferLookup(ctx context.Context, entity domain.Entity, name, displayName string) (domain.LookupProperties, bool, error) {
	if displayName == "" {
		return domain.LookupProperties{}, false, nil
	}

	candidates, err := s.store.Entities().List(ctx, repository.EntityFilter{
		AppID:         &entity.AppID,
		NameEqualFold: &displayName,
	})
	if err != nil {
		return domain.LookupProperties{}, false, err
	}
	if len(candidates) == 0 {
		return domain.LookupProperties{}, false, nil
	}

	missing, err := s.validateAllFieldsExist(ctx, s.store, entity.ID, []string{name})
	if err != nil {
		return domain.LookupProperties{}, false, err
	}
	if !missing.Contains(name) {
		return domain.LookupProperties{}, false, nil
	}

	var plural *domain.Entity
	for i := range candidates {
		c := candidates[i]
		if strings.EqualFold(c.DisplayName, displayName) || strings.EqualFold(c.Name, displayName) {
			return domain.LookupProperties{RelatedEntityID: c.ID}, true, nil
		}
		if plural == nil && strings.EqualFold(c.PluralDisplayName, displayName) {
			plural = &c
		}
	}
	if plural != nil {
		return domain.LookupProperties{RelatedEntityID: plural.ID, AllowMultipleSelection: true}, true, nil
	}
	return domain.LookupProperties{}, false, nil
}

// CreateFieldByDisplayName creates a draft field whose name, data type and
// properties are inferred from a display name.
func (s *Service) CreateFieldByDisplayName(ctx context.Context, args CreateFieldByDisplayNameArgs, user domain.User) (domain.EntityField, error) {
	entity, err := s.getEntity(ctx, s.store, args.EntityID)
	if err != nil {
		return domain.EntityField{}, err
	}
	input, err := s.CreateFieldCreateInputByDisplayName(ctx, args, entity)
	if err != nil {
		return domain.EntityField{}, err
	}
	return s.CreateField(ctx, CreateFieldArgs{EntityID: entity.ID, Field: input}, user)
}
