package entity

import (
	"github.com/rpattn/modelvc/internal/domain"
)

// initialEntityFields are added to the draft of every new entity.
func initialEntityFields() []FieldInput {
	return []FieldInput{
		{
			Name:        "id",
			DisplayName: "Id",
			DataType:    domain.DataTypeID,
			Properties:  map[string]any{},
			Required:    true,
			Unique:      false,
			Searchable:  false,
		},
		{
			Name:        "createdAt",
			DisplayName: "Created At",
			DataType:    domain.DataTypeCreatedAt,
			Properties:  map[string]any{},
			Required:    true,
		},
		{
			Name:        "updatedAt",
			DisplayName: "Updated At",
			DataType:    domain.DataTypeUpdatedAt,
			Properties:  map[string]any{},
			Required:    true,
		},
	}
}

func textField(name, displayName string) BulkFieldInput {
	return BulkFieldInput{FieldInput: FieldInput{
		Name:        name,
		DisplayName: displayName,
		DataType:    domain.DataTypeSingleLineText,
		Properties:  map[string]any{"maxLength": 256},
		Searchable:  true,
	}}
}

// DefaultEntities is the seed applied to a new app.
func DefaultEntities() []BulkEntityInput {
	fields := make([]BulkFieldInput, 0, 8)
	for _, f := range initialEntityFields() {
		fields = append(fields, BulkFieldInput{FieldInput: f})
	}
	fields = append(fields,
		textField("firstName", "First Name"),
		textField("lastName", "Last Name"),
		BulkFieldInput{FieldInput: FieldInput{
			Name:        "username",
			DisplayName: "Username",
			DataType:    domain.DataTypeUsername,
			Properties:  map[string]any{},
			Required:    true,
			Unique:      true,
			Searchable:  true,
		}},
		BulkFieldInput{FieldInput: FieldInput{
			Name:        "password",
			DisplayName: "Password",
			DataType:    domain.DataTypePassword,
			Properties:  map[string]any{},
			Required:    true,
		}},
		BulkFieldInput{FieldInput: FieldInput{
			Name:        "roles",
			DisplayName: "Roles",
			DataType:    domain.DataTypeRoles,
			Properties:  map[string]any{},
			Required:    true,
		}},
	)

	return []BulkEntityInput{
		{
			Name:              domain.UserEntityName,
			DisplayName:       "User",
			PluralDisplayName: "Users",
			Fields:            fields,
		},
	}
}
