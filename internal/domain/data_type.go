package domain

import (
	"github.com/google/uuid"

	"github.com/rpattn/modelvc/pkg/validator"
)

// DataType enumerates the field kinds an entity can declare.
type DataType string

const (
	DataTypeSingleLineText       DataType = "SingleLineText"
	DataTypeMultiLineText        DataType = "MultiLineText"
	DataTypeEmail                DataType = "Email"
	DataTypeWholeNumber          DataType = "WholeNumber"
	DataTypeDateTime             DataType = "DateTime"
	DataTypeDecimalNumber        DataType = "DecimalNumber"
	DataTypeLookup               DataType = "Lookup"
	DataTypeMultiSelectOptionSet DataType = "MultiSelectOptionSet"
	DataTypeOptionSet            DataType = "OptionSet"
	DataTypeBoolean              DataType = "Boolean"
	DataTypeGeographicLocation   DataType = "GeographicLocation"
	DataTypeID                   DataType = "Id"
	DataTypeCreatedAt            DataType = "CreatedAt"
	DataTypeUpdatedAt            DataType = "UpdatedAt"
	DataTypeRoles                DataType = "Roles"
	DataTypeUsername             DataType = "Username"
	DataTypePassword             DataType = "Password"
)

var optionsDefinition = validator.PropertyDefinition{Type: validator.PropertyTypeOptions, Required: true}

// propertySchemas describes the properties payload accepted per data type.
var propertySchemas = map[DataType]map[string]validator.PropertyDefinition{
	DataTypeSingleLineText: {
		"maxLength": {Type: validator.PropertyTypeInteger, Required: true, Minimum: ptrFloat(1)},
	},
	DataTypeMultiLineText: {
		"maxLength": {Type: validator.PropertyTypeInteger, Required: true, Minimum: ptrFloat(1)},
	},
	DataTypeEmail: {},
	DataTypeWholeNumber: {
		"minimumValue": {Type: validator.PropertyTypeInteger, Required: true},
		"maximumValue": {Type: validator.PropertyTypeInteger, Required: true},
	},
	DataTypeDateTime: {
		"timeZone": {Type: validator.PropertyTypeString, Required: true, Enum: []string{"localTime", "serverTime"}},
		"dateOnly": {Type: validator.PropertyTypeBoolean, Required: true},
	},
	DataTypeDecimalNumber: {
		"minimumValue": {Type: validator.PropertyTypeNumber, Required: true},
		"maximumValue": {Type: validator.PropertyTypeNumber, Required: true},
		"precision":    {Type: validator.PropertyTypeInteger, Required: true, Minimum: ptrFloat(0)},
	},
	DataTypeLookup: {
		"relatedEntityId":        {Type: validator.PropertyTypeUUID, Required: true},
		"allowMultipleSelection": {Type: validator.PropertyTypeBoolean, Required: true},
		"relatedFieldId":         {Type: validator.PropertyTypeString},
	},
	DataTypeMultiSelectOptionSet: {"options": optionsDefinition},
	DataTypeOptionSet:            {"options": optionsDefinition},
	DataTypeBoolean:              {},
	DataTypeGeographicLocation:   {},
	DataTypeID:                   {},
	DataTypeCreatedAt:            {},
	DataTypeUpdatedAt:            {},
	DataTypeRoles:                {},
	DataTypeUsername:             {},
	DataTypePassword:             {},
}

// IsValid reports whether the data type is known.
func (d DataType) IsValid() bool {
	_, ok := propertySchemas[d]
	return ok
}

// PropertySchema returns the properties definition for the data type.
func (d DataType) PropertySchema() (map[string]validator.PropertyDefinition, bool) {
	schema, ok := propertySchemas[d]
	return schema, ok
}

// DataTypes lists every known data type in declaration order.
func DataTypes() []DataType {
	return []DataType{
		DataTypeSingleLineText, DataTypeMultiLineText, DataTypeEmail, DataTypeWholeNumber,
		DataTypeDateTime, DataTypeDecimalNumber, DataTypeLookup, DataTypeMultiSelectOptionSet,
		DataTypeOptionSet, DataTypeBoolean, DataTypeGeographicLocation, DataTypeID,
		DataTypeCreatedAt, DataTypeUpdatedAt, DataTypeRoles, DataTypeUsername, DataTypePassword,
	}
}

// LookupProperties is the typed view over a Lookup field's properties.
type LookupProperties struct {
	RelatedEntityID        uuid.UUID
	AllowMultipleSelection bool
	RelatedFieldID         string
}

// LookupPropertiesFrom decodes lookup attributes from a raw properties map.
// Unparseable values decode to their zero value.
func LookupPropertiesFrom(properties map[string]any) LookupProperties {
	var out LookupProperties
	if raw, ok := properties["relatedEntityId"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			out.RelatedEntityID = id
		}
	}
	if raw, ok := properties["allowMultipleSelection"].(bool); ok {
		out.AllowMultipleSelection = raw
	}
	if raw, ok := properties["relatedFieldId"].(string); ok {
		out.RelatedFieldID = raw
	}
	return out
}

// Map renders the lookup attributes as a properties payload.
func (p LookupProperties) Map() map[string]any {
	out := map[string]any{
		"relatedEntityId":        p.RelatedEntityID.String(),
		"allowMultipleSelection": p.AllowMultipleSelection,
	}
	if p.RelatedFieldID != "" {
		out["relatedFieldId"] = p.RelatedFieldID
	}
	return out
}

func ptrFloat(v float64) *float64 {
	return &v
}
