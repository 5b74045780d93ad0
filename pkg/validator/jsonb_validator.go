package validator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PropertyType is the JSON shape a property value must have.
type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeInteger PropertyType = "integer"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeUUID    PropertyType = "uuid"
	// PropertyTypeOptions is a non-empty array of {label, value} string pairs.
	PropertyTypeOptions PropertyType = "options"
)

// JSONBValidator validates JSONB property payloads against a definition set.
type JSONBValidator struct{}

// NewJSONBValidator creates a new JSONB validator
func NewJSONBValidator() *JSONBValidator {
	return &JSONBValidator{}
}

// PropertyDefinition describes one allowed key of a properties payload.
type PropertyDefinition struct {
	Type        PropertyType `json:"type"`
	Required    bool         `json:"required"`
	Description string       `json:"description,omitempty"`
	Enum        []string     `json:"enum,omitempty"`
	Minimum     *float64     `json:"minimum,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Fields returns the sorted, de-duplicated keys that failed validation.
func (r ValidationResult) Fields() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if _, ok := seen[e.Field]; ok {
			continue
		}
		seen[e.Field] = struct{}{}
		out = append(out, e.Field)
	}
	sort.Strings(out)
	return out
}

// Messages returns the error messages in key order.
func (r ValidationResult) Messages() []string {
	errs := append([]ValidationError(nil), r.Errors...)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Message
	}
	return out
}

// ValidateProperties validates a properties payload against its definitions.
// Keys not present in definitions are rejected.
func (jv *JSONBValidator) ValidateProperties(properties map[string]any, definitions map[string]PropertyDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	for name, def := range definitions {
		value, exists := properties[name]

		if def.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("required property '%s' is missing", name),
			})
			continue
		}

		if !exists || value == nil {
			continue
		}

		if err := jv.validateType(name, value, def); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   name,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	for name, value := range properties {
		if _, exists := definitions[name]; !exists {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("property '%s' is not defined in schema", name),
				Value:   value,
			})
		}
	}

	return result
}

func (jv *JSONBValidator) validateType(name string, value any, def PropertyDefinition) error {
	switch def.Type {
	case PropertyTypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("property '%s' must be a string, got %T", name, value)
		}
		if len(def.Enum) > 0 && !contains(def.Enum, str) {
			return fmt.Errorf("property '%s' must be one of %s, got %q", name, strings.Join(def.Enum, ", "), str)
		}
	case PropertyTypeInteger:
		n, ok := jv.asInteger(value)
		if !ok {
			return fmt.Errorf("property '%s' must be an integer, got %T", name, value)
		}
		if def.Minimum != nil && float64(n) < *def.Minimum {
			return fmt.Errorf("property '%s' value %d is less than minimum %v", name, n, *def.Minimum)
		}
	case PropertyTypeNumber:
		f, ok := jv.asFloat(value)
		if !ok {
			return fmt.Errorf("property '%s' must be a number, got %T", name, value)
		}
		if def.Minimum != nil && f < *def.Minimum {
			return fmt.Errorf("property '%s' value %v is less than minimum %v", name, f, *def.Minimum)
		}
	case PropertyTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("property '%s' must be a boolean, got %T", name, value)
		}
	case PropertyTypeUUID:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("property '%s' must be a UUID string, got %T", name, value)
		}
		if _, err := uuid.Parse(strings.TrimSpace(str)); err != nil {
			return fmt.Errorf("property '%s' must be a valid UUID string: %v", name, err)
		}
	case PropertyTypeOptions:
		return jv.validateOptions(name, value)
	default:
		return fmt.Errorf("unknown property type: %s", def.Type)
	}

	return nil
}

func (jv *JSONBValidator) validateOptions(name string, value any) error {
	items, err := toObjectSlice(value)
	if err != nil {
		return fmt.Errorf("property '%s' must be an array of options: %v", name, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("property '%s' must contain at least one option", name)
	}
	for idx, item := range items {
		label, ok := item["label"].(string)
		if !ok || strings.TrimSpace(label) == "" {
			return fmt.Errorf("property '%s[%d]' requires a non-empty label", name, idx)
		}
		val, ok := item["value"].(string)
		if !ok || strings.TrimSpace(val) == "" {
			return fmt.Errorf("property '%s[%d]' requires a non-empty value", name, idx)
		}
		for key := range item {
			if key != "label" && key != "value" {
				return fmt.Errorf("property '%s[%d]' has unknown key '%s'", name, idx, key)
			}
		}
	}
	return nil
}

// toObjectSlice accepts both decoded JSON arrays and typed Go slices.
func toObjectSlice(value any) ([]map[string]any, error) {
	switch typed := value.(type) {
	case []map[string]any:
		return typed, nil
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element must be an object, got %T", item)
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		var out []map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("got %T", value)
		}
		return out, nil
	}
}

func (jv *JSONBValidator) asInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (jv *JSONBValidator) asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	if n, ok := jv.asInteger(value); ok {
		return float64(n), true
	}
	return 0, false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
