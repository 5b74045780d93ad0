package validator

import (
	"reflect"
	"testing"
)

func minimum(v float64) *float64 { return &v }

func TestJSONBValidatorRequiredAndUnknownKeys(t *testing.T) {
	v := NewJSONBValidator()

	definitions := map[string]PropertyDefinition{
		"maxLength": {Type: PropertyTypeInteger, Required: true, Minimum: minimum(1)},
	}

	result := v.ValidateProperties(map[string]any{}, definitions)
	if result.IsValid {
		t.Fatalf("expected missing required property to fail")
	}
	if got := result.Fields(); !reflect.DeepEqual(got, []string{"maxLength"}) {
		t.Fatalf("expected maxLength to be reported, got %v", got)
	}

	result = v.ValidateProperties(map[string]any{"maxLength": 10, "colour": "red"}, definitions)
	if result.IsValid {
		t.Fatalf("expected unknown property to fail")
	}
	if got := result.Fields(); !reflect.DeepEqual(got, []string{"colour"}) {
		t.Fatalf("expected colour to be reported, got %v", got)
	}

	result = v.ValidateProperties(map[string]any{"maxLength": float64(256)}, definitions)
	if !result.IsValid {
		t.Fatalf("expected JSON-decoded integer to pass, got errors: %+v", result.Errors)
	}

	result = v.ValidateProperties(map[string]any{"maxLength": 0}, definitions)
	if result.IsValid {
		t.Fatalf("expected value below minimum to fail")
	}
}

func TestJSONBValidatorEnumAndUUID(t *testing.T) {
	v := NewJSONBValidator()

	definitions := map[string]PropertyDefinition{
		"timeZone":        {Type: PropertyTypeString, Required: true, Enum: []string{"localTime", "serverTime"}},
		"relatedEntityId": {Type: PropertyTypeUUID},
	}

	result := v.ValidateProperties(map[string]any{"timeZone": "utc"}, definitions)
	if result.IsValid {
		t.Fatalf("expected enum mismatch to fail")
	}

	result = v.ValidateProperties(map[string]any{"timeZone": "localTime", "relatedEntityId": "nope"}, definitions)
	if result.IsValid {
		t.Fatalf("expected invalid uuid to fail")
	}

	result = v.ValidateProperties(map[string]any{
		"timeZone":        "serverTime",
		"relatedEntityId": "123e4567-e89b-12d3-a456-426614174000",
	}, definitions)
	if !result.IsValid {
		t.Fatalf("expected valid payload, got errors: %+v", result.Errors)
	}
}

func TestJSONBValidatorOptions(t *testing.T) {
	v := NewJSONBValidator()
	definitions := map[string]PropertyDefinition{
		"options": {Type: PropertyTypeOptions, Required: true},
	}

	cases := []struct {
		name  string
		value any
		valid bool
	}{
		{"typed slice", []map[string]any{{"label": "Option 1", "value": "Option1"}}, true},
		{"decoded json", []any{map[string]any{"label": "A", "value": "a"}}, true},
		{"empty", []any{}, false},
		{"missing value", []any{map[string]any{"label": "A"}}, false},
		{"extra key", []any{map[string]any{"label": "A", "value": "a", "color": "red"}}, false},
		{"not an array", "A", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.ValidateProperties(map[string]any{"options": tc.value}, definitions)
			if result.IsValid != tc.valid {
				t.Fatalf("expected valid=%v, got %v (%+v)", tc.valid, result.IsValid, result.Errors)
			}
		})
	}
}
