package validator

import (
	"strconv"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rpattn/modelvc/internal/domain"
	propsvalidator "github.com/rpattn/modelvc/pkg/validator"
)

// reservedWords cannot be used as entity or field names because generated
// code and queries would collide with language or query keywords.
var reservedWords = mapset.NewThreadUnsafeSet(
	"abstract", "arguments", "async", "await", "boolean", "break", "byte", "case", "catch",
	"char", "class", "const", "constructor", "continue", "debugger", "default", "delete",
	"do", "double", "else", "enum", "eval", "export", "extends", "false", "final",
	"finally", "float", "for", "from", "func", "function", "go", "goto", "group", "if",
	"implements", "import", "in", "instanceof", "int", "interface", "let", "long", "map",
	"native", "new", "null", "order", "package", "private", "protected", "prototype",
	"public", "range", "return", "select", "short", "static", "struct", "super", "switch",
	"synchronized", "table", "this", "throw", "throws", "transient", "true", "try", "type",
	"typeof", "undefined", "var", "void", "volatile", "where", "while", "with", "yield",
)

// IsReservedWord reports whether name is excluded from the identifier grammar.
func IsReservedWord(name string) bool {
	return reservedWords.Contains(name)
}

// ValidateName checks name against the identifier grammar: letters, digits and
// underscores, not starting with a digit, not a reserved word.
func ValidateName(name string) error {
	if name == "" {
		return &domain.NameValidationError{Name: name}
	}

	offending := mapset.NewThreadUnsafeSet[string]()
	ordered := []string{}
	for idx, r := range name {
		valid := r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
		if idx == 0 && unicode.IsDigit(r) {
			valid = false
		}
		if valid {
			continue
		}
		token := strconv.QuoteRune(r)
		if offending.Add(token) {
			ordered = append(ordered, token)
		}
	}

	if len(ordered) > 0 {
		return &domain.NameValidationError{Name: name, Offending: ordered}
	}

	if IsReservedWord(name) {
		return &domain.NameValidationError{Name: name, Reserved: true}
	}

	return nil
}

// ValidateFieldProperties checks a properties payload against the schema
// registered for dataType.
func ValidateFieldProperties(dataType domain.DataType, properties map[string]any) error {
	schema, ok := dataType.PropertySchema()
	if !ok {
		return &domain.PropertyValidationError{
			DataType: dataType,
			Keys:     []string{"dataType"},
			Messages: []string{"unknown data type " + strconv.Quote(string(dataType))},
		}
	}

	if properties == nil {
		properties = map[string]any{}
	}

	result := propsvalidator.NewJSONBValidator().ValidateProperties(properties, schema)
	if result.IsValid {
		return nil
	}

	return &domain.PropertyValidationError{
		DataType: dataType,
		Keys:     result.Fields(),
		Messages: result.Messages(),
	}
}
