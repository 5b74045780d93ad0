package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNameValidation        = errors.New("name validation failed")
	ErrProtectedResource     = errors.New("protected resource")
	ErrNotFound              = errors.New("record not found")
	ErrInvalidFieldSelection = errors.New("invalid field selected")
	ErrImmutableVersion      = errors.New("cannot update settings on committed versions")
	ErrPropertyValidation    = errors.New("invalid properties")
)

// NameValidationError reports a name that fails the identifier grammar or is
// reserved.
type NameValidationError struct {
	Name      string
	Offending []string
	Reserved  bool
}

func (e *NameValidationError) Error() string {
	if e.Reserved {
		return fmt.Sprintf("name %q is a reserved word", e.Name)
	}
	if len(e.Offending) == 0 {
		return fmt.Sprintf("name %q must be a valid identifier", e.Name)
	}
	return fmt.Sprintf("name %q must be a valid identifier, invalid characters: %s", e.Name, strings.Join(e.Offending, " "))
}

func (e *NameValidationError) Unwrap() error { return ErrNameValidation }

// ProtectedResourceError reports an attempt to delete or rename a built-in
// entity. Operation defaults to "delete".
type ProtectedResourceError struct {
	EntityID  uuid.UUID
	Name      string
	Operation string
}

func (e *ProtectedResourceError) Error() string {
	op := e.Operation
	if op == "" {
		op = "delete"
	}
	return fmt.Sprintf("cannot %s the entity %s (%s): it is a protected resource", op, e.Name, e.EntityID)
}

func (e *ProtectedResourceError) Unwrap() error { return ErrProtectedResource }

// NotFoundError reports a missing or soft-deleted record.
type NotFoundError struct {
	Resource string
	ID       string
	Detail   string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found", e.Resource)
	if e.ID != "" {
		msg = fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError for a uuid-keyed record.
func NewNotFoundError(resource string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// InvalidFieldSelectionError names field names absent from an entity draft.
type InvalidFieldSelectionError struct {
	EntityID uuid.UUID
	Missing  []string
}

func (e *InvalidFieldSelectionError) Error() string {
	return fmt.Sprintf("invalid field selected: %s", strings.Join(e.Missing, ", "))
}

func (e *InvalidFieldSelectionError) Unwrap() error { return ErrInvalidFieldSelection }

// ImmutableVersionError reports a mutation attempt on a committed version.
type ImmutableVersionError struct {
	EntityVersionID uuid.UUID
	VersionNumber   int
}

func (e *ImmutableVersionError) Error() string {
	return fmt.Sprintf("cannot update settings on committed versions (version %d, %s)", e.VersionNumber, e.EntityVersionID)
}

func (e *ImmutableVersionError) Unwrap() error { return ErrImmutableVersion }

// PropertyValidationError reports a properties payload that does not match
// its data type.
type PropertyValidationError struct {
	DataType DataType
	Keys     []string
	Messages []string
}

func (e *PropertyValidationError) Error() string {
	return fmt.Sprintf("invalid properties for %s (%s): %s", e.DataType, strings.Join(e.Keys, ", "), strings.Join(e.Messages, "; "))
}

func (e *PropertyValidationError) Unwrap() error { return ErrPropertyValidation }
