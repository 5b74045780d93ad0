package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentVersionNumber marks the mutable draft version of an entity. Committed
// versions are numbered from 1.
const CurrentVersionNumber = 0

// UserEntityName is the built-in identity entity that can never be deleted.
const UserEntityName = "User"

// User is the identity record a lock or commit points at. Authentication owns
// the full record; the engine only needs the identifier.
type User struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is a named data-model definition scoped to one application.
type Entity struct {
	ID                uuid.UUID  `json:"id"`
	AppID             uuid.UUID  `json:"app_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Name              string     `json:"name"`
	DisplayName       string     `json:"display_name"`
	PluralDisplayName string     `json:"plural_display_name"`
	Description       string     `json:"description"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	LockedByUserID    *uuid.UUID `json:"locked_by_user_id,omitempty"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`

	// Hydrated on request only.
	Versions     []EntityVersion `json:"versions,omitempty"`
	LockedByUser *User           `json:"locked_by_user,omitempty"`
}

// IsUserEntity reports whether the entity is the reserved identity entity.
func (e Entity) IsUserEntity() bool {
	return strings.EqualFold(e.Name, UserEntityName)
}

// IsDeleted reports whether the entity was soft deleted.
func (e Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// IsLockedByOther reports whether someone other than userID holds the lock.
func (e Entity) IsLockedByOther(userID uuid.UUID) bool {
	return e.LockedByUserID != nil && *e.LockedByUserID != userID
}

// Names returns the name fields shared by an entity and its versions.
func (e Entity) Names() EntityNames {
	return EntityNames{
		Name:              e.Name,
		DisplayName:       e.DisplayName,
		PluralDisplayName: e.PluralDisplayName,
		Description:       e.Description,
	}
}

// WithNames returns a copy of the entity carrying the given names.
func (e Entity) WithNames(names EntityNames) Entity {
	e.Name = names.Name
	e.DisplayName = names.DisplayName
	e.PluralDisplayName = names.PluralDisplayName
	e.Description = names.Description
	return e
}

// EntityNames groups the user-visible naming attributes mirrored between an
// entity and its draft version.
type EntityNames struct {
	Name              string `json:"name"`
	DisplayName       string `json:"display_name"`
	PluralDisplayName string `json:"plural_display_name"`
	Description       string `json:"description"`
}

// EntityVersion is a snapshot of an entity. The draft has
// VersionNumber == CurrentVersionNumber and no commit; every other version is
// frozen.
type EntityVersion struct {
	ID                uuid.UUID  `json:"id"`
	EntityID          uuid.UUID  `json:"entity_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	VersionNumber     int        `json:"version_number"`
	CommitID          *uuid.UUID `json:"commit_id,omitempty"`
	Name              string     `json:"name"`
	DisplayName       string     `json:"display_name"`
	PluralDisplayName string     `json:"plural_display_name"`
	Description       string     `json:"description"`
	Deleted           bool       `json:"deleted"`

	Fields      []EntityField      `json:"fields,omitempty"`
	Permissions []EntityPermission `json:"permissions,omitempty"`
	Commit      *Commit            `json:"commit,omitempty"`
	Entity      *Entity            `json:"entity,omitempty"`
}

// IsDraft reports whether the version is the mutable draft.
func (v EntityVersion) IsDraft() bool {
	return v.VersionNumber == CurrentVersionNumber
}

// Names returns the naming attributes of the version.
func (v EntityVersion) Names() EntityNames {
	return EntityNames{
		Name:              v.Name,
		DisplayName:       v.DisplayName,
		PluralDisplayName: v.PluralDisplayName,
		Description:       v.Description,
	}
}

// WithNames returns a copy of the version carrying the given names.
func (v EntityVersion) WithNames(names EntityNames) EntityVersion {
	v.Name = names.Name
	v.DisplayName = names.DisplayName
	v.PluralDisplayName = names.PluralDisplayName
	v.Description = names.Description
	return v
}

// EntityField is one field of one entity version. PermanentID identifies the
// same logical field across versions.
type EntityField struct {
	ID              uuid.UUID      `json:"id"`
	PermanentID     string         `json:"permanent_id"`
	EntityVersionID uuid.UUID      `json:"entity_version_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Name            string         `json:"name"`
	DisplayName     string         `json:"display_name"`
	DataType        DataType       `json:"data_type"`
	Properties      map[string]any `json:"properties"`
	Required        bool           `json:"required"`
	Unique          bool           `json:"unique"`
	Searchable      bool           `json:"searchable"`
	Description     string         `json:"description"`

	EntityVersion *EntityVersion `json:"entity_version,omitempty"`
}

// LookupProperties reads the relation attributes of a Lookup field.
func (f EntityField) LookupProperties() (LookupProperties, bool) {
	if f.DataType != DataTypeLookup {
		return LookupProperties{}, false
	}
	return LookupPropertiesFrom(f.Properties), true
}

// Commit freezes the drafts of an application into committed versions.
type Commit struct {
	ID        uuid.UUID `json:"id"`
	AppID     uuid.UUID `json:"app_id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uuid.UUID `json:"user_id"`
	Message   string    `json:"message"`
}

// AppRole is a role defined by the generated application.
type AppRole struct {
	ID          uuid.UUID `json:"id"`
	AppID       uuid.UUID `json:"app_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
}
