package domain

import (
	"github.com/google/uuid"
)

// EntityAction is an operation a generated application can perform on an entity.
type EntityAction string

const (
	EntityActionCreate EntityAction = "Create"
	EntityActionDelete EntityAction = "Delete"
	EntityActionSearch EntityAction = "Search"
	EntityActionUpdate EntityAction = "Update"
	EntityActionView   EntityAction = "View"
)

// EntityActions lists every action in ascending order.
func EntityActions() []EntityAction {
	return []EntityAction{
		EntityActionCreate,
		EntityActionDelete,
		EntityActionSearch,
		EntityActionUpdate,
		EntityActionView,
	}
}

// IsValid reports whether the action is known.
func (a EntityAction) IsValid() bool {
	for _, known := range EntityActions() {
		if a == known {
			return true
		}
	}
	return false
}

// EntityPermissionType decides which roles may perform an action.
type EntityPermissionType string

const (
	EntityPermissionTypeAllRoles EntityPermissionType = "AllRoles"
	EntityPermissionTypeGranular EntityPermissionType = "Granular"
	EntityPermissionTypeDisabled EntityPermissionType = "Disabled"
)

// IsValid reports whether the permission type is known.
func (t EntityPermissionType) IsValid() bool {
	switch t {
	case EntityPermissionTypeAllRoles, EntityPermissionTypeGranular, EntityPermissionTypeDisabled:
		return true
	}
	return false
}

// EntityPermission binds one action of one version to a permission type.
type EntityPermission struct {
	ID              uuid.UUID            `json:"id"`
	EntityVersionID uuid.UUID            `json:"entity_version_id"`
	Action          EntityAction         `json:"action"`
	Type            EntityPermissionType `json:"type"`

	PermissionRoles  []EntityPermissionRole  `json:"permission_roles,omitempty"`
	PermissionFields []EntityPermissionField `json:"permission_fields,omitempty"`
}

// EntityPermissionRole grants an app role the right to perform an action.
// It is unique per (EntityVersionID, Action, AppRoleID).
type EntityPermissionRole struct {
	ID              uuid.UUID    `json:"id"`
	EntityVersionID uuid.UUID    `json:"entity_version_id"`
	Action          EntityAction `json:"action"`
	AppRoleID       uuid.UUID    `json:"app_role_id"`

	AppRole *AppRole `json:"app_role,omitempty"`
}

// EntityPermissionField restricts an action to a field, optionally further
// restricted to a subset of the action's permission roles.
type EntityPermissionField struct {
	ID               uuid.UUID `json:"id"`
	PermissionID     uuid.UUID `json:"permission_id"`
	EntityVersionID  uuid.UUID `json:"entity_version_id"`
	FieldPermanentID string    `json:"field_permanent_id"`

	Field           *EntityField           `json:"field,omitempty"`
	PermissionRoles []EntityPermissionRole `json:"permission_roles,omitempty"`
	Permission      *EntityPermission      `json:"permission,omitempty"`
}

// DefaultPermissions builds the permission set applied to a new entity draft.
// Actions in allowed are open to every role, the rest start disabled.
func DefaultPermissions(allowed []EntityAction) []EntityPermission {
	open := make(map[EntityAction]bool, len(allowed))
	for _, a := range allowed {
		open[a] = true
	}

	out := make([]EntityPermission, 0, len(EntityActions()))
	for _, action := range EntityActions() {
		permType := EntityPermissionTypeDisabled
		if open[action] {
			permType = EntityPermissionTypeAllRoles
		}
		out = append(out, EntityPermission{Action: action, Type: permType})
	}
	return out
}

// PendingChangeAction classifies a pending change.
type PendingChangeAction string

const (
	PendingChangeActionCreate PendingChangeAction = "Create"
	PendingChangeActionUpdate PendingChangeAction = "Update"
	PendingChangeActionDelete PendingChangeAction = "Delete"
)

// PendingChangeResourceType names the kind of resource that changed.
type PendingChangeResourceType string

const PendingChangeResourceTypeEntity PendingChangeResourceType = "Entity"

// EntityPendingChange is a computed difference between an entity draft and
// its last committed version. It is never stored.
type EntityPendingChange struct {
	ResourceID    uuid.UUID                 `json:"resource_id"`
	Action        PendingChangeAction       `json:"action"`
	ResourceType  PendingChangeResourceType `json:"resource_type"`
	VersionNumber int                       `json:"version_number"`
	Resource      Entity                    `json:"resource"`
}
