package repository

import (
	"context"
	"time"

	"github.com/rpattn/modelvc/internal/domain"

	"github.com/google/uuid"
)

// Store is the gateway the entity engine persists through. Every repository
// returned by a Store obtained inside WithTx shares that transaction.
type Store interface {
	Entities() EntityRepository
	Versions() EntityVersionRepository
	Fields() EntityFieldRepository
	Permissions() EntityPermissionRepository
	Commits() CommitRepository
	AppRoles() AppRoleRepository
	Users() UserRepository

	// WithTx runs fn atomically. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// EntityRepository defines the interface for entity operations
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error)
	List(ctx context.Context, filter EntityFilter) ([]domain.Entity, error)
	Update(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	UpdateLock(ctx context.Context, id uuid.UUID, userID *uuid.UUID, lockedAt *time.Time) (domain.Entity, error)
}

// EntityVersionRepository defines the interface for entity version operations
type EntityVersionRepository interface {
	Create(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error)
	GetByNumber(ctx context.Context, entityID uuid.UUID, versionNumber int) (domain.EntityVersion, error)
	List(ctx context.Context, filter VersionFilter) ([]domain.EntityVersion, error)
	Update(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error)
}

// EntityFieldRepository defines the interface for entity field operations
type EntityFieldRepository interface {
	Create(ctx context.Context, field domain.EntityField) (domain.EntityField, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.EntityField, error)
	List(ctx context.Context, filter FieldFilter) ([]domain.EntityField, error)
	Update(ctx context.Context, field domain.EntityField) (domain.EntityField, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error
}

// EntityPermissionRepository defines the interface for permission operations.
// Permissions, their roles and their field bindings are flat records; callers
// assemble them with LoadPermissions.
type EntityPermissionRepository interface {
	Create(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error)
	List(ctx context.Context, filter PermissionFilter) ([]domain.EntityPermission, error)
	Update(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error)
	// DeleteByVersion removes permissions with their roles and field bindings.
	DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error

	CreateRole(ctx context.Context, role domain.EntityPermissionRole) (domain.EntityPermissionRole, error)
	ListRoles(ctx context.Context, filter PermissionRoleFilter) ([]domain.EntityPermissionRole, error)
	DeleteRoles(ctx context.Context, ids []uuid.UUID) error

	CreateField(ctx context.Context, field domain.EntityPermissionField) (domain.EntityPermissionField, error)
	GetField(ctx context.Context, id uuid.UUID) (domain.EntityPermissionField, error)
	ListFields(ctx context.Context, filter PermissionFieldFilter) ([]domain.EntityPermissionField, error)
	DeleteFields(ctx context.Context, ids []uuid.UUID) error

	ConnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error
	DisconnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error
	// ListFieldRoleLinks returns permission role ids keyed by permission field id.
	ListFieldRoleLinks(ctx context.Context, permissionFieldIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
}

// CommitRepository defines the interface for commit operations
type CommitRepository interface {
	Create(ctx context.Context, commit domain.Commit) (domain.Commit, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Commit, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Commit, error)
	List(ctx context.Context, appID uuid.UUID) ([]domain.Commit, error)
}

// AppRoleRepository defines the interface for application role operations
type AppRoleRepository interface {
	Create(ctx context.Context, role domain.AppRole) (domain.AppRole, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.AppRole, error)
	List(ctx context.Context, appID uuid.UUID) ([]domain.AppRole, error)
}

// UserRepository keeps the identity stubs that locks and commits reference.
type UserRepository interface {
	Ensure(ctx context.Context, user domain.User) (domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
}

// EntityFilter selects entities. Results are ordered by creation time then id.
type EntityFilter struct {
	IDs   []uuid.UUID
	AppID *uuid.UUID
	// IncludeDeleted returns soft-deleted entities too.
	IncludeDeleted bool
	// NameEqualFold matches name, displayName or pluralDisplayName case-insensitively.
	NameEqualFold *string
	// CommitID keeps entities having at least one version bound to the commit.
	CommitID *uuid.UUID
	Limit    int
}

// VersionFilter selects entity versions. Results are ordered by entity then
// ascending version number.
type VersionFilter struct {
	IDs           []uuid.UUID
	EntityIDs     []uuid.UUID
	VersionNumber *int
	CommitID      *uuid.UUID
	ExcludeDraft  bool
	Deleted       *bool
}

// FieldFilter selects entity fields. Results are ordered by creation time then id.
type FieldFilter struct {
	IDs              []uuid.UUID
	EntityVersionIDs []uuid.UUID
	Names            []string
	PermanentIDs     []string
	DataType         *domain.DataType
}

// PermissionFilter selects permissions ordered by action.
type PermissionFilter struct {
	EntityVersionIDs []uuid.UUID
	Action           *domain.EntityAction
}

// PermissionRoleFilter selects permission roles ordered by app role id.
type PermissionRoleFilter struct {
	IDs              []uuid.UUID
	EntityVersionIDs []uuid.UUID
	Action           *domain.EntityAction
	AppRoleIDs       []uuid.UUID
}

// PermissionFieldFilter selects permission fields ordered by field permanent id.
type PermissionFieldFilter struct {
	IDs               []uuid.UUID
	PermissionIDs     []uuid.UUID
	EntityVersionIDs  []uuid.UUID
	FieldPermanentIDs []string
}

// VersionInclude selects the relations hydrated on a version.
type VersionInclude struct {
	Fields      bool
	Permissions bool
	Commit      bool
	Entity      bool
}

// EntityInclude selects the relations hydrated on an entity.
type EntityInclude struct {
	Versions       bool
	VersionFilter  VersionFilter
	VersionInclude VersionInclude
	LockedByUser   bool
}
