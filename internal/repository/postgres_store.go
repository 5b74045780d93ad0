package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/db"
	"github.com/rpattn/modelvc/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	conn   *db.Connection
	q      DBTX
	inTx   bool
	logger *zap.Logger
}

// NewPostgresStore creates a store bound to the pool of conn.
func NewPostgresStore(conn *db.Connection, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{conn: conn, q: conn.Pool, logger: logger}
}

func (s *PostgresStore) Entities() EntityRepository              { return &pgEntities{s.q} }
func (s *PostgresStore) Versions() EntityVersionRepository       { return &pgVersions{s.q} }
func (s *PostgresStore) Fields() EntityFieldRepository           { return &pgFields{s.q} }
func (s *PostgresStore) Permissions() EntityPermissionRepository { return &pgPermissions{s.q} }
func (s *PostgresStore) Commits() CommitRepository               { return &pgCommits{s.q} }
func (s *PostgresStore) AppRoles() AppRoleRepository             { return &pgAppRoles{s.q} }
func (s *PostgresStore) Users() UserRepository                   { return &pgUsers{s.q} }

// WithTx runs fn inside a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{conn: s.conn, q: tx, inTx: true, logger: s.logger})
	})
}

func wrapPgError(err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf(format+": %w: %s", append(args, ErrUniqueViolation, pgErr.ConstraintName)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// conditions accumulates WHERE clauses; "?" in a clause becomes the next
// positional parameter.
type conditions struct {
	where []string
	args  []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.where = append(c.where, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(c.args))))
}

func (c *conditions) raw(clause string) {
	c.where = append(c.where, clause)
}

func (c *conditions) String() string {
	if len(c.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.where, " AND ")
}

// --- entities

const entityColumns = `id, app_id, created_at, updated_at, name, display_name, plural_display_name,
	description, deleted_at, locked_by_user_id, locked_at`

type pgEntities struct{ q DBTX }

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var e domain.Entity
	err := row.Scan(&e.ID, &e.AppID, &e.CreatedAt, &e.UpdatedAt, &e.Name, &e.DisplayName,
		&e.PluralDisplayName, &e.Description, &e.DeletedAt, &e.LockedByUserID, &e.LockedAt)
	return e, err
}

func (r *pgEntities) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	entity.ID = ensureID(entity.ID)
	row := r.q.QueryRow(ctx, `INSERT INTO entities
		(id, app_id, name, display_name, plural_display_name, description, deleted_at,
		 locked_by_user_id, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp(), clock_timestamp())
		RETURNING `+entityColumns,
		entity.ID, entity.AppID, entity.Name, entity.DisplayName, entity.PluralDisplayName,
		entity.Description, entity.DeletedAt, entity.LockedByUserID, entity.LockedAt)
	created, err := scanEntity(row)
	if err != nil {
		return domain.Entity{}, wrapPgError(err, "failed to create entity %q", entity.Name)
	}
	return created, nil
}

func (r *pgEntities) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	e, err := scanEntity(r.q.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entity{}, domain.NewNotFoundError("entity", id)
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *pgEntities) List(ctx context.Context, filter EntityFilter) ([]domain.Entity, error) {
	var c conditions
	if len(filter.IDs) > 0 {
		c.add("id = ANY(?)", filter.IDs)
	}
	if filter.AppID != nil {
		c.add("app_id = ?", *filter.AppID)
	}
	if !filter.IncludeDeleted {
		c.raw("deleted_at IS NULL")
	}
	if filter.NameEqualFold != nil {
		c.add("(lower(name) = lower(?) OR lower(display_name) = lower(?) OR lower(plural_display_name) = lower(?))", *filter.NameEqualFold)
	}
	if filter.CommitID != nil {
		c.add("id IN (SELECT entity_id FROM entity_versions WHERE commit_id = ?)", *filter.CommitID)
	}

	query := `SELECT ` + entityColumns + ` FROM entities` + c.String() + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.q.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []domain.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (r *pgEntities) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	row := r.q.QueryRow(ctx, `UPDATE entities SET
		name = $2, display_name = $3, plural_display_name = $4, description = $5,
		deleted_at = $6, updated_at = clock_timestamp()
		WHERE id = $1 RETURNING `+entityColumns,
		entity.ID, entity.Name, entity.DisplayName, entity.PluralDisplayName, entity.Description, entity.DeletedAt)
	updated, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entity{}, domain.NewNotFoundError("entity", entity.ID)
	}
	if err != nil {
		return domain.Entity{}, wrapPgError(err, "failed to update entity %q", entity.Name)
	}
	return updated, nil
}

func (r *pgEntities) UpdateLock(ctx context.Context, id uuid.UUID, userID *uuid.UUID, lockedAt *time.Time) (domain.Entity, error) {
	row := r.q.QueryRow(ctx, `UPDATE entities SET locked_by_user_id = $2, locked_at = $3
		WHERE id = $1 RETURNING `+entityColumns, id, userID, lockedAt)
	updated, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entity{}, domain.NewNotFoundError("entity", id)
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to update entity lock: %w", err)
	}
	return updated, nil
}

// --- versions

const versionColumns = `v.id, v.entity_id, v.created_at, v.updated_at, v.version_number, v.commit_id,
	v.name, v.display_name, v.plural_display_name, v.description, v.deleted`

type pgVersions struct{ q DBTX }

func scanVersion(row pgx.Row) (domain.EntityVersion, error) {
	var v domain.EntityVersion
	err := row.Scan(&v.ID, &v.EntityID, &v.CreatedAt, &v.UpdatedAt, &v.VersionNumber, &v.CommitID,
		&v.Name, &v.DisplayName, &v.PluralDisplayName, &v.Description, &v.Deleted)
	return v, err
}

func (r *pgVersions) Create(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	version.ID = ensureID(version.ID)
	row := r.q.QueryRow(ctx, `INSERT INTO entity_versions AS v
		(id, entity_id, version_number, commit_id, name, display_name, plural_display_name,
		 description, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp(), clock_timestamp())
		RETURNING `+versionColumns,
		version.ID, version.EntityID, version.VersionNumber, version.CommitID, version.Name,
		version.DisplayName, version.PluralDisplayName, version.Description, version.Deleted)
	created, err := scanVersion(row)
	if err != nil {
		return domain.EntityVersion{}, wrapPgError(err, "failed to create version %d", version.VersionNumber)
	}
	return created, nil
}

func (r *pgVersions) GetByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error) {
	v, err := scanVersion(r.q.QueryRow(ctx, `SELECT `+versionColumns+` FROM entity_versions v WHERE v.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity version", id)
	}
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to get entity version: %w", err)
	}
	return v, nil
}

func (r *pgVersions) GetByNumber(ctx context.Context, entityID uuid.UUID, versionNumber int) (domain.EntityVersion, error) {
	v, err := scanVersion(r.q.QueryRow(ctx, `SELECT `+versionColumns+` FROM entity_versions v
		WHERE v.entity_id = $1 AND v.version_number = $2`, entityID, versionNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityVersion{}, &domain.NotFoundError{
			Resource: "entity version",
			ID:       entityID.String(),
			Detail:   fmt.Sprintf("version %d", versionNumber),
		}
	}
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to get entity version: %w", err)
	}
	return v, nil
}

func (r *pgVersions) List(ctx context.Context, filter VersionFilter) ([]domain.EntityVersion, error) {
	var c conditions
	if len(filter.IDs) > 0 {
		c.add("v.id = ANY(?)", filter.IDs)
	}
	if len(filter.EntityIDs) > 0 {
		c.add("v.entity_id = ANY(?)", filter.EntityIDs)
	}
	if filter.VersionNumber != nil {
		c.add("v.version_number = ?", *filter.VersionNumber)
	}
	if filter.CommitID != nil {
		c.add("v.commit_id = ?", *filter.CommitID)
	}
	if filter.ExcludeDraft {
		c.add("v.version_number <> ?", domain.CurrentVersionNumber)
	}
	if filter.Deleted != nil {
		c.add("v.deleted = ?", *filter.Deleted)
	}

	rows, err := r.q.Query(ctx, `SELECT `+versionColumns+` FROM entity_versions v
		JOIN entities e ON e.id = v.entity_id`+c.String()+`
		ORDER BY e.created_at, e.id, v.version_number`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.EntityVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *pgVersions) Update(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	row := r.q.QueryRow(ctx, `UPDATE entity_versions v SET
		name = $2, display_name = $3, plural_display_name = $4, description = $5,
		deleted = $6, updated_at = clock_timestamp()
		WHERE v.id = $1 RETURNING `+versionColumns,
		version.ID, version.Name, version.DisplayName, version.PluralDisplayName, version.Description, version.Deleted)
	updated, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity version", version.ID)
	}
	if err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to update entity version: %w", err)
	}
	return updated, nil
}

// --- fields

const fieldColumns = `id, permanent_id, entity_version_id, created_at, updated_at, name, display_name,
	data_type, properties, required, "unique", searchable, description`

type pgFields struct{ q DBTX }

func scanField(row pgx.Row) (domain.EntityField, error) {
	var (
		f     domain.EntityField
		props []byte
	)
	if err := row.Scan(&f.ID, &f.PermanentID, &f.EntityVersionID, &f.CreatedAt, &f.UpdatedAt, &f.Name,
		&f.DisplayName, &f.DataType, &props, &f.Required, &f.Unique, &f.Searchable, &f.Description); err != nil {
		return domain.EntityField{}, err
	}
	f.Properties = map[string]any{}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &f.Properties); err != nil {
			return domain.EntityField{}, fmt.Errorf("failed to unmarshal field properties: %w", err)
		}
	}
	return f, nil
}

func marshalProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field properties: %w", err)
	}
	return data, nil
}

func (r *pgFields) Create(ctx context.Context, field domain.EntityField) (domain.EntityField, error) {
	props, err := marshalProperties(field.Properties)
	if err != nil {
		return domain.EntityField{}, err
	}
	field.ID = ensureID(field.ID)
	row := r.q.QueryRow(ctx, `INSERT INTO entity_fields
		(id, permanent_id, entity_version_id, name, display_name, data_type, properties,
		 required, "unique", searchable, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, clock_timestamp(), clock_timestamp())
		RETURNING `+fieldColumns,
		field.ID, field.PermanentID, field.EntityVersionID, field.Name, field.DisplayName,
		string(field.DataType), props, field.Required, field.Unique, field.Searchable, field.Description)
	created, err := scanField(row)
	if err != nil {
		return domain.EntityField{}, wrapPgError(err, "failed to create field %q", field.Name)
	}
	return created, nil
}

func (r *pgFields) GetByID(ctx context.Context, id uuid.UUID) (domain.EntityField, error) {
	f, err := scanField(r.q.QueryRow(ctx, `SELECT `+fieldColumns+` FROM entity_fields WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityField{}, domain.NewNotFoundError("entity field", id)
	}
	if err != nil {
		return domain.EntityField{}, fmt.Errorf("failed to get entity field: %w", err)
	}
	return f, nil
}

func (r *pgFields) List(ctx context.Context, filter FieldFilter) ([]domain.EntityField, error) {
	var c conditions
	if len(filter.IDs) > 0 {
		c.add("id = ANY(?)", filter.IDs)
	}
	if len(filter.EntityVersionIDs) > 0 {
		c.add("entity_version_id = ANY(?)", filter.EntityVersionIDs)
	}
	if len(filter.Names) > 0 {
		c.add("name = ANY(?)", filter.Names)
	}
	if len(filter.PermanentIDs) > 0 {
		c.add("permanent_id = ANY(?)", filter.PermanentIDs)
	}
	if filter.DataType != nil {
		c.add("data_type = ?", string(*filter.DataType))
	}

	rows, err := r.q.Query(ctx, `SELECT `+fieldColumns+` FROM entity_fields`+c.String()+` ORDER BY created_at, id`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity fields: %w", err)
	}
	defer rows.Close()

	fields := []domain.EntityField{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (r *pgFields) Update(ctx context.Context, field domain.EntityField) (domain.EntityField, error) {
	props, err := marshalProperties(field.Properties)
	if err != nil {
		return domain.EntityField{}, err
	}
	row := r.q.QueryRow(ctx, `UPDATE entity_fields SET
		name = $2, display_name = $3, data_type = $4, properties = $5, required = $6,
		"unique" = $7, searchable = $8, description = $9, updated_at = clock_timestamp()
		WHERE id = $1 RETURNING `+fieldColumns,
		field.ID, field.Name, field.DisplayName, string(field.DataType), props,
		field.Required, field.Unique, field.Searchable, field.Description)
	updated, err := scanField(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityField{}, domain.NewNotFoundError("entity field", field.ID)
	}
	if err != nil {
		return domain.EntityField{}, wrapPgError(err, "failed to update field %q", field.Name)
	}
	return updated, nil
}

func (r *pgFields) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM entity_fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("entity field", id)
	}
	return nil
}

func (r *pgFields) DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM entity_fields WHERE entity_version_id = $1`, entityVersionID); err != nil {
		return fmt.Errorf("failed to delete entity fields: %w", err)
	}
	return nil
}

// --- permissions

type pgPermissions struct{ q DBTX }

func (r *pgPermissions) Create(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error) {
	permission.ID = ensureID(permission.ID)
	_, err := r.q.Exec(ctx, `INSERT INTO entity_permissions (id, entity_version_id, action, type)
		VALUES ($1, $2, $3, $4)`,
		permission.ID, permission.EntityVersionID, string(permission.Action), string(permission.Type))
	if err != nil {
		return domain.EntityPermission{}, wrapPgError(err, "failed to create permission %s", permission.Action)
	}
	permission.PermissionRoles, permission.PermissionFields = nil, nil
	return permission, nil
}

func (r *pgPermissions) List(ctx context.Context, filter PermissionFilter) ([]domain.EntityPermission, error) {
	var c conditions
	if len(filter.EntityVersionIDs) > 0 {
		c.add("entity_version_id = ANY(?)", filter.EntityVersionIDs)
	}
	if filter.Action != nil {
		c.add("action = ?", string(*filter.Action))
	}

	rows, err := r.q.Query(ctx, `SELECT id, entity_version_id, action, type FROM entity_permissions`+
		c.String()+` ORDER BY action, entity_version_id`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []domain.EntityPermission{}
	for rows.Next() {
		var p domain.EntityPermission
		if err := rows.Scan(&p.ID, &p.EntityVersionID, &p.Action, &p.Type); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *pgPermissions) Update(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error) {
	var p domain.EntityPermission
	err := r.q.QueryRow(ctx, `UPDATE entity_permissions SET type = $2 WHERE id = $1
		RETURNING id, entity_version_id, action, type`, permission.ID, string(permission.Type)).
		Scan(&p.ID, &p.EntityVersionID, &p.Action, &p.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityPermission{}, domain.NewNotFoundError("entity permission", permission.ID)
	}
	if err != nil {
		return domain.EntityPermission{}, fmt.Errorf("failed to update permission: %w", err)
	}
	return p, nil
}

func (r *pgPermissions) DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM entity_permissions WHERE entity_version_id = $1`, entityVersionID); err != nil {
		return fmt.Errorf("failed to delete permissions: %w", err)
	}
	return nil
}

func (r *pgPermissions) CreateRole(ctx context.Context, role domain.EntityPermissionRole) (domain.EntityPermissionRole, error) {
	role.ID = ensureID(role.ID)
	_, err := r.q.Exec(ctx, `INSERT INTO entity_permission_roles (id, entity_version_id, action, app_role_id)
		VALUES ($1, $2, $3, $4)`, role.ID, role.EntityVersionID, string(role.Action), role.AppRoleID)
	if err != nil {
		return domain.EntityPermissionRole{}, wrapPgError(err, "failed to create permission role")
	}
	role.AppRole = nil
	return role, nil
}

func (r *pgPermissions) ListRoles(ctx context.Context, filter PermissionRoleFilter) ([]domain.EntityPermissionRole, error) {
	var c conditions
	if len(filter.IDs) > 0 {
		c.add("id = ANY(?)", filter.IDs)
	}
	if len(filter.EntityVersionIDs) > 0 {
		c.add("entity_version_id = ANY(?)", filter.EntityVersionIDs)
	}
	if filter.Action != nil {
		c.add("action = ?", string(*filter.Action))
	}
	if len(filter.AppRoleIDs) > 0 {
		c.add("app_role_id = ANY(?)", filter.AppRoleIDs)
	}

	rows, err := r.q.Query(ctx, `SELECT id, entity_version_id, action, app_role_id
		FROM entity_permission_roles`+c.String()+` ORDER BY app_role_id, id`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission roles: %w", err)
	}
	defer rows.Close()

	roles := []domain.EntityPermissionRole{}
	for rows.Next() {
		var role domain.EntityPermissionRole
		if err := rows.Scan(&role.ID, &role.EntityVersionID, &role.Action, &role.AppRoleID); err != nil {
			return nil, fmt.Errorf("failed to scan permission role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *pgPermissions) DeleteRoles(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM entity_permission_roles WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete permission roles: %w", err)
	}
	return nil
}

const permissionFieldColumns = `id, permission_id, entity_version_id, field_permanent_id`

func scanPermissionField(row pgx.Row) (domain.EntityPermissionField, error) {
	var pf domain.EntityPermissionField
	err := row.Scan(&pf.ID, &pf.PermissionID, &pf.EntityVersionID, &pf.FieldPermanentID)
	return pf, err
}

func (r *pgPermissions) CreateField(ctx context.Context, field domain.EntityPermissionField) (domain.EntityPermissionField, error) {
	field.ID = ensureID(field.ID)
	row := r.q.QueryRow(ctx, `INSERT INTO entity_permission_fields (id, permission_id, entity_version_id, field_permanent_id)
		SELECT $1, p.id, p.entity_version_id, $3 FROM entity_permissions p WHERE p.id = $2
		RETURNING `+permissionFieldColumns, field.ID, field.PermissionID, field.FieldPermanentID)
	created, err := scanPermissionField(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityPermissionField{}, domain.NewNotFoundError("entity permission", field.PermissionID)
	}
	if err != nil {
		return domain.EntityPermissionField{}, wrapPgError(err, "failed to create permission field")
	}
	return created, nil
}

func (r *pgPermissions) GetField(ctx context.Context, id uuid.UUID) (domain.EntityPermissionField, error) {
	pf, err := scanPermissionField(r.q.QueryRow(ctx, `SELECT `+permissionFieldColumns+`
		FROM entity_permission_fields WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EntityPermissionField{}, domain.NewNotFoundError("entity permission field", id)
	}
	if err != nil {
		return domain.EntityPermissionField{}, fmt.Errorf("failed to get permission field: %w", err)
	}
	return pf, nil
}

func (r *pgPermissions) ListFields(ctx context.Context, filter PermissionFieldFilter) ([]domain.EntityPermissionField, error) {
	var c conditions
	if len(filter.IDs) > 0 {
		c.add("id = ANY(?)", filter.IDs)
	}
	if len(filter.PermissionIDs) > 0 {
		c.add("permission_id = ANY(?)", filter.PermissionIDs)
	}
	if len(filter.EntityVersionIDs) > 0 {
		c.add("entity_version_id = ANY(?)", filter.EntityVersionIDs)
	}
	if len(filter.FieldPermanentIDs) > 0 {
		c.add("field_permanent_id = ANY(?)", filter.FieldPermanentIDs)
	}

	rows, err := r.q.Query(ctx, `SELECT `+permissionFieldColumns+` FROM entity_permission_fields`+
		c.String()+` ORDER BY field_permanent_id, id`, c.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission fields: %w", err)
	}
	defer rows.Close()

	fields := []domain.EntityPermissionField{}
	for rows.Next() {
		pf, err := scanPermissionField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission field: %w", err)
		}
		fields = append(fields, pf)
	}
	return fields, rows.Err()
}

func (r *pgPermissions) DeleteFields(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM entity_permission_fields WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete permission fields: %w", err)
	}
	return nil
}

func (r *pgPermissions) ConnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error {
	if len(permissionRoleIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `INSERT INTO entity_permission_field_roles (permission_field_id, permission_role_id)
		SELECT $1, role_id FROM unnest($2::uuid[]) AS role_id
		ON CONFLICT DO NOTHING`, permissionFieldID, permissionRoleIDs)
	if err != nil {
		return fmt.Errorf("failed to connect permission field roles: %w", err)
	}
	return nil
}

func (r *pgPermissions) DisconnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error {
	if len(permissionRoleIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `DELETE FROM entity_permission_field_roles
		WHERE permission_field_id = $1 AND permission_role_id = ANY($2)`, permissionFieldID, permissionRoleIDs)
	if err != nil {
		return fmt.Errorf("failed to disconnect permission field roles: %w", err)
	}
	return nil
}

func (r *pgPermissions) ListFieldRoleLinks(ctx context.Context, permissionFieldIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(permissionFieldIDs))
	if len(permissionFieldIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT permission_field_id, permission_role_id
		FROM entity_permission_field_roles WHERE permission_field_id = ANY($1)
		ORDER BY created_at`, permissionFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission field roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pfID, roleID uuid.UUID
		if err := rows.Scan(&pfID, &roleID); err != nil {
			return nil, fmt.Errorf("failed to scan permission field role: %w", err)
		}
		out[pfID] = append(out[pfID], roleID)
	}
	return out, rows.Err()
}

// --- commits, app roles, users

type pgCommits struct{ q DBTX }

const commitColumns = `id, app_id, created_at, user_id, message`

func scanCommit(row pgx.Row) (domain.Commit, error) {
	var c domain.Commit
	err := row.Scan(&c.ID, &c.AppID, &c.CreatedAt, &c.UserID, &c.Message)
	return c, err
}

func (r *pgCommits) collect(ctx context.Context, query string, args ...any) ([]domain.Commit, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	commits := []domain.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (r *pgCommits) Create(ctx context.Context, commit domain.Commit) (domain.Commit, error) {
	commit.ID = ensureID(commit.ID)
	created, err := scanCommit(r.q.QueryRow(ctx, `INSERT INTO commits (id, app_id, user_id, message, created_at)
		VALUES ($1, $2, $3, $4, clock_timestamp()) RETURNING `+commitColumns,
		commit.ID, commit.AppID, commit.UserID, commit.Message))
	if err != nil {
		return domain.Commit{}, wrapPgError(err, "failed to create commit")
	}
	return created, nil
}

func (r *pgCommits) GetByID(ctx context.Context, id uuid.UUID) (domain.Commit, error) {
	c, err := scanCommit(r.q.QueryRow(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Commit{}, domain.NewNotFoundError("commit", id)
	}
	if err != nil {
		return domain.Commit{}, fmt.Errorf("failed to get commit: %w", err)
	}
	return c, nil
}

func (r *pgCommits) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Commit, error) {
	if len(ids) == 0 {
		return []domain.Commit{}, nil
	}
	return r.collect(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = ANY($1) ORDER BY created_at, id`, ids)
}

func (r *pgCommits) List(ctx context.Context, appID uuid.UUID) ([]domain.Commit, error) {
	return r.collect(ctx, `SELECT `+commitColumns+` FROM commits WHERE app_id = $1 ORDER BY created_at, id`, appID)
}

type pgAppRoles struct{ q DBTX }

const appRoleColumns = `id, app_id, created_at, updated_at, name, display_name, description`

func scanAppRole(row pgx.Row) (domain.AppRole, error) {
	var a domain.AppRole
	err := row.Scan(&a.ID, &a.AppID, &a.CreatedAt, &a.UpdatedAt, &a.Name, &a.DisplayName, &a.Description)
	return a, err
}

func (r *pgAppRoles) collect(ctx context.Context, query string, args ...any) ([]domain.AppRole, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list app roles: %w", err)
	}
	defer rows.Close()

	roles := []domain.AppRole{}
	for rows.Next() {
		a, err := scanAppRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app role: %w", err)
		}
		roles = append(roles, a)
	}
	return roles, rows.Err()
}

func (r *pgAppRoles) Create(ctx context.Context, role domain.AppRole) (domain.AppRole, error) {
	role.ID = ensureID(role.ID)
	created, err := scanAppRole(r.q.QueryRow(ctx, `INSERT INTO app_roles (id, app_id, name, display_name, description)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+appRoleColumns,
		role.ID, role.AppID, role.Name, role.DisplayName, role.Description))
	if err != nil {
		return domain.AppRole{}, wrapPgError(err, "failed to create app role %q", role.Name)
	}
	return created, nil
}

func (r *pgAppRoles) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.AppRole, error) {
	if len(ids) == 0 {
		return []domain.AppRole{}, nil
	}
	return r.collect(ctx, `SELECT `+appRoleColumns+` FROM app_roles WHERE id = ANY($1) ORDER BY created_at, id`, ids)
}

func (r *pgAppRoles) List(ctx context.Context, appID uuid.UUID) ([]domain.AppRole, error) {
	return r.collect(ctx, `SELECT `+appRoleColumns+` FROM app_roles WHERE app_id = $1 ORDER BY created_at, id`, appID)
}

type pgUsers struct{ q DBTX }

func (r *pgUsers) Ensure(ctx context.Context, user domain.User) (domain.User, error) {
	var u domain.User
	err := r.q.QueryRow(ctx, `INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, created_at, updated_at`, user.ID).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to ensure user: %w", err)
	}
	return u, nil
}

func (r *pgUsers) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	rows, err := r.q.Query(ctx, `SELECT id, created_at, updated_at FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
