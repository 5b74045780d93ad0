package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/rpattn/modelvc/internal/domain"
)

// ErrUniqueViolation is returned when a write collides with a unique key.
var ErrUniqueViolation = errors.New("unique constraint violation")

// Row is one arena record. Seq preserves insertion order.
type Row[T any] struct {
	Seq   int64
	Value T
}

// MemoryState holds every arena. Relations are plain foreign-key ids.
type MemoryState struct {
	Seq              int64
	Entities         map[uuid.UUID]Row[domain.Entity]
	Versions         map[uuid.UUID]Row[domain.EntityVersion]
	Fields           map[uuid.UUID]Row[domain.EntityField]
	Permissions      map[uuid.UUID]Row[domain.EntityPermission]
	PermissionRoles  map[uuid.UUID]Row[domain.EntityPermissionRole]
	PermissionFields map[uuid.UUID]Row[domain.EntityPermissionField]
	// FieldRoleLinks maps a permission field id to its permission role ids.
	FieldRoleLinks map[uuid.UUID][]uuid.UUID
	Commits        map[uuid.UUID]Row[domain.Commit]
	AppRoles       map[uuid.UUID]Row[domain.AppRole]
	Users          map[uuid.UUID]Row[domain.User]
}

func newMemoryState() *MemoryState {
	return &MemoryState{
		Entities:         map[uuid.UUID]Row[domain.Entity]{},
		Versions:         map[uuid.UUID]Row[domain.EntityVersion]{},
		Fields:           map[uuid.UUID]Row[domain.EntityField]{},
		Permissions:      map[uuid.UUID]Row[domain.EntityPermission]{},
		PermissionRoles:  map[uuid.UUID]Row[domain.EntityPermissionRole]{},
		PermissionFields: map[uuid.UUID]Row[domain.EntityPermissionField]{},
		FieldRoleLinks:   map[uuid.UUID][]uuid.UUID{},
		Commits:          map[uuid.UUID]Row[domain.Commit]{},
		AppRoles:         map[uuid.UUID]Row[domain.AppRole]{},
		Users:            map[uuid.UUID]Row[domain.User]{},
	}
}

func (s *MemoryState) next() int64 {
	s.Seq++
	return s.Seq
}

// MemoryStore is an in-process Store backed by arena maps. Transactions are
// serialized and roll back by restoring a deep copy of the arenas. Writes made
// outside WithTx wait for the running transaction, so a rollback never
// discards them.
type MemoryStore struct {
	txMu  *sync.Mutex
	mu    *sync.RWMutex
	state *MemoryState
	now   func() time.Time
	inTx  bool
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		txMu:  &sync.Mutex{},
		mu:    &sync.RWMutex{},
		state: newMemoryState(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Entities() EntityRepository              { return &memoryEntities{s} }
func (s *MemoryStore) Versions() EntityVersionRepository       { return &memoryVersions{s} }
func (s *MemoryStore) Fields() EntityFieldRepository           { return &memoryFields{s} }
func (s *MemoryStore) Permissions() EntityPermissionRepository { return &memoryPermissions{s} }
func (s *MemoryStore) Commits() CommitRepository               { return &memoryCommits{s} }
func (s *MemoryStore) AppRoles() AppRoleRepository             { return &memoryAppRoles{s} }
func (s *MemoryStore) Users() UserRepository                   { return &memoryUsers{s} }

// WithTx runs fn against a transactional view of the store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	tx := &MemoryStore{txMu: s.txMu, mu: s.mu, state: s.state, now: s.now, inTx: true}
	restore := func() {
		s.mu.Lock()
		*s.state = snapshot
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		restore()
		return err
	}
	if err := ctx.Err(); err != nil {
		restore()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *MemoryStore) rlock() func() {
	s.mu.RLock()
	return s.mu.RUnlock
}

// cloneProperties deep copies a JSON-like properties payload so callers never
// share nested maps or slices with the arena.
func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	var out map[string]any
	if err := deepcopy.Copy(&out, props); err != nil {
		out = make(map[string]any, len(props))
		for k, v := range props {
			out[k] = v
		}
	}
	return out
}

// cloneValue copies a flat record. Field rows also get their properties
// copied; every other record is made of value types and id pointers.
func cloneValue[T any](v T) T {
	if f, ok := any(v).(domain.EntityField); ok {
		f.Properties = cloneProperties(f.Properties)
		return any(f).(T)
	}
	return v
}

func cloneRows[T any](rows map[uuid.UUID]Row[T]) map[uuid.UUID]Row[T] {
	out := make(map[uuid.UUID]Row[T], len(rows))
	for id, row := range rows {
		out[id] = Row[T]{Seq: row.Seq, Value: cloneValue(row.Value)}
	}
	return out
}

func (s *MemoryState) clone() MemoryState {
	links := make(map[uuid.UUID][]uuid.UUID, len(s.FieldRoleLinks))
	for id, roleIDs := range s.FieldRoleLinks {
		links[id] = append([]uuid.UUID(nil), roleIDs...)
	}
	return MemoryState{
		Seq:              s.Seq,
		Entities:         cloneRows(s.Entities),
		Versions:         cloneRows(s.Versions),
		Fields:           cloneRows(s.Fields),
		Permissions:      cloneRows(s.Permissions),
		PermissionRoles:  cloneRows(s.PermissionRoles),
		PermissionFields: cloneRows(s.PermissionFields),
		FieldRoleLinks:   links,
		Commits:          cloneRows(s.Commits),
		AppRoles:         cloneRows(s.AppRoles),
		Users:            cloneRows(s.Users),
	}
}

func sortedRows[T any](rows map[uuid.UUID]Row[T], keep func(T) bool) []T {
	list := make([]Row[T], 0, len(rows))
	for _, r := range rows {
		if keep == nil || keep(r.Value) {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	out := make([]T, len(list))
	for i, r := range list {
		out[i] = cloneValue(r.Value)
	}
	return out
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func stringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func inSet[K comparable](set map[K]struct{}, key K) bool {
	if set == nil {
		return true
	}
	_, ok := set[key]
	return ok
}

func ensureID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// --- entities

type memoryEntities struct{ s *MemoryStore }

func (r *memoryEntities) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	entity.ID = ensureID(entity.ID)
	if _, exists := st.Entities[entity.ID]; exists {
		return domain.Entity{}, fmt.Errorf("failed to create entity: %w", ErrUniqueViolation)
	}
	for _, row := range st.Entities {
		if row.Value.AppID == entity.AppID && row.Value.Name == entity.Name {
			return domain.Entity{}, fmt.Errorf("failed to create entity %q: %w", entity.Name, ErrUniqueViolation)
		}
	}

	now := r.s.now().UTC()
	entity.CreatedAt, entity.UpdatedAt = now, now
	entity.Versions, entity.LockedByUser = nil, nil
	st.Entities[entity.ID] = Row[domain.Entity]{Seq: st.next(), Value: entity}
	return cloneValue(entity), nil
}

func (r *memoryEntities) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	unlock := r.s.rlock()
	defer unlock()

	row, ok := r.s.state.Entities[id]
	if !ok {
		return domain.Entity{}, domain.NewNotFoundError("entity", id)
	}
	return cloneValue(row.Value), nil
}

func (r *memoryEntities) List(ctx context.Context, filter EntityFilter) ([]domain.Entity, error) {
	unlock := r.s.rlock()
	defer unlock()

	st := r.s.state
	ids := idSet(filter.IDs)

	var withCommit map[uuid.UUID]struct{}
	if filter.CommitID != nil {
		withCommit = map[uuid.UUID]struct{}{}
		for _, v := range st.Versions {
			if v.Value.CommitID != nil && *v.Value.CommitID == *filter.CommitID {
				withCommit[v.Value.EntityID] = struct{}{}
			}
		}
	}

	out := sortedRows(st.Entities, func(e domain.Entity) bool {
		if !inSet(ids, e.ID) || !inSet(withCommit, e.ID) {
			return false
		}
		if filter.AppID != nil && e.AppID != *filter.AppID {
			return false
		}
		if !filter.IncludeDeleted && e.DeletedAt != nil {
			return false
		}
		if filter.NameEqualFold != nil {
			q := *filter.NameEqualFold
			if !strings.EqualFold(e.Name, q) && !strings.EqualFold(e.DisplayName, q) && !strings.EqualFold(e.PluralDisplayName, q) {
				return false
			}
		}
		return true
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryEntities) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	row, ok := st.Entities[entity.ID]
	if !ok {
		return domain.Entity{}, domain.NewNotFoundError("entity", entity.ID)
	}
	for id, other := range st.Entities {
		if id != entity.ID && other.Value.AppID == row.Value.AppID && other.Value.Name == entity.Name {
			return domain.Entity{}, fmt.Errorf("failed to update entity %q: %w", entity.Name, ErrUniqueViolation)
		}
	}

	current := row.Value
	current = current.WithNames(entity.Names())
	current.DeletedAt = entity.DeletedAt
	current.UpdatedAt = r.s.now().UTC()
	row.Value = current
	st.Entities[entity.ID] = row
	return cloneValue(current), nil
}

func (r *memoryEntities) UpdateLock(ctx context.Context, id uuid.UUID, userID *uuid.UUID, lockedAt *time.Time) (domain.Entity, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	row, ok := st.Entities[id]
	if !ok {
		return domain.Entity{}, domain.NewNotFoundError("entity", id)
	}
	row.Value.LockedByUserID = userID
	row.Value.LockedAt = lockedAt
	st.Entities[id] = row
	return cloneValue(row.Value), nil
}

// --- versions

type memoryVersions struct{ s *MemoryStore }

func (r *memoryVersions) Create(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.Entities[version.EntityID]; !ok {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity", version.EntityID)
	}
	for _, row := range st.Versions {
		if row.Value.EntityID == version.EntityID && row.Value.VersionNumber == version.VersionNumber {
			return domain.EntityVersion{}, fmt.Errorf("failed to create version %d: %w", version.VersionNumber, ErrUniqueViolation)
		}
	}

	version.ID = ensureID(version.ID)
	now := r.s.now().UTC()
	version.CreatedAt, version.UpdatedAt = now, now
	version.Fields, version.Permissions, version.Commit, version.Entity = nil, nil, nil, nil
	st.Versions[version.ID] = Row[domain.EntityVersion]{Seq: st.next(), Value: version}
	return cloneValue(version), nil
}

func (r *memoryVersions) GetByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error) {
	unlock := r.s.rlock()
	defer unlock()

	row, ok := r.s.state.Versions[id]
	if !ok {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity version", id)
	}
	return cloneValue(row.Value), nil
}

func (r *memoryVersions) GetByNumber(ctx context.Context, entityID uuid.UUID, versionNumber int) (domain.EntityVersion, error) {
	unlock := r.s.rlock()
	defer unlock()

	for _, row := range r.s.state.Versions {
		if row.Value.EntityID == entityID && row.Value.VersionNumber == versionNumber {
			return cloneValue(row.Value), nil
		}
	}
	return domain.EntityVersion{}, &domain.NotFoundError{
		Resource: "entity version",
		ID:       entityID.String(),
		Detail:   fmt.Sprintf("version %d", versionNumber),
	}
}

func (r *memoryVersions) List(ctx context.Context, filter VersionFilter) ([]domain.EntityVersion, error) {
	unlock := r.s.rlock()
	defer unlock()

	ids := idSet(filter.IDs)
	entityIDs := idSet(filter.EntityIDs)
	out := sortedRows(r.s.state.Versions, func(v domain.EntityVersion) bool {
		if !inSet(ids, v.ID) || !inSet(entityIDs, v.EntityID) {
			return false
		}
		if filter.VersionNumber != nil && v.VersionNumber != *filter.VersionNumber {
			return false
		}
		if filter.CommitID != nil && (v.CommitID == nil || *v.CommitID != *filter.CommitID) {
			return false
		}
		if filter.ExcludeDraft && v.VersionNumber == domain.CurrentVersionNumber {
			return false
		}
		if filter.Deleted != nil && v.Deleted != *filter.Deleted {
			return false
		}
		return true
	})

	entityOrder := map[uuid.UUID]int64{}
	for id, row := range r.s.state.Entities {
		entityOrder[id] = row.Seq
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return entityOrder[out[i].EntityID] < entityOrder[out[j].EntityID]
		}
		return out[i].VersionNumber < out[j].VersionNumber
	})
	return out, nil
}

func (r *memoryVersions) Update(ctx context.Context, version domain.EntityVersion) (domain.EntityVersion, error) {
	unlock := r.s.lock()
	defer unlock()

	row, ok := r.s.state.Versions[version.ID]
	if !ok {
		return domain.EntityVersion{}, domain.NewNotFoundError("entity version", version.ID)
	}
	current := row.Value.WithNames(version.Names())
	current.Deleted = version.Deleted
	current.UpdatedAt = r.s.now().UTC()
	row.Value = current
	r.s.state.Versions[version.ID] = row
	return cloneValue(current), nil
}

// --- fields

type memoryFields struct{ s *MemoryStore }

func (r *memoryFields) checkUnique(field domain.EntityField) error {
	for id, row := range r.s.state.Fields {
		if id == field.ID || row.Value.EntityVersionID != field.EntityVersionID {
			continue
		}
		if row.Value.Name == field.Name {
			return fmt.Errorf("field name %q: %w", field.Name, ErrUniqueViolation)
		}
		if row.Value.PermanentID == field.PermanentID {
			return fmt.Errorf("field permanent id %q: %w", field.PermanentID, ErrUniqueViolation)
		}
	}
	return nil
}

func (r *memoryFields) Create(ctx context.Context, field domain.EntityField) (domain.EntityField, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.Versions[field.EntityVersionID]; !ok {
		return domain.EntityField{}, domain.NewNotFoundError("entity version", field.EntityVersionID)
	}
	field.ID = ensureID(field.ID)
	if err := r.checkUnique(field); err != nil {
		return domain.EntityField{}, fmt.Errorf("failed to create field: %w", err)
	}

	now := r.s.now().UTC()
	field.CreatedAt, field.UpdatedAt = now, now
	field.EntityVersion = nil
	field = cloneValue(field)
	st.Fields[field.ID] = Row[domain.EntityField]{Seq: st.next(), Value: field}
	return cloneValue(field), nil
}

func (r *memoryFields) GetByID(ctx context.Context, id uuid.UUID) (domain.EntityField, error) {
	unlock := r.s.rlock()
	defer unlock()

	row, ok := r.s.state.Fields[id]
	if !ok {
		return domain.EntityField{}, domain.NewNotFoundError("entity field", id)
	}
	return cloneValue(row.Value), nil
}

func (r *memoryFields) List(ctx context.Context, filter FieldFilter) ([]domain.EntityField, error) {
	unlock := r.s.rlock()
	defer unlock()

	ids := idSet(filter.IDs)
	versionIDs := idSet(filter.EntityVersionIDs)
	names := stringSet(filter.Names)
	permanentIDs := stringSet(filter.PermanentIDs)
	return sortedRows(r.s.state.Fields, func(f domain.EntityField) bool {
		if !inSet(ids, f.ID) || !inSet(versionIDs, f.EntityVersionID) {
			return false
		}
		if !inSet(names, f.Name) || !inSet(permanentIDs, f.PermanentID) {
			return false
		}
		if filter.DataType != nil && f.DataType != *filter.DataType {
			return false
		}
		return true
	}), nil
}

func (r *memoryFields) Update(ctx context.Context, field domain.EntityField) (domain.EntityField, error) {
	unlock := r.s.lock()
	defer unlock()

	row, ok := r.s.state.Fields[field.ID]
	if !ok {
		return domain.EntityField{}, domain.NewNotFoundError("entity field", field.ID)
	}
	current := row.Value
	current.Name = field.Name
	current.DisplayName = field.DisplayName
	current.DataType = field.DataType
	current.Properties = cloneProperties(field.Properties)
	current.Required = field.Required
	current.Unique = field.Unique
	current.Searchable = field.Searchable
	current.Description = field.Description
	current.UpdatedAt = r.s.now().UTC()
	if err := r.checkUnique(current); err != nil {
		return domain.EntityField{}, fmt.Errorf("failed to update field: %w", err)
	}
	row.Value = current
	r.s.state.Fields[field.ID] = row
	return cloneValue(current), nil
}

func (r *memoryFields) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	row, ok := r.s.state.Fields[id]
	if !ok {
		return domain.NewNotFoundError("entity field", id)
	}
	delete(r.s.state.Fields, id)
	r.s.state.dropPermissionFields(func(pf domain.EntityPermissionField) bool {
		return pf.EntityVersionID == row.Value.EntityVersionID && pf.FieldPermanentID == row.Value.PermanentID
	})
	return nil
}

func (r *memoryFields) DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	for id, row := range r.s.state.Fields {
		if row.Value.EntityVersionID == entityVersionID {
			delete(r.s.state.Fields, id)
		}
	}
	r.s.state.dropPermissionFields(func(pf domain.EntityPermissionField) bool {
		return pf.EntityVersionID == entityVersionID
	})
	return nil
}

func (s *MemoryState) dropPermissionFields(match func(domain.EntityPermissionField) bool) {
	for id, row := range s.PermissionFields {
		if match(row.Value) {
			delete(s.PermissionFields, id)
			delete(s.FieldRoleLinks, id)
		}
	}
}

// --- permissions

type memoryPermissions struct{ s *MemoryStore }

func (r *memoryPermissions) Create(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.Versions[permission.EntityVersionID]; !ok {
		return domain.EntityPermission{}, domain.NewNotFoundError("entity version", permission.EntityVersionID)
	}
	for _, row := range st.Permissions {
		if row.Value.EntityVersionID == permission.EntityVersionID && row.Value.Action == permission.Action {
			return domain.EntityPermission{}, fmt.Errorf("failed to create permission %s: %w", permission.Action, ErrUniqueViolation)
		}
	}
	permission.ID = ensureID(permission.ID)
	permission.PermissionRoles, permission.PermissionFields = nil, nil
	st.Permissions[permission.ID] = Row[domain.EntityPermission]{Seq: st.next(), Value: permission}
	return permission, nil
}

func (r *memoryPermissions) List(ctx context.Context, filter PermissionFilter) ([]domain.EntityPermission, error) {
	unlock := r.s.rlock()
	defer unlock()

	versionIDs := idSet(filter.EntityVersionIDs)
	out := sortedRows(r.s.state.Permissions, func(p domain.EntityPermission) bool {
		if !inSet(versionIDs, p.EntityVersionID) {
			return false
		}
		return filter.Action == nil || p.Action == *filter.Action
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

func (r *memoryPermissions) Update(ctx context.Context, permission domain.EntityPermission) (domain.EntityPermission, error) {
	unlock := r.s.lock()
	defer unlock()

	row, ok := r.s.state.Permissions[permission.ID]
	if !ok {
		return domain.EntityPermission{}, domain.NewNotFoundError("entity permission", permission.ID)
	}
	row.Value.Type = permission.Type
	r.s.state.Permissions[permission.ID] = row
	return row.Value, nil
}

func (r *memoryPermissions) DeleteByVersion(ctx context.Context, entityVersionID uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	for id, row := range st.Permissions {
		if row.Value.EntityVersionID == entityVersionID {
			delete(st.Permissions, id)
		}
	}
	for id, row := range st.PermissionRoles {
		if row.Value.EntityVersionID == entityVersionID {
			delete(st.PermissionRoles, id)
		}
	}
	st.dropPermissionFields(func(pf domain.EntityPermissionField) bool {
		return pf.EntityVersionID == entityVersionID
	})
	return nil
}

func (r *memoryPermissions) CreateRole(ctx context.Context, role domain.EntityPermissionRole) (domain.EntityPermissionRole, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	found := false
	for _, row := range st.Permissions {
		if row.Value.EntityVersionID == role.EntityVersionID && row.Value.Action == role.Action {
			found = true
			break
		}
	}
	if !found {
		return domain.EntityPermissionRole{}, &domain.NotFoundError{
			Resource: "entity permission",
			Detail:   fmt.Sprintf("version %s action %s", role.EntityVersionID, role.Action),
		}
	}
	if _, ok := st.AppRoles[role.AppRoleID]; !ok {
		return domain.EntityPermissionRole{}, domain.NewNotFoundError("app role", role.AppRoleID)
	}
	for _, row := range st.PermissionRoles {
		v := row.Value
		if v.EntityVersionID == role.EntityVersionID && v.Action == role.Action && v.AppRoleID == role.AppRoleID {
			return domain.EntityPermissionRole{}, fmt.Errorf("failed to create permission role: %w", ErrUniqueViolation)
		}
	}
	role.ID = ensureID(role.ID)
	role.AppRole = nil
	st.PermissionRoles[role.ID] = Row[domain.EntityPermissionRole]{Seq: st.next(), Value: role}
	return role, nil
}

func (r *memoryPermissions) ListRoles(ctx context.Context, filter PermissionRoleFilter) ([]domain.EntityPermissionRole, error) {
	unlock := r.s.rlock()
	defer unlock()

	ids := idSet(filter.IDs)
	versionIDs := idSet(filter.EntityVersionIDs)
	appRoleIDs := idSet(filter.AppRoleIDs)
	out := sortedRows(r.s.state.PermissionRoles, func(role domain.EntityPermissionRole) bool {
		if !inSet(ids, role.ID) || !inSet(versionIDs, role.EntityVersionID) || !inSet(appRoleIDs, role.AppRoleID) {
			return false
		}
		return filter.Action == nil || role.Action == *filter.Action
	})
	sortRoles(out)
	return out, nil
}

func (r *memoryPermissions) DeleteRoles(ctx context.Context, ids []uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	for _, id := range ids {
		delete(st.PermissionRoles, id)
	}
	drop := idSet(ids)
	for pfID, links := range st.FieldRoleLinks {
		kept := links[:0]
		for _, roleID := range links {
			if !inSet(drop, roleID) {
				kept = append(kept, roleID)
			}
		}
		st.FieldRoleLinks[pfID] = kept
	}
	return nil
}

func (r *memoryPermissions) CreateField(ctx context.Context, field domain.EntityPermissionField) (domain.EntityPermissionField, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	perm, ok := st.Permissions[field.PermissionID]
	if !ok {
		return domain.EntityPermissionField{}, domain.NewNotFoundError("entity permission", field.PermissionID)
	}
	field.EntityVersionID = perm.Value.EntityVersionID

	fieldExists := false
	for _, row := range st.Fields {
		if row.Value.EntityVersionID == field.EntityVersionID && row.Value.PermanentID == field.FieldPermanentID {
			fieldExists = true
			break
		}
	}
	if !fieldExists {
		return domain.EntityPermissionField{}, &domain.NotFoundError{Resource: "entity field", ID: field.FieldPermanentID}
	}
	for _, row := range st.PermissionFields {
		if row.Value.PermissionID == field.PermissionID && row.Value.FieldPermanentID == field.FieldPermanentID {
			return domain.EntityPermissionField{}, fmt.Errorf("failed to create permission field: %w", ErrUniqueViolation)
		}
	}

	field.ID = ensureID(field.ID)
	field.Field, field.PermissionRoles, field.Permission = nil, nil, nil
	st.PermissionFields[field.ID] = Row[domain.EntityPermissionField]{Seq: st.next(), Value: field}
	return field, nil
}

func (r *memoryPermissions) GetField(ctx context.Context, id uuid.UUID) (domain.EntityPermissionField, error) {
	unlock := r.s.rlock()
	defer unlock()

	row, ok := r.s.state.PermissionFields[id]
	if !ok {
		return domain.EntityPermissionField{}, domain.NewNotFoundError("entity permission field", id)
	}
	return row.Value, nil
}

func (r *memoryPermissions) ListFields(ctx context.Context, filter PermissionFieldFilter) ([]domain.EntityPermissionField, error) {
	unlock := r.s.rlock()
	defer unlock()

	ids := idSet(filter.IDs)
	permIDs := idSet(filter.PermissionIDs)
	versionIDs := idSet(filter.EntityVersionIDs)
	permanentIDs := stringSet(filter.FieldPermanentIDs)
	out := sortedRows(r.s.state.PermissionFields, func(pf domain.EntityPermissionField) bool {
		return inSet(ids, pf.ID) && inSet(permIDs, pf.PermissionID) &&
			inSet(versionIDs, pf.EntityVersionID) && inSet(permanentIDs, pf.FieldPermanentID)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].FieldPermanentID < out[j].FieldPermanentID })
	return out, nil
}

func (r *memoryPermissions) DeleteFields(ctx context.Context, ids []uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	for _, id := range ids {
		delete(r.s.state.PermissionFields, id)
		delete(r.s.state.FieldRoleLinks, id)
	}
	return nil
}

func (r *memoryPermissions) ConnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.PermissionFields[permissionFieldID]; !ok {
		return domain.NewNotFoundError("entity permission field", permissionFieldID)
	}
	existing := idSet(st.FieldRoleLinks[permissionFieldID])
	links := append([]uuid.UUID(nil), st.FieldRoleLinks[permissionFieldID]...)
	for _, roleID := range permissionRoleIDs {
		if _, ok := st.PermissionRoles[roleID]; !ok {
			return domain.NewNotFoundError("entity permission role", roleID)
		}
		if existing != nil {
			if _, dup := existing[roleID]; dup {
				continue
			}
		} else {
			existing = map[uuid.UUID]struct{}{}
		}
		existing[roleID] = struct{}{}
		links = append(links, roleID)
	}
	st.FieldRoleLinks[permissionFieldID] = links
	return nil
}

func (r *memoryPermissions) DisconnectFieldRoles(ctx context.Context, permissionFieldID uuid.UUID, permissionRoleIDs []uuid.UUID) error {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.PermissionFields[permissionFieldID]; !ok {
		return domain.NewNotFoundError("entity permission field", permissionFieldID)
	}
	drop := idSet(permissionRoleIDs)
	var kept []uuid.UUID
	for _, roleID := range st.FieldRoleLinks[permissionFieldID] {
		if !inSet(drop, roleID) {
			kept = append(kept, roleID)
		}
	}
	st.FieldRoleLinks[permissionFieldID] = kept
	return nil
}

func (r *memoryPermissions) ListFieldRoleLinks(ctx context.Context, permissionFieldIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	unlock := r.s.rlock()
	defer unlock()

	out := make(map[uuid.UUID][]uuid.UUID, len(permissionFieldIDs))
	for _, id := range permissionFieldIDs {
		if links := r.s.state.FieldRoleLinks[id]; len(links) > 0 {
			out[id] = append([]uuid.UUID(nil), links...)
		}
	}
	return out, nil
}

// --- commits, app roles, users

type memoryCommits struct{ s *MemoryStore }

func (r *memoryCommits) Create(ctx context.Context, commit domain.Commit) (domain.Commit, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if _, ok := st.Users[commit.UserID]; !ok {
		return domain.Commit{}, domain.NewNotFoundError("user", commit.UserID)
	}
	commit.ID = ensureID(commit.ID)
	commit.CreatedAt = r.s.now().UTC()
	st.Commits[commit.ID] = Row[domain.Commit]{Seq: st.next(), Value: commit}
	return commit, nil
}

func (r *memoryCommits) GetByID(ctx context.Context, id uuid.UUID) (domain.Commit, error) {
	unlock := r.s.rlock()
	defer unlock()

	row, ok := r.s.state.Commits[id]
	if !ok {
		return domain.Commit{}, domain.NewNotFoundError("commit", id)
	}
	return row.Value, nil
}

func (r *memoryCommits) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Commit, error) {
	unlock := r.s.rlock()
	defer unlock()

	set := idSet(ids)
	return sortedRows(r.s.state.Commits, func(c domain.Commit) bool { return set != nil && inSet(set, c.ID) }), nil
}

func (r *memoryCommits) List(ctx context.Context, appID uuid.UUID) ([]domain.Commit, error) {
	unlock := r.s.rlock()
	defer unlock()

	return sortedRows(r.s.state.Commits, func(c domain.Commit) bool { return c.AppID == appID }), nil
}

type memoryAppRoles struct{ s *MemoryStore }

func (r *memoryAppRoles) Create(ctx context.Context, role domain.AppRole) (domain.AppRole, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	for _, row := range st.AppRoles {
		if row.Value.AppID == role.AppID && row.Value.Name == role.Name {
			return domain.AppRole{}, fmt.Errorf("failed to create app role %q: %w", role.Name, ErrUniqueViolation)
		}
	}
	role.ID = ensureID(role.ID)
	now := r.s.now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	st.AppRoles[role.ID] = Row[domain.AppRole]{Seq: st.next(), Value: role}
	return role, nil
}

func (r *memoryAppRoles) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.AppRole, error) {
	unlock := r.s.rlock()
	defer unlock()

	set := idSet(ids)
	return sortedRows(r.s.state.AppRoles, func(a domain.AppRole) bool { return set != nil && inSet(set, a.ID) }), nil
}

func (r *memoryAppRoles) List(ctx context.Context, appID uuid.UUID) ([]domain.AppRole, error) {
	unlock := r.s.rlock()
	defer unlock()

	return sortedRows(r.s.state.AppRoles, func(a domain.AppRole) bool { return a.AppID == appID }), nil
}

type memoryUsers struct{ s *MemoryStore }

func (r *memoryUsers) Ensure(ctx context.Context, user domain.User) (domain.User, error) {
	unlock := r.s.lock()
	defer unlock()

	st := r.s.state
	if row, ok := st.Users[user.ID]; ok {
		return row.Value, nil
	}
	now := r.s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	st.Users[user.ID] = Row[domain.User]{Seq: st.next(), Value: user}
	return user, nil
}

func (r *memoryUsers) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	unlock := r.s.rlock()
	defer unlock()

	set := idSet(ids)
	return sortedRows(r.s.state.Users, func(u domain.User) bool { return set != nil && inSet(set, u.ID) }), nil
}
