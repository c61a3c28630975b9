package entity

import (
	"context"
	"fmt"
	"time"

	"eavstore/internal/cache"
	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/core/tx"
	"eavstore/internal/eav/metadata"
	"eavstore/internal/eav/value"
	"eavstore/pkg/logger"
)

// Row is the entity-table record. Attribute values never live on this table.
type Row struct {
	ID           id.ID      `db:"id"`
	EntityTypeID int64      `db:"entity_type_id"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at"`
}

// Store is the relational adapter for the entity table.
// Read methods return (nil, nil) / omit ids for absent rows.
type Store interface {
	InsertRow(ctx context.Context, row *Row) error
	GetRow(ctx context.Context, entityTypeID int64, entityID id.ID) (*Row, error)
	GetRows(ctx context.Context, entityTypeID int64, entityIDs []id.ID) ([]*Row, error)
	TouchRow(ctx context.Context, entityID id.ID, updatedAt time.Time) error
	DeleteRow(ctx context.Context, entityID id.ID) error
	SoftDeleteRow(ctx context.Context, entityID id.ID, deletedAt time.Time) error
}

// Manager owns entity lifecycle and the transaction boundary spanning the
// entity row and its value-table rows.
type Manager struct {
	store  Store
	values *value.Manager
	txm    tx.Manager
	cache  *cache.Manager
}

// NewManager wires the lifecycle manager.
func NewManager(store Store, values *value.Manager, txm tx.Manager, cacheManager *cache.Manager) *Manager {
	return &Manager{store: store, values: values, txm: txm, cache: cacheManager}
}

// Values exposes the underlying value manager (used by the batch layer).
func (m *Manager) Values() *value.Manager { return m.values }

// Tx exposes the transaction manager (used by the batch layer).
func (m *Manager) Tx() tx.Manager { return m.txm }

// Create validates data, then inserts the entity row and all attribute
// values within one transaction. On any failure the transaction is rolled
// back and an entity error carrying the type code is returned; nothing is
// left partially committed.
func (m *Manager) Create(ctx context.Context, entityType *metadata.EntityType, data map[string]any) (*Entity, error) {
	if entityType.ID == 0 {
		return nil, apperror.NewConfiguration("entity type has no identifier").
			WithDetail("entity_type", entityType.Code)
	}

	values := applyDefaults(entityType, data)
	if err := m.validate(ctx, entityType, values, id.Nil()); err != nil {
		return nil, err
	}

	e := newTransient(entityType, values)
	e.ID = id.New()
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := m.store.InsertRow(ctx, &Row{
			ID:           e.ID,
			EntityTypeID: entityType.ID,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.UpdatedAt,
		}); err != nil {
			return err
		}
		return m.values.SaveValues(ctx, e.ID, entityType, e.Values())
	})
	if err != nil {
		return nil, apperror.NewEntity(entityType.Code, "create failed").WithCause(err)
	}

	e.clearDirty()
	m.cache.InvalidateQueries(ctx, entityType.ID)
	logger.Debug(ctx, "entity created", "entity_type", entityType.Code, "id", e.ID)
	return e, nil
}

// Load reads one entity with its full attribute set. A missing row is a
// valid outcome, reported as (nil, nil), never as an error.
func (m *Manager) Load(ctx context.Context, entityType *metadata.EntityType, entityID id.ID) (*Entity, error) {
	if e, ok := m.loadCached(ctx, entityType, entityID); ok {
		return e, nil
	}

	row, err := m.store.GetRow(ctx, entityType.ID, entityID)
	if err != nil {
		return nil, fmt.Errorf("load entity row: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	values, err := m.values.LoadValues(ctx, entityID, entityType.Attributes)
	if err != nil {
		return nil, err
	}

	e := m.assemble(entityType, row, values)
	m.cacheEntity(ctx, e)
	return e, nil
}

// Save persists the dirty subset of a loaded entity. Saving an entity with
// no changes is a committed no-op; saving a transient entity is a misuse.
func (m *Manager) Save(ctx context.Context, e *Entity) error {
	if !e.IsPersisted() {
		return apperror.NewEntity(e.Type.Code, "use Create for new entities")
	}
	if !e.IsDirty() {
		return nil
	}
	if err := m.validate(ctx, e.Type, e.Values(), e.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := m.store.TouchRow(ctx, e.ID, now); err != nil {
			return err
		}
		// Only the dirty values are written, never the full set.
		return m.values.SaveValues(ctx, e.ID, e.Type, e.DirtyValues())
	})
	if err != nil {
		return apperror.NewEntity(e.Type.Code, "save failed").WithCause(err)
	}

	e.UpdatedAt = now
	e.clearDirty()
	m.invalidate(ctx, e)
	m.cacheEntity(ctx, e)
	return nil
}

// Delete removes the entity row and its rows in all five value tables in
// one transaction. Tables the entity type never used are cheap no-ops.
func (m *Manager) Delete(ctx context.Context, e *Entity) error {
	if !e.IsPersisted() {
		return apperror.NewEntity(e.Type.Code, "cannot delete an unsaved entity")
	}

	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := m.values.DeleteAll(ctx, e.ID); err != nil {
			return err
		}
		return m.store.DeleteRow(ctx, e.ID)
	})
	if err != nil {
		return apperror.NewEntity(e.Type.Code, "delete failed").WithCause(err)
	}

	m.invalidate(ctx, e)
	e.markDeleted()
	return nil
}

// SoftDelete marks the entity row deleted without touching value tables.
// Subsequent loads skip the row; values remain for potential restore.
func (m *Manager) SoftDelete(ctx context.Context, e *Entity) error {
	if !e.IsPersisted() {
		return apperror.NewEntity(e.Type.Code, "cannot delete an unsaved entity")
	}
	now := time.Now().UTC()
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return m.store.SoftDeleteRow(ctx, e.ID, now)
	})
	if err != nil {
		return apperror.NewEntity(e.Type.Code, "soft delete failed").WithCause(err)
	}
	m.invalidate(ctx, e)
	e.markDeleted()
	return nil
}

// LoadMultiple batch-loads entities; ids with no matching row are silently
// omitted from the result.
func (m *Manager) LoadMultiple(ctx context.Context, entityType *metadata.EntityType, entityIDs []id.ID) ([]*Entity, error) {
	return m.LoadMultipleWithAttrs(ctx, entityType, entityIDs, entityType.Attributes)
}

// LoadMultipleWithAttrs batch-loads entities hydrating only the given
// attributes. Entities hydrated with a narrowed set are not cached: a
// partial payload must never shadow the full one.
func (m *Manager) LoadMultipleWithAttrs(ctx context.Context, entityType *metadata.EntityType, entityIDs []id.ID, attrs []*metadata.Attribute) ([]*Entity, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := m.store.GetRows(ctx, entityType.ID, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("load entity rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]id.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	valuesByID, err := m.values.LoadMultiple(ctx, ids, attrs)
	if err != nil {
		return nil, err
	}

	fullSet := len(attrs) == len(entityType.Attributes)
	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e := m.assemble(entityType, row, valuesByID[row.ID])
		if fullSet {
			m.cacheEntity(ctx, e)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// --- Validation ---

// validate aggregates every field-level failure before any write is
// attempted. excludeID keeps uniqueness checks from matching the entity
// being updated.
func (m *Manager) validate(ctx context.Context, entityType *metadata.EntityType, values map[string]any, excludeID id.ID) error {
	fieldErrs := make(apperror.FieldErrors)

	for _, attr := range entityType.Attributes {
		v, present := values[attr.Code]
		if !present {
			if attr.Required {
				fieldErrs.Add(attr.Code, "is required")
			}
			continue
		}
		// nil has no storage representation; rejecting it here keeps the
		// failure out of the transaction.
		if v == nil {
			if attr.Required {
				fieldErrs.Add(attr.Code, "is required")
			} else {
				fieldErrs.Add(attr.Code, "cannot be null")
			}
			continue
		}

		strategy, err := m.values.Strategies().ForType(attr.Backend)
		if err != nil {
			return err
		}
		if err := strategy.ValidateValue(v); err != nil {
			fieldErrs.Add(attr.Code, failureMessage(err))
			continue
		}

		for _, msg := range attr.Rules.Check(v, values) {
			fieldErrs.Add(attr.Code, msg)
		}

		if attr.Unique {
			holders, err := m.values.FindEntityIDsByValue(ctx, attr, v)
			if err != nil {
				return err
			}
			for _, holder := range holders {
				if holder != excludeID {
					fieldErrs.Add(attr.Code, "must be unique")
					break
				}
			}
		}
	}

	return fieldErrs.AsError()
}

func failureMessage(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

// applyDefaults fills attribute defaults for codes the caller omitted.
func applyDefaults(entityType *metadata.EntityType, data map[string]any) map[string]any {
	values := make(map[string]any, len(data))
	for code, v := range data {
		values[code] = v
	}
	for _, attr := range entityType.Attributes {
		if _, ok := values[attr.Code]; !ok && attr.Default != nil {
			values[attr.Code] = attr.Default
		}
	}
	return values
}

// --- Assembly and caching ---

func (m *Manager) assemble(entityType *metadata.EntityType, row *Row, values map[string]any) *Entity {
	e := &Entity{
		ID:        row.ID,
		Type:      entityType,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		values:    values,
	}
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.clearDirty()
	return e
}

// cachedEntity is the cache payload. Values are held in storage
// representation so the strategies can restore the in-memory types.
type cachedEntity struct {
	ID        id.ID          `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Values    map[string]any `json:"values"`
}

func (m *Manager) cacheEntity(ctx context.Context, e *Entity) {
	storageValues := make(map[string]any, len(e.values))
	for code, v := range e.values {
		attr := e.Type.AttributeByCode(code)
		if attr == nil {
			continue
		}
		strategy, err := m.values.Strategies().ForType(attr.Backend)
		if err != nil {
			return
		}
		sv, err := strategy.TransformForStorage(v)
		if err != nil {
			return
		}
		storageValues[code] = sv
	}

	payload, err := cache.Marshal(cachedEntity{
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Values:    storageValues,
	})
	if err != nil {
		return
	}
	m.cache.Set(ctx, cache.KeyEntity(e.Type.ID, e.ID), payload, e.Type.CacheTTL)
}

func (m *Manager) loadCached(ctx context.Context, entityType *metadata.EntityType, entityID id.ID) (*Entity, bool) {
	payload, ok := m.cache.Get(ctx, cache.KeyEntity(entityType.ID, entityID))
	if !ok {
		return nil, false
	}
	var cached cachedEntity
	if err := cache.Unmarshal(payload, &cached); err != nil {
		m.cache.Delete(ctx, cache.KeyEntity(entityType.ID, entityID))
		return nil, false
	}

	values := make(map[string]any, len(cached.Values))
	for code, sv := range cached.Values {
		attr := entityType.AttributeByCode(code)
		if attr == nil {
			continue
		}
		strategy, err := m.values.Strategies().ForType(attr.Backend)
		if err != nil {
			return nil, false
		}
		v, err := strategy.TransformFromStorage(sv)
		if err != nil {
			m.cache.Delete(ctx, cache.KeyEntity(entityType.ID, entityID))
			return nil, false
		}
		values[code] = v
	}

	e := &Entity{
		ID:        cached.ID,
		Type:      entityType,
		CreatedAt: cached.CreatedAt,
		UpdatedAt: cached.UpdatedAt,
		values:    values,
	}
	e.clearDirty()
	return e, true
}

func (m *Manager) invalidate(ctx context.Context, e *Entity) {
	m.cache.InvalidateEntity(ctx, e.Type.ID, e.ID)
}

// InvalidateCached drops the cached payload and query results for one
// entity. Used by layers that write values without going through Save.
func (m *Manager) InvalidateCached(ctx context.Context, entityTypeID int64, entityID id.ID) {
	m.cache.InvalidateEntity(ctx, entityTypeID, entityID)
}
