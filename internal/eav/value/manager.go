// Package value fans attribute values out to and in from the correct
// storage strategy per attribute. It enforces the engine's central ordering
// invariant: metadata identifiers must exist before any value is persisted.
package value

import (
	"context"
	"fmt"

	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/metadata"
	"eavstore/pkg/logger"
)

// Row is one (entity, attribute, value) tuple in storage representation.
type Row struct {
	EntityID    id.ID
	AttributeID int64
	Value       any
}

// Store is the relational adapter for the five value tables.
// Implemented by the postgres value repository.
type Store interface {
	// LoadRows fetches rows from one backend-type table for the given
	// entities, restricted to the given attribute ids.
	LoadRows(ctx context.Context, backendType backend.Type, entityIDs []id.ID, attributeIDs []int64) ([]Row, error)

	// UpsertMany writes rows across value tables in one round trip.
	UpsertMany(ctx context.Context, rows map[backend.Type][]Row) error

	// DeleteEntityRows removes every row of one entity from one table.
	DeleteEntityRows(ctx context.Context, backendType backend.Type, entityID id.ID) error

	// FindEntityIDs returns entities holding the given storage value for an
	// attribute. Used for uniqueness checks.
	FindEntityIDs(ctx context.Context, backendType backend.Type, attributeID int64, storageValue any) ([]id.ID, error)
}

// Manager coordinates the storage strategies for full attribute sets.
type Manager struct {
	store      Store
	strategies *backend.Set
}

// NewManager creates a value manager over a store and strategy set.
func NewManager(store Store, strategies *backend.Set) *Manager {
	return &Manager{store: store, strategies: strategies}
}

// Strategies exposes the strategy set for components that share it.
func (m *Manager) Strategies() *backend.Set { return m.strategies }

const msgMetadataMissing = "attribute metadata missing"

// LoadValues returns the stored values of one entity for the given
// attributes, keyed by attribute code.
func (m *Manager) LoadValues(ctx context.Context, entityID id.ID, attrs []*metadata.Attribute) (map[string]any, error) {
	grouped, err := m.loadGrouped(ctx, []id.ID{entityID}, attrs)
	if err != nil {
		return nil, err
	}
	values, ok := grouped[entityID]
	if !ok {
		return map[string]any{}, nil
	}
	return values, nil
}

// LoadMultiple batch-reads values for many entities, one query per touched
// value table, avoiding N+1 round trips.
func (m *Manager) LoadMultiple(ctx context.Context, entityIDs []id.ID, attrs []*metadata.Attribute) (map[id.ID]map[string]any, error) {
	return m.loadGrouped(ctx, entityIDs, attrs)
}

func (m *Manager) loadGrouped(ctx context.Context, entityIDs []id.ID, attrs []*metadata.Attribute) (map[id.ID]map[string]any, error) {
	byType := make(map[backend.Type][]int64)
	codeByID := make(map[int64]*metadata.Attribute, len(attrs))
	for _, attr := range attrs {
		if !attr.HasID() {
			return nil, apperror.NewStorage(msgMetadataMissing).WithDetail("attribute", attr.Code)
		}
		byType[attr.Backend] = append(byType[attr.Backend], *attr.ID)
		codeByID[*attr.ID] = attr
	}

	result := make(map[id.ID]map[string]any, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}

	for backendType, attributeIDs := range byType {
		strategy, err := m.strategies.ForType(backendType)
		if err != nil {
			return nil, err
		}
		rows, err := m.store.LoadRows(ctx, backendType, entityIDs, attributeIDs)
		if err != nil {
			return nil, fmt.Errorf("load %s values: %w", backendType, err)
		}
		for _, row := range rows {
			attr, ok := codeByID[row.AttributeID]
			if !ok {
				continue
			}
			value, err := strategy.TransformFromStorage(row.Value)
			if err != nil {
				return nil, fmt.Errorf("decode %s value for %s: %w", backendType, attr.Code, err)
			}
			if result[row.EntityID] == nil {
				result[row.EntityID] = make(map[string]any)
			}
			result[row.EntityID][attr.Code] = value
		}
	}
	return result, nil
}

// SaveValues persists values for one entity. Codes the entity type does not
// define are skipped silently (forward compatibility with retired
// attributes); a resolved attribute without a storage identifier fails with
// a storage error. All rows go out in one multi-table call.
func (m *Manager) SaveValues(ctx context.Context, entityID id.ID, entityType *metadata.EntityType, values map[string]any) error {
	if entityType.ID == 0 {
		return apperror.NewConfiguration("entity type has no identifier").
			WithDetail("entity_type", entityType.Code)
	}

	rows := make(map[backend.Type][]Row)
	for code, raw := range values {
		attr := entityType.AttributeByCode(code)
		if attr == nil {
			logger.Debug(ctx, "skipping unknown attribute code",
				"entity_type", entityType.Code, "code", code)
			continue
		}
		if !attr.HasID() {
			return apperror.NewStorage(msgMetadataMissing).WithDetail("attribute", code)
		}
		strategy, err := m.strategies.ForType(attr.Backend)
		if err != nil {
			return err
		}
		storageValue, err := strategy.TransformForStorage(raw)
		if err != nil {
			return fmt.Errorf("encode %s: %w", code, err)
		}
		rows[attr.Backend] = append(rows[attr.Backend], Row{
			EntityID:    entityID,
			AttributeID: *attr.ID,
			Value:       storageValue,
		})
	}

	if len(rows) == 0 {
		return nil
	}
	if err := m.store.UpsertMany(ctx, rows); err != nil {
		return fmt.Errorf("save values: %w", err)
	}
	return nil
}

// LoadValue reads a single attribute value. Same identifier precondition as
// LoadValues.
func (m *Manager) LoadValue(ctx context.Context, entityID id.ID, attr *metadata.Attribute) (any, bool, error) {
	values, err := m.LoadValues(ctx, entityID, []*metadata.Attribute{attr})
	if err != nil {
		return nil, false, err
	}
	v, ok := values[attr.Code]
	return v, ok, nil
}

// SaveValue writes a single attribute value. Same identifier precondition as
// SaveValues.
func (m *Manager) SaveValue(ctx context.Context, entityID id.ID, entityType *metadata.EntityType, code string, value any) error {
	return m.SaveValues(ctx, entityID, entityType, map[string]any{code: value})
}

// DeleteAll removes the entity's rows from every value table, including
// backend types its entity type never used. Those deletes are cheap no-ops.
func (m *Manager) DeleteAll(ctx context.Context, entityID id.ID) error {
	for _, backendType := range backend.Types() {
		if err := m.store.DeleteEntityRows(ctx, backendType, entityID); err != nil {
			return fmt.Errorf("delete %s values: %w", backendType, err)
		}
	}
	return nil
}

// Update is one typed value change used by the batch layer.
type Update struct {
	EntityID id.ID
	Attr     *metadata.Attribute
	Value    any
}

// ApplyTyped groups updates by backend type and writes each group in one
// storage call, minimizing distinct round trips for bulk updates.
func (m *Manager) ApplyTyped(ctx context.Context, updates []Update) error {
	rows := make(map[backend.Type][]Row)
	for _, update := range updates {
		if update.Attr == nil {
			return apperror.NewStorage("update references no attribute")
		}
		if !update.Attr.HasID() {
			return apperror.NewStorage(msgMetadataMissing).WithDetail("attribute", update.Attr.Code)
		}
		strategy, err := m.strategies.ForType(update.Attr.Backend)
		if err != nil {
			return err
		}
		storageValue, err := strategy.TransformForStorage(update.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", update.Attr.Code, err)
		}
		rows[update.Attr.Backend] = append(rows[update.Attr.Backend], Row{
			EntityID:    update.EntityID,
			AttributeID: *update.Attr.ID,
			Value:       storageValue,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return m.store.UpsertMany(ctx, rows)
}

// FindEntityIDsByValue returns the entities currently holding the given
// value for an attribute. Used by uniqueness validation.
func (m *Manager) FindEntityIDsByValue(ctx context.Context, attr *metadata.Attribute, value any) ([]id.ID, error) {
	if !attr.HasID() {
		return nil, apperror.NewStorage(msgMetadataMissing).WithDetail("attribute", attr.Code)
	}
	strategy, err := m.strategies.ForType(attr.Backend)
	if err != nil {
		return nil, err
	}
	storageValue, err := strategy.TransformForStorage(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", attr.Code, err)
	}
	return m.store.FindEntityIDs(ctx, attr.Backend, *attr.ID, storageValue)
}
