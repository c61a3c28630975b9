package value

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/metadata"
)

type mockValueStore struct {
	rows map[backend.Type][]Row

	upserts []map[backend.Type][]Row
	deletes []backend.Type
	found   []id.ID
}

func (m *mockValueStore) LoadRows(_ context.Context, backendType backend.Type, entityIDs []id.ID, attributeIDs []int64) ([]Row, error) {
	var out []Row
	for _, row := range m.rows[backendType] {
		for _, entityID := range entityIDs {
			if row.EntityID != entityID {
				continue
			}
			for _, attrID := range attributeIDs {
				if row.AttributeID == attrID {
					out = append(out, row)
				}
			}
		}
	}
	return out, nil
}

func (m *mockValueStore) UpsertMany(_ context.Context, rows map[backend.Type][]Row) error {
	m.upserts = append(m.upserts, rows)
	return nil
}

func (m *mockValueStore) DeleteEntityRows(_ context.Context, backendType backend.Type, _ id.ID) error {
	m.deletes = append(m.deletes, backendType)
	return nil
}

func (m *mockValueStore) FindEntityIDs(_ context.Context, _ backend.Type, _ int64, _ any) ([]id.ID, error) {
	return m.found, nil
}

func attrWithID(attrID int64, code string, t backend.Type) *metadata.Attribute {
	return &metadata.Attribute{ID: &attrID, EntityTypeID: 1, Code: code, Backend: t}
}

func testType(attrs ...*metadata.Attribute) *metadata.EntityType {
	return &metadata.EntityType{ID: 1, Code: "product", Attributes: attrs}
}

func TestSaveValues_GroupsByBackendType(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))

	entityType := testType(
		attrWithID(1, "name", backend.TypeVarchar),
		attrWithID(2, "price", backend.TypeDecimal),
		attrWithID(3, "stock", backend.TypeInt),
	)
	entityID := id.New()

	err := manager.SaveValues(context.Background(), entityID, entityType, map[string]any{
		"name":  "Widget",
		"price": "19.99",
		"stock": 5,
	})
	require.NoError(t, err)

	require.Len(t, store.upserts, 1, "all rows must go out in one storage call")
	rows := store.upserts[0]
	assert.Len(t, rows[backend.TypeVarchar], 1)
	assert.Len(t, rows[backend.TypeDecimal], 1)
	assert.Len(t, rows[backend.TypeInt], 1)
	assert.Equal(t, int64(3), rows[backend.TypeInt][0].AttributeID)
	assert.Equal(t, int64(5), rows[backend.TypeInt][0].Value)
}

func TestSaveValues_MissingAttributeIDIsStorageError(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))

	entityType := testType(&metadata.Attribute{EntityTypeID: 1, Code: "name", Backend: backend.TypeVarchar})

	err := manager.SaveValues(context.Background(), id.New(), entityType, map[string]any{"name": "x"})
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "attribute metadata missing", appErr.Message)
	assert.Empty(t, store.upserts, "nothing may be written when metadata is incomplete")
}

func TestSaveValues_UnknownCodeSkippedSilently(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))

	entityType := testType(attrWithID(1, "name", backend.TypeVarchar))

	err := manager.SaveValues(context.Background(), id.New(), entityType, map[string]any{
		"name":    "Widget",
		"retired": "ignored",
	})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Len(t, store.upserts[0][backend.TypeVarchar], 1)
}

func TestSaveValues_RequiresEntityTypeID(t *testing.T) {
	manager := NewManager(&mockValueStore{}, backend.NewSet(nil))
	entityType := &metadata.EntityType{Code: "product"} // no storage id

	err := manager.SaveValues(context.Background(), id.New(), entityType, map[string]any{"name": "x"})
	require.Error(t, err)
	assert.True(t, apperror.IsConfiguration(err))
}

func TestSaveValues_NoDefinedValuesIsNoOp(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))
	entityType := testType(attrWithID(1, "name", backend.TypeVarchar))

	err := manager.SaveValues(context.Background(), id.New(), entityType, map[string]any{"unknown": 1})
	require.NoError(t, err)
	assert.Empty(t, store.upserts)
}

func TestLoadValues_TransformsFromStorage(t *testing.T) {
	entityID := id.New()
	store := &mockValueStore{rows: map[backend.Type][]Row{
		backend.TypeVarchar: {{EntityID: entityID, AttributeID: 1, Value: "Widget"}},
		backend.TypeDecimal: {{EntityID: entityID, AttributeID: 2, Value: "19.99"}},
	}}
	manager := NewManager(store, backend.NewSet(nil))

	attrs := []*metadata.Attribute{
		attrWithID(1, "name", backend.TypeVarchar),
		attrWithID(2, "price", backend.TypeDecimal),
	}
	values, err := manager.LoadValues(context.Background(), entityID, attrs)
	require.NoError(t, err)

	assert.Equal(t, "Widget", values["name"])
	price, ok := values["price"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("19.99")))
}

func TestLoadValues_MissingAttributeIDIsStorageError(t *testing.T) {
	manager := NewManager(&mockValueStore{}, backend.NewSet(nil))
	attrs := []*metadata.Attribute{{Code: "name", Backend: backend.TypeVarchar}}

	_, err := manager.LoadValues(context.Background(), id.New(), attrs)
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))
}

func TestDeleteAll_TouchesEveryValueTable(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))

	require.NoError(t, manager.DeleteAll(context.Background(), id.New()))
	assert.ElementsMatch(t, backend.Types(), store.deletes)
}

func TestApplyTyped_GroupsUpdates(t *testing.T) {
	store := &mockValueStore{}
	manager := NewManager(store, backend.NewSet(nil))

	first, second := id.New(), id.New()
	updates := []Update{
		{EntityID: first, Attr: attrWithID(3, "stock", backend.TypeInt), Value: 10},
		{EntityID: second, Attr: attrWithID(3, "stock", backend.TypeInt), Value: 20},
		{EntityID: first, Attr: attrWithID(2, "price", backend.TypeDecimal), Value: "9.99"},
	}
	require.NoError(t, manager.ApplyTyped(context.Background(), updates))

	require.Len(t, store.upserts, 1)
	assert.Len(t, store.upserts[0][backend.TypeInt], 2)
	assert.Len(t, store.upserts[0][backend.TypeDecimal], 1)
}
