package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/entity"
	"eavstore/internal/eav/metadata"
	"eavstore/internal/eav/value"
)

// recordingExecutor captures the generated SQL instead of hitting a database.
type recordingExecutor struct {
	idQueries    []string
	idArgs       [][]any
	countQueries []string

	ids   []id.ID
	count int64
}

func (e *recordingExecutor) SelectIDs(_ context.Context, sql string, args []any) ([]id.ID, error) {
	e.idQueries = append(e.idQueries, sql)
	e.idArgs = append(e.idArgs, args)
	return e.ids, nil
}

func (e *recordingExecutor) SelectCount(_ context.Context, sql string, _ []any) (int64, error) {
	e.countQueries = append(e.countQueries, sql)
	return e.count, nil
}

func productType() *metadata.EntityType {
	nameID, skuID, descID, priceID := int64(1), int64(2), int64(3), int64(4)
	return &metadata.EntityType{
		ID:   1,
		Code: "product",
		Attributes: []*metadata.Attribute{
			{ID: &nameID, EntityTypeID: 1, Code: "name", Backend: backend.TypeVarchar, Searchable: true},
			{ID: &skuID, EntityTypeID: 1, Code: "sku", Backend: backend.TypeVarchar, Searchable: true},
			{ID: &descID, EntityTypeID: 1, Code: "description", Backend: backend.TypeText, Searchable: true},
			{ID: &priceID, EntityTypeID: 1, Code: "price", Backend: backend.TypeDecimal, Filterable: true},
		},
	}
}

func newTestRepo(exec *recordingExecutor) *Entities {
	values := value.NewManager(nil, backend.NewSet(nil))
	entities := entity.NewManager(nil, values, nil, nil)
	return NewEntities([]*metadata.EntityType{productType()}, entities, nil, exec, nil)
}

func TestEntities_TypeResolution(t *testing.T) {
	repo := NewEntities([]*metadata.EntityType{
		{ID: 1, Code: "product"},
		{ID: 2, Code: "customer"},
	}, nil, nil, nil, nil)

	entityType, err := repo.Type("customer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entityType.ID)

	_, err = repo.Type("order")
	require.Error(t, err)
	assert.True(t, apperror.IsConfiguration(err))
}

func TestSearch_BuildsEqualityPredicatesInCodeOrder(t *testing.T) {
	exec := &recordingExecutor{}
	repo := newTestRepo(exec)

	_, err := repo.Search(context.Background(), "product", map[string]any{
		"sku":  "SKU-1",
		"name": "Widget",
	})
	require.NoError(t, err)

	require.Len(t, exec.idQueries, 1)
	assert.Equal(t, "SELECT e.id FROM eav_entity AS e "+
		"JOIN eav_entity_varchar AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 "+
		"JOIN eav_entity_varchar AS v1 ON v1.entity_id = e.id AND v1.attribute_id = $2 "+
		"WHERE e.entity_type_id = $3 AND e.deleted_at IS NULL "+
		"AND v0.value = $4 AND v1.value = $5 "+
		"ORDER BY e.id ASC", exec.idQueries[0])
	assert.Equal(t, []any{int64(1), int64(2), int64(1), "Widget", "SKU-1"}, exec.idArgs[0])
}

func TestSearch_RejectsNonSearchableCriteria(t *testing.T) {
	exec := &recordingExecutor{}
	repo := newTestRepo(exec)

	_, err := repo.Search(context.Background(), "product", map[string]any{"price": "10"})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, err = repo.Search(context.Background(), "product", map[string]any{"color": "red"})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	assert.Empty(t, exec.idQueries, "invalid criteria must not reach the executor")
}

func TestSearchTerm_QueriesEachSearchableTextAttribute(t *testing.T) {
	exec := &recordingExecutor{}
	repo := newTestRepo(exec)

	_, err := repo.SearchTerm(context.Background(), "product", "bolt", 0)
	require.NoError(t, err)

	require.Len(t, exec.idQueries, 3, "one LIKE query per searchable text attribute")
	for i, sql := range exec.idQueries {
		assert.Contains(t, sql, "LIKE")
		assert.Contains(t, exec.idArgs[i], "%bolt%")
	}
}

func TestPaginate_WindowsTheTypeQuery(t *testing.T) {
	exec := &recordingExecutor{count: 7}
	repo := newTestRepo(exec)

	page, err := repo.Paginate(context.Background(), "product", 2, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, uint64(2), page.Page)
	assert.Equal(t, uint64(3), page.PerPage)
	assert.Equal(t, uint64(3), page.Pages)

	require.Len(t, exec.countQueries, 1)
	require.Len(t, exec.idQueries, 1)
	assert.Contains(t, exec.idQueries[0], "LIMIT 3 OFFSET 3")
}
