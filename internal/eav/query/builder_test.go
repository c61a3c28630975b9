package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavstore/internal/core/apperror"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/metadata"
)

func queryType() *metadata.EntityType {
	nameID, priceID, stockID, releasedID := int64(1), int64(2), int64(3), int64(4)
	return &metadata.EntityType{
		ID:   1,
		Code: "product",
		Attributes: []*metadata.Attribute{
			{ID: &nameID, EntityTypeID: 1, Code: "name", Backend: backend.TypeVarchar},
			{ID: &priceID, EntityTypeID: 1, Code: "price", Backend: backend.TypeDecimal},
			{ID: &stockID, EntityTypeID: 1, Code: "stock", Backend: backend.TypeInt},
			{ID: &releasedID, EntityTypeID: 1, Code: "released_at", Backend: backend.TypeDatetime},
		},
	}
}

func newTestBuilder() *Builder {
	return NewBuilder(queryType(), backend.NewSet(nil), nil, nil, nil)
}

func TestBuilder_SQL(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "no predicates",
			build: func() *Builder {
				return newTestBuilder()
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"WHERE e.entity_type_id = $1 AND e.deleted_at IS NULL " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(1)},
		},
		{
			name: "decimal comparison casts the parameter",
			build: func() *Builder {
				return newTestBuilder().Where("price", OpGte, "10")
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_decimal AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL AND v0.value >= $3::numeric " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(2), int64(1), "10"},
		},
		{
			name: "varchar equality",
			build: func() *Builder {
				return newTestBuilder().Where("name", OpEq, "Widget")
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_varchar AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL AND v0.value = $3 " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(1), int64(1), "Widget"},
		},
		{
			name: "like pattern bypasses the storage transform",
			build: func() *Builder {
				return newTestBuilder().Where("name", OpLike, "%bolt%")
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_varchar AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL AND v0.value LIKE $3 " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(1), int64(1), "%bolt%"},
		},
		{
			name: "in list",
			build: func() *Builder {
				return newTestBuilder().Where("stock", OpIn, []any{1, 2, 3})
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_int AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL AND v0.value IN ($3,$4,$5) " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(3), int64(1), int64(1), int64(2), int64(3)},
		},
		{
			name: "between datetime casts both bounds",
			build: func() *Builder {
				return newTestBuilder().Where("released_at", OpBetween,
					[]any{"2024-01-01", "2024-12-31"})
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_datetime AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL " +
				"AND v0.value BETWEEN $3::timestamp AND $4::timestamp " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(4), int64(1), "2024-01-01 00:00:00", "2024-12-31 00:00:00"},
		},
		{
			name: "two predicates join two aliases",
			build: func() *Builder {
				return newTestBuilder().
					Where("name", OpEq, "Widget").
					Where("price", OpLt, "100")
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"JOIN eav_entity_varchar AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 " +
				"JOIN eav_entity_decimal AS v1 ON v1.entity_id = e.id AND v1.attribute_id = $2 " +
				"WHERE e.entity_type_id = $3 AND e.deleted_at IS NULL " +
				"AND v0.value = $4 AND v1.value < $5::numeric " +
				"ORDER BY e.id ASC",
			wantArgs: []any{int64(1), int64(2), int64(1), "Widget", "100"},
		},
		{
			name: "order by attribute uses a left join",
			build: func() *Builder {
				return newTestBuilder().OrderBy("price", Desc).Limit(5).Offset(10)
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"LEFT JOIN eav_entity_decimal AS o0 ON o0.entity_id = e.id AND o0.attribute_id = $1 " +
				"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL " +
				"ORDER BY o0.value DESC, e.id ASC " +
				"LIMIT 5 OFFSET 10",
			wantArgs: []any{int64(2), int64(1)},
		},
		{
			name: "order by entity column",
			build: func() *Builder {
				return newTestBuilder().OrderBy("created_at", Desc)
			},
			wantSQL: "SELECT e.id FROM eav_entity AS e " +
				"WHERE e.entity_type_id = $1 AND e.deleted_at IS NULL " +
				"ORDER BY e.created_at DESC, e.id ASC",
			wantArgs: []any{int64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.build().ToSQL()
			require.NoError(t, err)

			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuilder_CountSQL(t *testing.T) {
	b := newTestBuilder().Where("price", OpGt, "0").OrderBy("price", Asc).Limit(5)

	sql, args, err := b.buildCount().ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) FROM eav_entity AS e "+
		"JOIN eav_entity_decimal AS v0 ON v0.entity_id = e.id AND v0.attribute_id = $1 "+
		"WHERE e.entity_type_id = $2 AND e.deleted_at IS NULL AND v0.value > $3::numeric", sql)
	assert.Equal(t, []any{int64(2), int64(1), "0"}, args)
}

func TestBuilder_ErrorCases(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
	}{
		{
			name: "unknown attribute in predicate",
			build: func() *Builder {
				return newTestBuilder().Where("color", OpEq, "red")
			},
		},
		{
			name: "invalid operand",
			build: func() *Builder {
				return newTestBuilder().Where("price", OpEq, "not a number")
			},
		},
		{
			name: "between needs two operands",
			build: func() *Builder {
				return newTestBuilder().Where("stock", OpBetween, []any{1})
			},
		},
		{
			name: "in needs a list",
			build: func() *Builder {
				return newTestBuilder().Where("stock", OpIn, 5)
			},
		},
		{
			name: "like needs a string",
			build: func() *Builder {
				return newTestBuilder().Where("name", OpLike, 42)
			},
		},
		{
			name: "like on a decimal attribute",
			build: func() *Builder {
				return newTestBuilder().Where("price", OpLike, "19%")
			},
		},
		{
			name: "like on a datetime attribute",
			build: func() *Builder {
				return newTestBuilder().Where("released_at", OpLike, "2024%")
			},
		},
		{
			name: "unknown attribute in ordering",
			build: func() *Builder {
				return newTestBuilder().OrderBy("color", Asc)
			},
		},
		{
			name: "unknown attribute in selection",
			build: func() *Builder {
				return newTestBuilder().Select("color")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.build().ToSQL()
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
		})
	}
}

func TestBuilder_AttributeWithoutIDIsStorageError(t *testing.T) {
	entityType := queryType()
	entityType.Attributes[0].ID = nil

	b := NewBuilder(entityType, backend.NewSet(nil), nil, nil, nil).
		Where("name", OpEq, "Widget")
	_, _, err := b.ToSQL()
	require.Error(t, err)
	assert.True(t, apperror.IsStorage(err))
}

func TestBuilder_FingerprintDistinguishesQueries(t *testing.T) {
	base := newTestBuilder().Where("name", OpEq, "Widget")
	same := newTestBuilder().Where("name", OpEq, "Widget")
	different := newTestBuilder().Where("name", OpEq, "Gadget")

	assert.Equal(t, base.fingerprint("ids"), same.fingerprint("ids"))
	assert.NotEqual(t, base.fingerprint("ids"), different.fingerprint("ids"))
	assert.NotEqual(t, base.fingerprint("ids"), base.fingerprint("count"))

	limited := newTestBuilder().Where("name", OpEq, "Widget").Limit(10)
	assert.NotEqual(t, base.fingerprint("ids"), limited.fingerprint("ids"))
}
