package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/metadata"
)

const (
	entityTypeTable = "eav_entity_type"
	attributeTable  = "eav_attribute"
)

// Compile-time check that MetadataRepo implements metadata.Store.
var _ metadata.Store = (*MetadataRepo)(nil)

// MetadataRepo persists entity-type and attribute definitions.
type MetadataRepo struct {
	txm *TxManager
}

// NewMetadataRepo creates the metadata store.
func NewMetadataRepo(txm *TxManager) *MetadataRepo {
	return &MetadataRepo{txm: txm}
}

func (r *MetadataRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// UpsertEntityType inserts or updates the type row by code and writes the
// generated identifier back onto the definition.
func (r *MetadataRepo) UpsertEntityType(ctx context.Context, entityType *metadata.EntityType) error {
	sql, args, err := r.builder().
		Insert(entityTypeTable).
		Columns("code", "label", "entity_table").
		Values(entityType.Code, entityType.Label, entityType.Table).
		Suffix(`ON CONFLICT (code) DO UPDATE
			SET label = EXCLUDED.label, entity_table = EXCLUDED.entity_table, updated_at = now()
			RETURNING id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&entityType.ID); err != nil {
		return fmt.Errorf("upsert entity type %s: %w", entityType.Code, err)
	}
	return nil
}

// GetEntityTypeByCode loads the persisted type row without its attributes.
// Returns (nil, nil) when no row exists.
func (r *MetadataRepo) GetEntityTypeByCode(ctx context.Context, code string) (*metadata.EntityType, error) {
	sql, args, err := r.builder().
		Select("id", "code", "label", "entity_table").
		From(entityTypeTable).
		Where(squirrel.Eq{"code": code}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	entityType := &metadata.EntityType{}
	querier := r.txm.GetQuerier(ctx)
	err = querier.QueryRow(ctx, sql, args...).
		Scan(&entityType.ID, &entityType.Code, &entityType.Label, &entityType.Table)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity type %s: %w", code, err)
	}
	return entityType, nil
}

// InsertAttribute persists a new attribute row and returns its generated id.
func (r *MetadataRepo) InsertAttribute(ctx context.Context, attr *metadata.Attribute) (int64, error) {
	defaultJSON, rulesJSON, err := encodeAttributeJSON(attr)
	if err != nil {
		return 0, err
	}

	sql, args, err := r.builder().
		Insert(attributeTable).
		Columns("entity_type_id", "code", "label", "backend_type",
			"is_required", "is_unique", "is_searchable", "is_filterable",
			"default_value", "validation_rules", "sort_order").
		Values(attr.EntityTypeID, attr.Code, attr.Label, string(attr.Backend),
			attr.Required, attr.Unique, attr.Searchable, attr.Filterable,
			defaultJSON, rulesJSON, attr.SortOrder).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var attrID int64
	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&attrID); err != nil {
		return 0, fmt.Errorf("insert attribute %s: %w", attr.Code, err)
	}
	return attrID, nil
}

// UpdateAttribute rewrites the tracked fields of an existing row.
func (r *MetadataRepo) UpdateAttribute(ctx context.Context, attr *metadata.Attribute) error {
	defaultJSON, rulesJSON, err := encodeAttributeJSON(attr)
	if err != nil {
		return err
	}

	sql, args, err := r.builder().
		Update(attributeTable).
		Set("label", attr.Label).
		Set("backend_type", string(attr.Backend)).
		Set("is_required", attr.Required).
		Set("is_unique", attr.Unique).
		Set("is_searchable", attr.Searchable).
		Set("is_filterable", attr.Filterable).
		Set("default_value", defaultJSON).
		Set("validation_rules", rulesJSON).
		Set("sort_order", attr.SortOrder).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": attr.StorageID()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update attribute %s: %w", attr.Code, err)
	}
	return nil
}

// attributeRow mirrors the eav_attribute columns.
type attributeRow struct {
	ID           int64  `db:"id"`
	EntityTypeID int64  `db:"entity_type_id"`
	Code         string `db:"code"`
	Label        string `db:"label"`
	BackendType  string `db:"backend_type"`
	IsRequired   bool   `db:"is_required"`
	IsUnique     bool   `db:"is_unique"`
	IsSearchable bool   `db:"is_searchable"`
	IsFilterable bool   `db:"is_filterable"`
	DefaultValue []byte `db:"default_value"`
	Rules        []byte `db:"validation_rules"`
	SortOrder    int    `db:"sort_order"`
}

// ListAttributes returns all rows for a type ordered by sort order.
func (r *MetadataRepo) ListAttributes(ctx context.Context, entityTypeID int64) ([]*metadata.Attribute, error) {
	sql, args, err := r.builder().
		Select("id", "entity_type_id", "code", "label", "backend_type",
			"is_required", "is_unique", "is_searchable", "is_filterable",
			"default_value", "validation_rules", "sort_order").
		From(attributeTable).
		Where(squirrel.Eq{"entity_type_id": entityTypeID}).
		OrderBy("sort_order ASC", "code ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []*attributeRow
	querier := r.txm.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}

	attrs := make([]*metadata.Attribute, 0, len(rows))
	for _, row := range rows {
		attr, err := row.toAttribute()
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func (row *attributeRow) toAttribute() (*metadata.Attribute, error) {
	attrID := row.ID
	attr := &metadata.Attribute{
		ID:           &attrID,
		EntityTypeID: row.EntityTypeID,
		Code:         row.Code,
		Label:        row.Label,
		Backend:      backend.Type(row.BackendType),
		Required:     row.IsRequired,
		Unique:       row.IsUnique,
		Searchable:   row.IsSearchable,
		Filterable:   row.IsFilterable,
		SortOrder:    row.SortOrder,
	}
	if len(row.DefaultValue) > 0 {
		if err := decodeJSON(row.DefaultValue, &attr.Default); err != nil {
			return nil, fmt.Errorf("decode default for %s: %w", row.Code, err)
		}
	}
	if len(row.Rules) > 0 {
		if err := decodeJSON(row.Rules, &attr.Rules); err != nil {
			return nil, fmt.Errorf("decode rules for %s: %w", row.Code, err)
		}
	}
	return attr, nil
}

func encodeAttributeJSON(attr *metadata.Attribute) ([]byte, []byte, error) {
	defaultJSON, err := json.Marshal(attr.Default)
	if err != nil {
		return nil, nil, fmt.Errorf("encode default for %s: %w", attr.Code, err)
	}
	rulesJSON, err := json.Marshal(attr.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rules for %s: %w", attr.Code, err)
	}
	return defaultJSON, rulesJSON, nil
}

// decodeJSON preserves numeric precision of decimal defaults.
func decodeJSON(payload []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	return decoder.Decode(v)
}
