package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/value"
)

// Compile-time check that ValueRepo implements value.Store.
var _ value.Store = (*ValueRepo)(nil)

// ValueRepo persists attribute values across the per-backend-type tables.
// Decimal and datetime values travel as canonical strings and are cast at
// the SQL boundary, so the columns keep their native types.
type ValueRepo struct {
	txm        *TxManager
	strategies *backend.Set
}

// NewValueRepo creates the value store.
func NewValueRepo(txm *TxManager, strategies *backend.Set) *ValueRepo {
	return &ValueRepo{txm: txm, strategies: strategies}
}

func (r *ValueRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// valueColumn renders the value column so every backend type scans into the
// representation its strategy decodes: numerics as text with full scale,
// timestamps as the canonical second-resolution string.
func valueColumn(t backend.Type) string {
	switch t {
	case backend.TypeDecimal:
		return "value::text AS value"
	case backend.TypeDatetime:
		return "to_char(value, 'YYYY-MM-DD HH24:MI:SS') AS value"
	default:
		return "value"
	}
}

// paramCast converts a bound canonical string back into the column's type.
func paramCast(t backend.Type) string {
	switch t {
	case backend.TypeDecimal:
		return "::numeric"
	case backend.TypeDatetime:
		return "::timestamp"
	default:
		return ""
	}
}

// LoadRows fetches the rows of one backend-type table for the given
// entities and attributes.
func (r *ValueRepo) LoadRows(ctx context.Context, backendType backend.Type, entityIDs []id.ID, attributeIDs []int64) ([]value.Row, error) {
	if len(entityIDs) == 0 || len(attributeIDs) == 0 {
		return nil, nil
	}
	table, err := r.strategies.TableFor(backendType)
	if err != nil {
		return nil, err
	}

	sql, args, err := r.builder().
		Select("entity_id", "attribute_id", valueColumn(backendType)).
		From(table).
		Where(squirrel.Eq{"entity_id": entityIDs, "attribute_id": attributeIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	pgxRows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer pgxRows.Close()

	var rows []value.Row
	for pgxRows.Next() {
		var row value.Row
		if err := pgxRows.Scan(&row.EntityID, &row.AttributeID, &row.Value); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		rows = append(rows, row)
	}
	if err := pgxRows.Err(); err != nil {
		return nil, fmt.Errorf("read %s rows: %w", table, err)
	}
	return rows, nil
}

// UpsertMany writes rows across the value tables in one batched round trip.
func (r *ValueRepo) UpsertMany(ctx context.Context, rows map[backend.Type][]value.Row) error {
	pgxBatch := &pgx.Batch{}
	queued := 0

	for backendType, typeRows := range rows {
		table, err := r.strategies.TableFor(backendType)
		if err != nil {
			return err
		}
		statement := fmt.Sprintf(
			`INSERT INTO %s (entity_id, attribute_id, value) VALUES ($1, $2, $3%s)
			ON CONFLICT (entity_id, attribute_id) DO UPDATE SET value = EXCLUDED.value`,
			table, paramCast(backendType))
		for _, row := range typeRows {
			pgxBatch.Queue(statement, row.EntityID, row.AttributeID, row.Value)
			queued++
		}
	}
	if queued == 0 {
		return nil
	}

	querier := r.txm.GetQuerier(ctx)
	results := querier.SendBatch(ctx, pgxBatch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert value row: %w", err)
		}
	}
	return nil
}

// DeleteEntityRows removes every row of one entity from one table.
func (r *ValueRepo) DeleteEntityRows(ctx context.Context, backendType backend.Type, entityID id.ID) error {
	table, err := r.strategies.TableFor(backendType)
	if err != nil {
		return err
	}
	sql, args, err := r.builder().
		Delete(table).
		Where(squirrel.Eq{"entity_id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete %s rows: %w", table, err)
	}
	return nil
}

// FindEntityIDs returns entities holding the given storage value for an
// attribute. Used by uniqueness validation.
func (r *ValueRepo) FindEntityIDs(ctx context.Context, backendType backend.Type, attributeID int64, storageValue any) ([]id.ID, error) {
	table, err := r.strategies.TableFor(backendType)
	if err != nil {
		return nil, err
	}

	sql, args, err := r.builder().
		Select("entity_id").
		From(table).
		Where(squirrel.Eq{"attribute_id": attributeID}).
		Where(squirrel.Expr(fmt.Sprintf("value = ?%s", paramCast(backendType)), storageValue)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	pgxRows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer pgxRows.Close()

	var ids []id.ID
	for pgxRows.Next() {
		var entityID id.ID
		if err := pgxRows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, entityID)
	}
	if err := pgxRows.Err(); err != nil {
		return nil, fmt.Errorf("read entity ids: %w", err)
	}
	return ids, nil
}
