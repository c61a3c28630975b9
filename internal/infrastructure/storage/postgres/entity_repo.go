package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"eavstore/internal/core/id"
	"eavstore/internal/eav/entity"
)

// Compile-time check that EntityRepo implements entity.Store.
var _ entity.Store = (*EntityRepo)(nil)

// EntityRepo persists the identity rows of the entity table. Soft-deleted
// rows are invisible to every read.
type EntityRepo struct {
	txm   *TxManager
	table string
}

// NewEntityRepo creates the entity store over the given table.
func NewEntityRepo(txm *TxManager, table string) *EntityRepo {
	if table == "" {
		table = "eav_entity"
	}
	return &EntityRepo{txm: txm, table: table}
}

func (r *EntityRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// InsertRow writes a new entity row.
func (r *EntityRepo) InsertRow(ctx context.Context, row *entity.Row) error {
	sql, args, err := r.builder().
		Insert(r.table).
		Columns("id", "entity_type_id", "created_at", "updated_at").
		Values(row.ID, row.EntityTypeID, row.CreatedAt, row.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert entity row: %w", err)
	}
	return nil
}

// GetRow loads one live entity row. Returns (nil, nil) when absent.
func (r *EntityRepo) GetRow(ctx context.Context, entityTypeID int64, entityID id.ID) (*entity.Row, error) {
	sql, args, err := r.builder().
		Select("id", "entity_type_id", "created_at", "updated_at", "deleted_at").
		From(r.table).
		Where(squirrel.Eq{"id": entityID, "entity_type_id": entityTypeID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	row := &entity.Row{}
	querier := r.txm.GetQuerier(ctx)
	err = pgxscan.Get(ctx, querier, row, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity row: %w", err)
	}
	return row, nil
}

// GetRows loads the live rows among the given ids, in storage order.
func (r *EntityRepo) GetRows(ctx context.Context, entityTypeID int64, entityIDs []id.ID) ([]*entity.Row, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	sql, args, err := r.builder().
		Select("id", "entity_type_id", "created_at", "updated_at", "deleted_at").
		From(r.table).
		Where(squirrel.Eq{"id": entityIDs, "entity_type_id": entityTypeID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []*entity.Row
	querier := r.txm.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("get entity rows: %w", err)
	}
	return rows, nil
}

// TouchRow advances the row's updated_at timestamp.
func (r *EntityRepo) TouchRow(ctx context.Context, entityID id.ID, updatedAt time.Time) error {
	sql, args, err := r.builder().
		Update(r.table).
		Set("updated_at", updatedAt).
		Where(squirrel.Eq{"id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("touch entity row: %w", err)
	}
	return nil
}

// DeleteRow removes the entity row. Value rows follow via ON DELETE CASCADE;
// the value manager still deletes them explicitly so the order of operations
// does not depend on schema details.
func (r *EntityRepo) DeleteRow(ctx context.Context, entityID id.ID) error {
	sql, args, err := r.builder().
		Delete(r.table).
		Where(squirrel.Eq{"id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete entity row: %w", err)
	}
	return nil
}

// SoftDeleteRow stamps deleted_at, hiding the row from reads while keeping
// its data.
func (r *EntityRepo) SoftDeleteRow(ctx context.Context, entityID id.ID, deletedAt time.Time) error {
	sql, args, err := r.builder().
		Update(r.table).
		Set("deleted_at", deletedAt).
		Where(squirrel.Eq{"id": entityID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("soft delete entity row: %w", err)
	}
	return nil
}
