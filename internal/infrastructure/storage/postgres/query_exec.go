package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"eavstore/internal/core/id"
	"eavstore/internal/eav/query"
)

// Compile-time check that QueryExecutor implements query.Executor.
var _ query.Executor = (*QueryExecutor)(nil)

// QueryExecutor runs the SQL produced by the query builder.
type QueryExecutor struct {
	txm *TxManager
}

// NewQueryExecutor creates the executor.
func NewQueryExecutor(txm *TxManager) *QueryExecutor {
	return &QueryExecutor{txm: txm}
}

// SelectIDs runs an id-projection query.
func (e *QueryExecutor) SelectIDs(ctx context.Context, sql string, args []any) ([]id.ID, error) {
	var ids []id.ID
	querier := e.txm.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &ids, sql, args...); err != nil {
		return nil, fmt.Errorf("select entity ids: %w", err)
	}
	return ids, nil
}

// SelectCount runs a count-projection query.
func (e *QueryExecutor) SelectCount(ctx context.Context, sql string, args []any) (int64, error) {
	var count int64
	querier := e.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("select count: %w", err)
	}
	return count, nil
}
