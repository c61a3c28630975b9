package postgres

import (
	"context"
	"fmt"

	"eavstore/internal/eav/backend"
	"eavstore/pkg/logger"
)

// valueColumnTypes maps each backend type to its value column definition.
var valueColumnTypes = map[backend.Type]string{
	backend.TypeVarchar:  "VARCHAR(255)",
	backend.TypeInt:      "BIGINT",
	backend.TypeDecimal:  "NUMERIC(15,4)",
	backend.TypeText:     "TEXT",
	backend.TypeDatetime: "TIMESTAMP",
}

// Migrate creates the metadata, entity and value tables if they do not
// exist. Idempotent; safe to run on every start.
func Migrate(ctx context.Context, txm *TxManager, entityTable string, tables backend.TableNames) error {
	if entityTable == "" {
		entityTable = "eav_entity"
	}
	layout := backend.DefaultTableNames()
	for t, name := range tables {
		if name != "" {
			layout[t] = name
		}
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS eav_entity_type (
			id BIGSERIAL PRIMARY KEY,
			code VARCHAR(255) NOT NULL UNIQUE,
			label VARCHAR(255) NOT NULL DEFAULT '',
			entity_table VARCHAR(255) NOT NULL DEFAULT 'eav_entity',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS eav_attribute (
			id BIGSERIAL PRIMARY KEY,
			entity_type_id BIGINT NOT NULL REFERENCES eav_entity_type(id) ON DELETE CASCADE,
			code VARCHAR(255) NOT NULL,
			label VARCHAR(255) NOT NULL DEFAULT '',
			backend_type VARCHAR(32) NOT NULL,
			is_required BOOLEAN NOT NULL DEFAULT FALSE,
			is_unique BOOLEAN NOT NULL DEFAULT FALSE,
			is_searchable BOOLEAN NOT NULL DEFAULT FALSE,
			is_filterable BOOLEAN NOT NULL DEFAULT FALSE,
			default_value JSONB,
			validation_rules JSONB,
			sort_order INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (entity_type_id, code)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			entity_type_id BIGINT NOT NULL REFERENCES eav_entity_type(id),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`, entityTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_type_live ON %s (entity_type_id) WHERE deleted_at IS NULL`,
			entityTable, entityTable),
	}

	for _, backendType := range backend.Types() {
		table := layout[backendType]
		statements = append(statements, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			attribute_id BIGINT NOT NULL REFERENCES eav_attribute(id) ON DELETE CASCADE,
			value %s,
			PRIMARY KEY (entity_id, attribute_id)
		)`, table, entityTable, valueColumnTypes[backendType]))

		// Text payloads are too large for a btree on the value column.
		if backendType == backend.TypeText {
			statements = append(statements, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS idx_%s_attr ON %s (attribute_id)`, table, table))
			continue
		}
		statements = append(statements, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_attr_value ON %s (attribute_id, value)`, table, table))
	}

	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		querier := txm.GetQuerier(ctx)
		for _, statement := range statements {
			if _, err := querier.Exec(ctx, statement); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		logger.Info(ctx, "schema migrated", "entity_table", entityTable)
		return nil
	})
}
