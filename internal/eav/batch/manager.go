// Package batch provides chunked bulk operations with the same validation
// and transaction guarantees as single-entity operations. Each chunk runs in
// its own transaction so a failing chunk never rolls back earlier ones; a
// chunk boundary is a documented partial-failure point.
package batch

import (
	"context"
	"fmt"

	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/entity"
	"eavstore/internal/eav/metadata"
	"eavstore/internal/eav/value"
	"eavstore/pkg/logger"
)

// Options bound batch size and chunking.
type Options struct {
	// MaxSize is the hard cap on rows per batch; exceeding it fails fast
	// before any work is done.
	MaxSize int

	// ChunkSize is the number of rows per transaction.
	ChunkSize int
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{MaxSize: 1000, ChunkSize: 100}
}

func (o Options) normalized() Options {
	defaults := DefaultOptions()
	if o.MaxSize <= 0 {
		o.MaxSize = defaults.MaxSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaults.ChunkSize
	}
	return o
}

// Manager executes bulk operations atop the entity manager.
type Manager struct {
	entities *entity.Manager
	opts     Options
}

// NewManager wires the batch layer.
func NewManager(entities *entity.Manager, opts Options) *Manager {
	return &Manager{entities: entities, opts: opts.normalized()}
}

// BatchCreate creates rows in chunks, one transaction per chunk. A failed
// chunk is skipped, not fatal: ids of every successfully committed row are
// returned regardless of later chunk failures.
func (m *Manager) BatchCreate(ctx context.Context, entityType *metadata.EntityType, rows []map[string]any) ([]id.ID, error) {
	if len(rows) > m.opts.MaxSize {
		return nil, apperror.NewValidation(fmt.Sprintf("batch exceeds maximum of %d rows", m.opts.MaxSize)).
			WithDetail("rows", len(rows))
	}

	var created []id.ID
	for start := 0; start < len(rows); start += m.opts.ChunkSize {
		end := start + m.opts.ChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var chunkIDs []id.ID
		err := m.entities.Tx().RunInTransaction(ctx, func(ctx context.Context) error {
			for _, row := range chunk {
				e, err := m.entities.Create(ctx, entityType, row)
				if err != nil {
					return err
				}
				chunkIDs = append(chunkIDs, e.ID)
			}
			return nil
		})
		if err != nil {
			logger.Warn(ctx, "batch chunk failed, continuing with next chunk",
				"entity_type", entityType.Code, "offset", start, "size", len(chunk), "error", err)
			continue
		}
		created = append(created, chunkIDs...)
	}
	return created, nil
}

// ValueUpdate is one attribute change applied by BatchUpdateValues.
type ValueUpdate struct {
	EntityID id.ID
	Attr     *metadata.Attribute
	Value    any
}

// BatchUpdateValues applies updates grouped by the attributes' backend types
// so each touched value table sees one storage call. The whole set commits
// in a single transaction.
func (m *Manager) BatchUpdateValues(ctx context.Context, updates []ValueUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > m.opts.MaxSize {
		return apperror.NewValidation(fmt.Sprintf("batch exceeds maximum of %d updates", m.opts.MaxSize)).
			WithDetail("updates", len(updates))
	}

	grouped := make([]value.Update, 0, len(updates))
	for _, u := range updates {
		grouped = append(grouped, value.Update{EntityID: u.EntityID, Attr: u.Attr, Value: u.Value})
	}

	err := m.entities.Tx().RunInTransaction(ctx, func(ctx context.Context) error {
		return m.entities.Values().ApplyTyped(ctx, grouped)
	})
	if err != nil {
		return fmt.Errorf("batch update values: %w", err)
	}

	m.invalidateUpdated(ctx, updates)
	return nil
}

// BatchDelete removes entities one by one, counting successes. One id's
// failure does not abort the remaining ids. With soft set, rows are marked
// deleted instead of removed.
func (m *Manager) BatchDelete(ctx context.Context, entityType *metadata.EntityType, entityIDs []id.ID, soft bool) (int, error) {
	deleted := 0
	for _, entityID := range entityIDs {
		e, err := m.entities.Load(ctx, entityType, entityID)
		if err != nil || e == nil {
			if err != nil {
				logger.Warn(ctx, "batch delete: load failed", "id", entityID, "error", err)
			}
			continue
		}
		if soft {
			err = m.entities.SoftDelete(ctx, e)
		} else {
			err = m.entities.Delete(ctx, e)
		}
		if err != nil {
			logger.Warn(ctx, "batch delete: delete failed", "id", entityID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// BatchCopy duplicates entities: each source is loaded fully and recreated
// with the same attribute values, with an optional per-source override map
// applied on top. Identity fields are never copied.
func (m *Manager) BatchCopy(ctx context.Context, entityType *metadata.EntityType, entityIDs []id.ID, overrides map[id.ID]map[string]any) ([]*entity.Entity, error) {
	var copies []*entity.Entity
	for _, entityID := range entityIDs {
		source, err := m.entities.Load(ctx, entityType, entityID)
		if err != nil {
			return copies, fmt.Errorf("load source %s: %w", entityID, err)
		}
		if source == nil {
			continue
		}

		data := source.Values()
		for code, v := range overrides[entityID] {
			data[code] = v
		}

		duplicate, err := m.entities.Create(ctx, entityType, data)
		if err != nil {
			logger.Warn(ctx, "batch copy: create failed", "source", entityID, "error", err)
			continue
		}
		copies = append(copies, duplicate)
	}
	return copies, nil
}

func (m *Manager) invalidateUpdated(ctx context.Context, updates []ValueUpdate) {
	seen := make(map[id.ID]struct{}, len(updates))
	for _, u := range updates {
		if _, ok := seen[u.EntityID]; ok {
			continue
		}
		seen[u.EntityID] = struct{}{}
		if u.Attr != nil {
			m.entities.InvalidateCached(ctx, u.Attr.EntityTypeID, u.EntityID)
		}
	}
}
