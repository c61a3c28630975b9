// Package repository is the engine's public surface: code-addressed access
// to entities and attribute metadata without touching the managers directly.
package repository

import (
	"context"
	"fmt"
	"sort"

	"eavstore/internal/cache"
	"eavstore/internal/core/apperror"
	"eavstore/internal/core/id"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/batch"
	"eavstore/internal/eav/entity"
	"eavstore/internal/eav/metadata"
	"eavstore/internal/eav/query"
)

// Entities exposes entity operations keyed by entity-type code.
type Entities struct {
	types    map[string]*metadata.EntityType
	entities *entity.Manager
	batches  *batch.Manager
	exec     query.Executor
	cache    *cache.Manager
}

// NewEntities builds the façade over the configured entity types.
func NewEntities(types []*metadata.EntityType, entities *entity.Manager, batches *batch.Manager, exec query.Executor, cacheManager *cache.Manager) *Entities {
	byCode := make(map[string]*metadata.EntityType, len(types))
	for _, t := range types {
		byCode[t.Code] = t
	}
	return &Entities{
		types:    byCode,
		entities: entities,
		batches:  batches,
		exec:     exec,
		cache:    cacheManager,
	}
}

// Type resolves a configured entity type by code.
func (r *Entities) Type(code string) (*metadata.EntityType, error) {
	t, ok := r.types[code]
	if !ok {
		return nil, apperror.NewConfiguration("unknown entity type").WithDetail("entity_type", code)
	}
	return t, nil
}

// Find loads one entity. Returns (nil, nil) when no such entity exists.
func (r *Entities) Find(ctx context.Context, typeCode string, entityID id.ID) (*entity.Entity, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}
	return r.entities.Load(ctx, t, entityID)
}

// FindMany batch-loads entities; missing ids are omitted.
func (r *Entities) FindMany(ctx context.Context, typeCode string, entityIDs []id.ID) ([]*entity.Entity, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}
	return r.entities.LoadMultiple(ctx, t, entityIDs)
}

// Create validates and persists a new entity from a value map.
func (r *Entities) Create(ctx context.Context, typeCode string, values map[string]any) (*entity.Entity, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}
	return r.entities.Create(ctx, t, values)
}

// Update loads the entity, applies the value map and saves. Returns
// (nil, nil) when the entity does not exist.
func (r *Entities) Update(ctx context.Context, typeCode string, entityID id.ID, values map[string]any) (*entity.Entity, error) {
	e, err := r.Find(ctx, typeCode, entityID)
	if err != nil || e == nil {
		return nil, err
	}
	e.SetAll(values)
	if err := r.entities.Save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Save persists a dirty entity previously obtained from this façade.
func (r *Entities) Save(ctx context.Context, e *entity.Entity) error {
	return r.entities.Save(ctx, e)
}

// Delete removes the entity and all its values. Deleting a missing entity is
// a no-op.
func (r *Entities) Delete(ctx context.Context, typeCode string, entityID id.ID) error {
	e, err := r.Find(ctx, typeCode, entityID)
	if err != nil || e == nil {
		return err
	}
	return r.entities.Delete(ctx, e)
}

// SoftDelete marks the entity deleted without removing its rows.
func (r *Entities) SoftDelete(ctx context.Context, typeCode string, entityID id.ID) error {
	e, err := r.Find(ctx, typeCode, entityID)
	if err != nil || e == nil {
		return err
	}
	return r.entities.SoftDelete(ctx, e)
}

// Query starts a builder over the type's value tables.
func (r *Entities) Query(typeCode string) (*query.Builder, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}
	return query.NewBuilder(t, r.entities.Values().Strategies(), r.entities, r.exec, r.cache), nil
}

// Search filters by equality over searchable attributes. Every criteria code
// must name a searchable attribute of the type; predicates are applied in
// code order so equal criteria maps share one cached result.
func (r *Entities) Search(ctx context.Context, typeCode string, criteria map[string]any) ([]*entity.Entity, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(criteria))
	for code := range criteria {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	b := query.NewBuilder(t, r.entities.Values().Strategies(), r.entities, r.exec, r.cache)
	for _, code := range codes {
		attr := t.AttributeByCode(code)
		if attr == nil || !attr.Searchable {
			return nil, apperror.NewValidation("criteria must name searchable attributes").
				WithDetail("entity_type", typeCode).WithDetail("attribute", code)
		}
		b = b.Where(code, query.OpEq, criteria[code])
	}
	return b.Get(ctx)
}

// SearchTerm matches a term against every searchable text-bearing attribute
// of the type and returns the union, deduplicated in first-match order.
func (r *Entities) SearchTerm(ctx context.Context, typeCode, term string, limit uint64) ([]*entity.Entity, error) {
	t, err := r.Type(typeCode)
	if err != nil {
		return nil, err
	}

	pattern := "%" + term + "%"
	seen := make(map[id.ID]struct{})
	var results []*entity.Entity

	for _, attr := range t.Attributes {
		if !attr.Searchable {
			continue
		}
		if attr.Backend != backend.TypeVarchar && attr.Backend != backend.TypeText {
			continue
		}

		b := query.NewBuilder(t, r.entities.Values().Strategies(), r.entities, r.exec, r.cache).
			Where(attr.Code, query.OpLike, pattern)
		if limit > 0 {
			b = b.Limit(limit)
		}
		matches, err := b.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("search %s.%s: %w", typeCode, attr.Code, err)
		}
		for _, e := range matches {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			results = append(results, e)
			if limit > 0 && uint64(len(results)) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// Page is one slice of a paginated result set.
type Page struct {
	Items   []*entity.Entity
	Total   int64
	Page    uint64
	PerPage uint64
	Pages   uint64
}

// Paginate pages through all entities of a type in id order.
func (r *Entities) Paginate(ctx context.Context, typeCode string, page, perPage uint64) (*Page, error) {
	b, err := r.Query(typeCode)
	if err != nil {
		return nil, err
	}
	return r.PaginateQuery(ctx, b, page, perPage)
}

// PaginateQuery runs the builder with page-derived limit and offset and a
// total count over the same predicate graph.
func (r *Entities) PaginateQuery(ctx context.Context, b *query.Builder, page, perPage uint64) (*Page, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = 25
	}

	total, err := b.Count(ctx)
	if err != nil {
		return nil, err
	}
	items, err := b.Limit(perPage).Offset((page - 1) * perPage).Get(ctx)
	if err != nil {
		return nil, err
	}

	pages := uint64(total) / perPage
	if uint64(total)%perPage != 0 {
		pages++
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage, Pages: pages}, nil
}

// Batches exposes the chunked bulk operations.
func (r *Entities) Batches() *batch.Manager { return r.batches }
