package repository

import (
	"context"

	"eavstore/internal/cache"
	"eavstore/internal/eav/metadata"
)

// Attributes serves attribute metadata lookups. The searchable and
// filterable projections are cached separately so hot read paths skip the
// filter pass.
type Attributes struct {
	registry *metadata.Registry
	cache    *cache.Manager
}

// NewAttributes builds the façade over a registry.
func NewAttributes(registry *metadata.Registry, cacheManager *cache.Manager) *Attributes {
	return &Attributes{registry: registry, cache: cacheManager}
}

// FindByCode resolves one attribute. Returns (nil, nil) when the type has no
// such attribute.
func (r *Attributes) FindByCode(ctx context.Context, entityTypeID int64, code string) (*metadata.Attribute, error) {
	attrs, err := r.registry.LoadAttributes(ctx, entityTypeID)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		if attr.Code == code {
			return attr, nil
		}
	}
	return nil, nil
}

// List returns every attribute of the type in sort order.
func (r *Attributes) List(ctx context.Context, entityTypeID int64) ([]*metadata.Attribute, error) {
	return r.registry.LoadAttributes(ctx, entityTypeID)
}

// Searchable returns the type's searchable attributes.
func (r *Attributes) Searchable(ctx context.Context, entityTypeID int64) ([]*metadata.Attribute, error) {
	return r.filtered(ctx, entityTypeID, cache.KeySearchable(entityTypeID), func(a *metadata.Attribute) bool {
		return a.Searchable
	})
}

// Filterable returns the type's filterable attributes.
func (r *Attributes) Filterable(ctx context.Context, entityTypeID int64) ([]*metadata.Attribute, error) {
	return r.filtered(ctx, entityTypeID, cache.KeyFilterable(entityTypeID), func(a *metadata.Attribute) bool {
		return a.Filterable
	})
}

func (r *Attributes) filtered(ctx context.Context, entityTypeID int64, key string, keep func(*metadata.Attribute) bool) ([]*metadata.Attribute, error) {
	if payload, ok := r.cache.Get(ctx, key); ok {
		var attrs []*metadata.Attribute
		if err := cache.Unmarshal(payload, &attrs); err == nil {
			return attrs, nil
		}
		r.cache.Delete(ctx, key)
	}

	all, err := r.registry.LoadAttributes(ctx, entityTypeID)
	if err != nil {
		return nil, err
	}
	var attrs []*metadata.Attribute
	for _, attr := range all {
		if keep(attr) {
			attrs = append(attrs, attr)
		}
	}

	if payload, err := cache.Marshal(attrs); err == nil {
		r.cache.Set(ctx, key, payload, 0)
	}
	return attrs, nil
}
