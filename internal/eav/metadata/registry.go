package metadata

import (
	"context"
	"fmt"
	"sync"

	"eavstore/internal/cache"
	"eavstore/internal/core/apperror"
	"eavstore/pkg/logger"
)

// Registry keeps configured attribute definitions in sync with their
// persisted metadata rows and serves attribute lookups. It is constructed
// explicitly at the composition root and injected; there is no process-global
// instance.
type Registry struct {
	store Store
	cache *cache.Manager

	mu    sync.RWMutex
	attrs map[int64][]*Attribute // entityTypeID -> rows, memoized for the registry's lifetime
}

// NewRegistry creates a registry over a metadata store.
// cacheManager may be nil for uncached operation.
func NewRegistry(store Store, cacheManager *cache.Manager) *Registry {
	return &Registry{
		store: store,
		cache: cacheManager,
		attrs: make(map[int64][]*Attribute),
	}
}

// SyncEntityType inserts or updates the entity-type row and assigns the
// generated identifier back onto the definition.
func (r *Registry) SyncEntityType(ctx context.Context, entityType *EntityType) error {
	if entityType.Code == "" {
		return apperror.NewConfiguration("entity type has no code")
	}
	if err := r.store.UpsertEntityType(ctx, entityType); err != nil {
		return fmt.Errorf("sync entity type %s: %w", entityType.Code, err)
	}
	for _, attr := range entityType.Attributes {
		attr.EntityTypeID = entityType.ID
	}
	return nil
}

// SyncAttributes reconciles the configured attributes of an entity type with
// the persisted metadata rows. New attributes are inserted and receive their
// storage identifier; existing ones are updated when any tracked field
// differs. The type's attribute-list cache entries are invalidated afterwards.
func (r *Registry) SyncAttributes(ctx context.Context, entityType *EntityType) error {
	if entityType.ID == 0 {
		return apperror.NewConfiguration("entity type has no identifier; sync the type before its attributes").
			WithDetail("entity_type", entityType.Code)
	}

	existing, err := r.store.ListAttributes(ctx, entityType.ID)
	if err != nil {
		return fmt.Errorf("load attributes for %s: %w", entityType.Code, err)
	}
	byCode := make(map[string]*Attribute, len(existing))
	for _, attr := range existing {
		byCode[attr.Code] = attr
	}

	inserted, updated := 0, 0
	for _, attr := range entityType.Attributes {
		attr.EntityTypeID = entityType.ID
		if err := attr.Rules.Compile(); err != nil {
			return apperror.NewConfiguration("invalid validation rules").
				WithDetail("attribute", attr.Code).WithCause(err)
		}

		current, ok := byCode[attr.Code]
		if !ok {
			attrID, err := r.store.InsertAttribute(ctx, attr)
			if err != nil {
				return fmt.Errorf("insert attribute %s.%s: %w", entityType.Code, attr.Code, err)
			}
			attr.ID = &attrID
			inserted++
			continue
		}

		attr.ID = current.ID
		if !definitionEqual(attr, current) {
			if err := r.store.UpdateAttribute(ctx, attr); err != nil {
				return fmt.Errorf("update attribute %s.%s: %w", entityType.Code, attr.Code, err)
			}
			updated++
		}
	}

	r.mu.Lock()
	delete(r.attrs, entityType.ID)
	r.mu.Unlock()
	r.cache.InvalidateType(ctx, entityType.ID)

	logger.Debug(ctx, "attributes synchronized",
		"entity_type", entityType.Code, "inserted", inserted, "updated", updated)
	return nil
}

// LoadAttributes returns all attribute metadata rows for a type, ordered by
// sort order. Results are memoized for the registry's lifetime and shared
// through the cache tiers.
func (r *Registry) LoadAttributes(ctx context.Context, entityTypeID int64) ([]*Attribute, error) {
	r.mu.RLock()
	memoized, ok := r.attrs[entityTypeID]
	r.mu.RUnlock()
	if ok {
		return memoized, nil
	}

	key := cache.KeyAttributes(entityTypeID)
	if payload, hit := r.cache.Get(ctx, key); hit {
		var attrs []*Attribute
		if err := cache.Unmarshal(payload, &attrs); err == nil {
			if err := compileAll(attrs); err == nil {
				r.memoize(entityTypeID, attrs)
				return attrs, nil
			}
		}
		// Undecodable payload: fall through to storage.
		r.cache.Delete(ctx, key)
	}

	attrs, err := r.store.ListAttributes(ctx, entityTypeID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	if err := compileAll(attrs); err != nil {
		return nil, apperror.NewConfiguration("stored validation rules do not compile").WithCause(err)
	}

	if payload, err := cache.Marshal(attrs); err == nil {
		r.cache.Set(ctx, key, payload, 0)
	}
	r.memoize(entityTypeID, attrs)
	return attrs, nil
}

// AttributeID resolves an attribute code to its storage identifier.
// The second return is false when the type has no such attribute.
func (r *Registry) AttributeID(ctx context.Context, entityTypeID int64, code string) (int64, bool, error) {
	attrs, err := r.LoadAttributes(ctx, entityTypeID)
	if err != nil {
		return 0, false, err
	}
	for _, attr := range attrs {
		if attr.Code == code && attr.HasID() {
			return *attr.ID, true, nil
		}
	}
	return 0, false, nil
}

// Invalidate drops the memoized and cached attribute lists for a type.
func (r *Registry) Invalidate(ctx context.Context, entityTypeID int64) {
	r.mu.Lock()
	delete(r.attrs, entityTypeID)
	r.mu.Unlock()
	r.cache.InvalidateType(ctx, entityTypeID)
}

func (r *Registry) memoize(entityTypeID int64, attrs []*Attribute) {
	r.mu.Lock()
	r.attrs[entityTypeID] = attrs
	r.mu.Unlock()
}

func compileAll(attrs []*Attribute) error {
	for _, attr := range attrs {
		if err := attr.Rules.Compile(); err != nil {
			return fmt.Errorf("attribute %s: %w", attr.Code, err)
		}
	}
	return nil
}
