// Package entity owns the entity lifecycle: transient, persisted, deleted.
// Entities are created through the Manager, mutated by the caller via Set,
// and written only on Save/Create; there are no implicit writes.
package entity

import (
	"time"

	"eavstore/internal/core/id"
	"eavstore/internal/eav/metadata"
)

// Entity is one logical record: an identifier, its type, the in-memory
// attribute values, and the set of codes dirtied since load.
type Entity struct {
	ID   id.ID
	Type *metadata.EntityType

	CreatedAt time.Time
	UpdatedAt time.Time

	values  map[string]any
	dirty   map[string]struct{}
	deleted bool
}

// newTransient builds an unsaved entity holding the given values.
func newTransient(entityType *metadata.EntityType, values map[string]any) *Entity {
	e := &Entity{
		Type:   entityType,
		values: make(map[string]any, len(values)),
		dirty:  make(map[string]struct{}, len(values)),
	}
	for code, v := range values {
		e.values[code] = v
		e.dirty[code] = struct{}{}
	}
	return e
}

// IsPersisted reports whether the entity has a storage identifier.
func (e *Entity) IsPersisted() bool { return !id.IsNil(e.ID) && !e.deleted }

// IsDeleted reports whether the entity reached its terminal state.
func (e *Entity) IsDeleted() bool { return e.deleted }

// Get returns the current in-memory value for an attribute code.
func (e *Entity) Get(code string) (any, bool) {
	v, ok := e.values[code]
	return v, ok
}

// Set updates an in-memory value and marks the code dirty.
func (e *Entity) Set(code string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if e.dirty == nil {
		e.dirty = make(map[string]struct{})
	}
	e.values[code] = value
	e.dirty[code] = struct{}{}
}

// SetAll applies a value map, dirtying each code.
func (e *Entity) SetAll(values map[string]any) {
	for code, v := range values {
		e.Set(code, v)
	}
}

// Values returns a copy of the current value map.
func (e *Entity) Values() map[string]any {
	out := make(map[string]any, len(e.values))
	for code, v := range e.values {
		out[code] = v
	}
	return out
}

// DirtyValues returns only the values modified since load.
func (e *Entity) DirtyValues() map[string]any {
	out := make(map[string]any, len(e.dirty))
	for code := range e.dirty {
		out[code] = e.values[code]
	}
	return out
}

// IsDirty reports whether any value changed since load.
func (e *Entity) IsDirty() bool { return len(e.dirty) > 0 }

// clearDirty resets tracking; a freshly loaded or saved entity is clean.
func (e *Entity) clearDirty() {
	e.dirty = make(map[string]struct{})
}

// markDeleted moves the entity to its terminal state.
func (e *Entity) markDeleted() {
	e.deleted = true
}
