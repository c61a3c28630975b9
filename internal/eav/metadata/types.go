// Package metadata keeps attribute and entity-type definitions in sync with
// their persisted rows. It is the schema-of-the-schema: nothing may write a
// value until the attribute describing it has a storage identifier.
package metadata

import (
	"context"
	"encoding/json"
	"time"

	"eavstore/internal/eav/backend"
)

// EntityType identifies a logical entity kind (product, customer, ...).
// Once attributes are synchronized to storage the definition is treated as
// immutable; changes go through Registry.SyncAttributes.
type EntityType struct {
	// ID is assigned by storage on first sync; zero until then.
	ID int64 `json:"id"`

	Code  string `json:"code"`
	Label string `json:"label"`

	// Table is the backing entity table.
	Table string `json:"table"`

	// CacheTTL overrides the default per-entity cache lifetime.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// EnableFlatTable marks the type for flat-table projection (unused by
	// the core engine, carried for configuration compatibility).
	EnableFlatTable bool `json:"enable_flat_table,omitempty"`

	// Attributes in configured order.
	Attributes []*Attribute `json:"attributes"`
}

// AttributeByCode returns the attribute with the given code, or nil.
func (t *EntityType) AttributeByCode(code string) *Attribute {
	for _, attr := range t.Attributes {
		if attr.Code == code {
			return attr
		}
	}
	return nil
}

// Attribute belongs to exactly one EntityType and is persisted into the
// value table of its backend type.
type Attribute struct {
	// ID is the storage-assigned identifier; nil until first persisted.
	// No value referencing this attribute may be written while ID is nil.
	ID *int64 `json:"id,omitempty"`

	EntityTypeID int64  `json:"entity_type_id"`
	Code         string `json:"code"`
	Label        string `json:"label"`

	Backend backend.Type `json:"backend_type"`

	Required   bool `json:"required"`
	Unique     bool `json:"unique"`
	Searchable bool `json:"searchable"`
	Filterable bool `json:"filterable"`

	// Default is applied on create when the caller omits the code.
	Default any `json:"default,omitempty"`

	Rules ValidationRules `json:"validation_rules,omitempty"`

	SortOrder int `json:"sort_order"`
}

// HasID reports whether the attribute has been persisted.
func (a *Attribute) HasID() bool { return a.ID != nil }

// StorageID returns the assigned identifier, or zero if not yet persisted.
func (a *Attribute) StorageID() int64 {
	if a.ID == nil {
		return 0
	}
	return *a.ID
}

// definitionEqual compares the tracked fields of two attribute definitions.
// Identifier and entity-type are excluded: equality decides whether a
// metadata row needs an update.
func definitionEqual(a, b *Attribute) bool {
	if a.Label != b.Label ||
		a.Backend != b.Backend ||
		a.Required != b.Required ||
		a.Unique != b.Unique ||
		a.Searchable != b.Searchable ||
		a.Filterable != b.Filterable ||
		a.SortOrder != b.SortOrder {
		return false
	}
	return jsonEqual(a.Default, b.Default) && jsonEqual(a.Rules, b.Rules)
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// Store persists metadata rows. Implemented by the postgres adapter.
// Read methods return (nil, nil) when the row is absent.
type Store interface {
	// UpsertEntityType inserts or updates the entity-type row and assigns
	// the generated identifier back onto the definition.
	UpsertEntityType(ctx context.Context, entityType *EntityType) error

	// GetEntityTypeByCode loads the persisted type row (without attributes).
	GetEntityTypeByCode(ctx context.Context, code string) (*EntityType, error)

	// InsertAttribute persists a new attribute row and returns its id.
	InsertAttribute(ctx context.Context, attr *Attribute) (int64, error)

	// UpdateAttribute rewrites the tracked fields of an existing row.
	UpdateAttribute(ctx context.Context, attr *Attribute) error

	// ListAttributes returns all rows for a type ordered by sort order.
	ListAttributes(ctx context.Context, entityTypeID int64) ([]*Attribute, error)
}
