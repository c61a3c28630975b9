// Package cache implements the four-tier cache in front of metadata and
// entity reads. Tier failures are swallowed and treated as misses; the cache
// must never fail the underlying data operation.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eavstore/internal/core/id"
)

// Tier is one cache layer. Implementations are free to drop entries at any
// time; callers treat every lookup as advisory.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Has(ctx context.Context, key string) bool
	Clear(ctx context.Context)

	// ClearPrefix removes every entry whose key starts with prefix.
	// Used for per-entity-type query cache invalidation.
	ClearPrefix(ctx context.Context, prefix string)
}

// --- Key builders ---

// KeyEntity is the per-entity payload key.
func KeyEntity(entityTypeID int64, entityID id.ID) string {
	return fmt.Sprintf("e:%d:%s", entityTypeID, entityID)
}

// KeyAttributes is the per-type attribute metadata list key.
func KeyAttributes(entityTypeID int64) string {
	return fmt.Sprintf("attrs:%d", entityTypeID)
}

// KeySearchable is the per-type searchable attribute list key.
func KeySearchable(entityTypeID int64) string {
	return fmt.Sprintf("attrs:%d:searchable", entityTypeID)
}

// KeyFilterable is the per-type filterable attribute list key.
func KeyFilterable(entityTypeID int64) string {
	return fmt.Sprintf("attrs:%d:filterable", entityTypeID)
}

// QueryPrefix is the key namespace holding all cached query results for a type.
func QueryPrefix(entityTypeID int64) string {
	return fmt.Sprintf("q:%d:", entityTypeID)
}

// KeyQuery is a query-result key under the type's query namespace.
func KeyQuery(entityTypeID int64, fingerprint uint64) string {
	return fmt.Sprintf("q:%d:%x", entityTypeID, fingerprint)
}

// --- Payload codec ---

// Marshal serializes a cache payload as JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a cache payload.
// Uses json.Number to preserve numeric precision for decimal attribute
// values; the default decoder would flatten them to float64.
func Unmarshal(payload []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	return decoder.Decode(v)
}
