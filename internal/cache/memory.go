package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryTier is a process-local in-memory tier (L2, and the default L4
// driver). Expired entries are dropped lazily on access.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryTier creates an empty memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[string]memoryEntry)}
}

func (t *MemoryTier) Get(ctx context.Context, key string) ([]byte, bool) {
	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		t.Delete(ctx, key)
		return nil, false
	}
	return entry.payload, true
}

func (t *MemoryTier) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	now := time.Now()
	entry := memoryEntry{payload: payload, createdAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	t.mu.Lock()
	t.entries[key] = entry
	t.mu.Unlock()
}

func (t *MemoryTier) Delete(ctx context.Context, key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

func (t *MemoryTier) Has(ctx context.Context, key string) bool {
	_, ok := t.Get(ctx, key)
	return ok
}

func (t *MemoryTier) Clear(ctx context.Context) {
	t.mu.Lock()
	t.entries = make(map[string]memoryEntry)
	t.mu.Unlock()
}

func (t *MemoryTier) ClearPrefix(ctx context.Context, prefix string) {
	t.mu.Lock()
	for key := range t.entries {
		if strings.HasPrefix(key, prefix) {
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}

// Len returns the number of live entries (including not-yet-swept expired ones).
func (t *MemoryTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
