package cache

import (
	"context"
	"time"

	"eavstore/internal/core/id"
)

// Options configures the tier stack. Each tier can be disabled
// independently; a disabled tier is transparent to the chain.
type Options struct {
	Enabled    bool
	DefaultTTL time.Duration
	Prefix     string

	L1Enabled bool

	L2Enabled bool
	L2TTL     time.Duration

	L3Enabled bool
	L3Path    string
	L3TTL     time.Duration

	L4Enabled bool
	L4Driver  string // "memory" or "file"
	L4TTL     time.Duration
}

// DefaultOptions returns the stack the engine runs with when no cache
// section is configured.
func DefaultOptions() Options {
	return Options{
		Enabled:    true,
		DefaultTTL: 5 * time.Minute,
		L1Enabled:  true,
		L2Enabled:  true,
		L2TTL:      5 * time.Minute,
		L3Enabled:  false,
		L3TTL:      time.Hour,
		L4Enabled:  true,
		L4Driver:   "memory",
		L4TTL:      5 * time.Minute,
	}
}

// Manager chains the four tiers. A miss at tier N falls through to tier N+1
// and, on hit, back-fills tier N. All methods are safe on a nil receiver so
// components can run uncached.
type Manager struct {
	opts Options
	l2   Tier
	l3   *FileTier
	l4   Tier
}

// NewManager builds the tier stack from options.
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{opts: opts}
	if !opts.Enabled {
		return m, nil
	}
	if opts.L2Enabled {
		m.l2 = NewMemoryTier()
	}
	if opts.L3Enabled {
		tier, err := NewFileTier(opts.L3Path)
		if err != nil {
			return nil, err
		}
		m.l3 = tier
	}
	if opts.L4Enabled {
		if opts.L4Driver == "file" {
			tier, err := NewFileTier(opts.L3Path + "-queries")
			if err != nil {
				return nil, err
			}
			m.l4 = tier
		} else {
			m.l4 = NewMemoryTier()
		}
	}
	return m, nil
}

func (m *Manager) enabled() bool { return m != nil && m.opts.Enabled }

func (m *Manager) key(k string) string {
	if m.opts.Prefix == "" {
		return k
	}
	return m.opts.Prefix + ":" + k
}

// Get reads through L1 → L2 → L3, back-filling the tiers above a hit.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if !m.enabled() {
		return nil, false
	}
	k := m.key(key)

	scope := m.l1(ctx)
	if scope != nil {
		if payload, ok := scope.get(k); ok {
			return payload, true
		}
	}
	if m.l2 != nil {
		if payload, ok := m.l2.Get(ctx, k); ok {
			if scope != nil {
				scope.set(k, payload)
			}
			return payload, true
		}
	}
	if m.l3 != nil {
		if payload, ok := m.l3.Get(ctx, k); ok {
			if m.l2 != nil {
				m.l2.Set(ctx, k, payload, m.ttl(m.opts.L2TTL))
			}
			if scope != nil {
				scope.set(k, payload)
			}
			return payload, true
		}
	}
	return nil, false
}

// Set writes through every enabled data tier.
func (m *Manager) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if !m.enabled() {
		return
	}
	k := m.key(key)
	if scope := m.l1(ctx); scope != nil {
		scope.set(k, payload)
	}
	if m.l2 != nil {
		l2ttl := ttl
		if l2ttl <= 0 {
			l2ttl = m.ttl(m.opts.L2TTL)
		}
		m.l2.Set(ctx, k, payload, l2ttl)
	}
	if m.l3 != nil {
		l3ttl := ttl
		if l3ttl <= 0 {
			l3ttl = m.ttl(m.opts.L3TTL)
		}
		m.l3.Set(ctx, k, payload, l3ttl)
	}
}

// Delete removes the key from every data tier.
func (m *Manager) Delete(ctx context.Context, key string) {
	if !m.enabled() {
		return
	}
	k := m.key(key)
	if scope := m.l1(ctx); scope != nil {
		scope.delete(k)
	}
	if m.l2 != nil {
		m.l2.Delete(ctx, k)
	}
	if m.l3 != nil {
		m.l3.Delete(ctx, k)
	}
}

// Has reports whether any data tier holds the key.
func (m *Manager) Has(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

// Clear flushes every tier. Reserved for explicit administrative calls;
// ordinary writes invalidate specific keys instead.
func (m *Manager) Clear(ctx context.Context) {
	if !m.enabled() {
		return
	}
	if scope := m.l1(ctx); scope != nil {
		scope.clear()
	}
	if m.l2 != nil {
		m.l2.Clear(ctx)
	}
	if m.l3 != nil {
		m.l3.Clear(ctx)
	}
	if m.l4 != nil {
		m.l4.Clear(ctx)
	}
}

// --- L4 query-result cache ---

// GetQuery reads a cached query result by predicate fingerprint.
func (m *Manager) GetQuery(ctx context.Context, entityTypeID int64, fingerprint uint64) ([]byte, bool) {
	if !m.enabled() || m.l4 == nil {
		return nil, false
	}
	return m.l4.Get(ctx, m.key(KeyQuery(entityTypeID, fingerprint)))
}

// SetQuery stores a query result under the type's query namespace.
func (m *Manager) SetQuery(ctx context.Context, entityTypeID int64, fingerprint uint64, payload []byte) {
	if !m.enabled() || m.l4 == nil {
		return
	}
	m.l4.Set(ctx, m.key(KeyQuery(entityTypeID, fingerprint)), payload, m.ttl(m.opts.L4TTL))
}

// InvalidateQueries drops every cached query result for the entity type.
// Coarser than per-query invalidation but always safe.
func (m *Manager) InvalidateQueries(ctx context.Context, entityTypeID int64) {
	if !m.enabled() || m.l4 == nil {
		return
	}
	m.l4.ClearPrefix(ctx, m.key(QueryPrefix(entityTypeID)))
}

// --- Write-path invalidation ---

// InvalidateEntity drops the keys a single-entity write could have staled.
func (m *Manager) InvalidateEntity(ctx context.Context, entityTypeID int64, entityID id.ID) {
	if !m.enabled() {
		return
	}
	m.Delete(ctx, KeyEntity(entityTypeID, entityID))
	m.InvalidateQueries(ctx, entityTypeID)
}

// InvalidateType drops the attribute-metadata keys for an entity type.
func (m *Manager) InvalidateType(ctx context.Context, entityTypeID int64) {
	if !m.enabled() {
		return
	}
	m.Delete(ctx, KeyAttributes(entityTypeID))
	m.Delete(ctx, KeySearchable(entityTypeID))
	m.Delete(ctx, KeyFilterable(entityTypeID))
	m.InvalidateQueries(ctx, entityTypeID)
}

// Close releases tier resources.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	if m.l3 != nil {
		m.l3.Close()
	}
	if ft, ok := m.l4.(*FileTier); ok {
		ft.Close()
	}
}

func (m *Manager) l1(ctx context.Context) *requestScope {
	if !m.opts.L1Enabled {
		return nil
	}
	return scopeFrom(ctx)
}

func (m *Manager) ttl(tierTTL time.Duration) time.Duration {
	if tierTTL > 0 {
		return tierTTL
	}
	return m.opts.DefaultTTL
}
