package cache

import (
	"context"
	"sync"
)

// requestScope is the L1 tier: a per-request map carried in the context of
// one logical operation. It lives exactly as long as the context value does,
// so no TTL bookkeeping is needed.
type requestScope struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

type scopeKey struct{}

// WithRequestScope attaches a fresh L1 scope to ctx. Callers create one
// scope per logical operation (request, batch chunk, CLI invocation).
func WithRequestScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &requestScope{entries: make(map[string][]byte)})
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

func (s *requestScope) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.entries[key]
	return payload, ok
}

func (s *requestScope) set(key string, payload []byte) {
	s.mu.Lock()
	s.entries[key] = payload
	s.mu.Unlock()
}

func (s *requestScope) delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *requestScope) clear() {
	s.mu.Lock()
	s.entries = make(map[string][]byte)
	s.mu.Unlock()
}
