package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eavstore/internal/core/id"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestManager_NilIsTransparent(t *testing.T) {
	var m *Manager
	ctx := context.Background()

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	m.Set(ctx, "k", []byte("v"), 0)
	m.Delete(ctx, "k")
	m.InvalidateEntity(ctx, 1, id.New())
	m.InvalidateType(ctx, 1)
}

func TestManager_DisabledIsTransparent(t *testing.T) {
	opts := DefaultOptions()
	opts.Enabled = false
	m := newTestManager(t, opts)

	ctx := context.Background()
	m.Set(ctx, "k", []byte("v"), 0)
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_L1RequestScope(t *testing.T) {
	opts := DefaultOptions()
	opts.L2Enabled = false
	opts.L4Enabled = false
	m := newTestManager(t, opts)

	ctx := WithRequestScope(context.Background())
	m.Set(ctx, "k", []byte("v"), 0)

	payload, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), payload)

	// A different request scope must not see the entry.
	other := WithRequestScope(context.Background())
	_, ok = m.Get(other, "k")
	assert.False(t, ok)
}

func TestManager_L3BackfillsL2(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.L3Enabled = true
	opts.L3Path = dir
	opts.L4Enabled = false
	m := newTestManager(t, opts)

	ctx := context.Background()
	m.Set(ctx, "k", []byte("v"), time.Minute)

	// Drop L2 so the read must fall through to the file tier.
	m.l2.Clear(ctx)
	payload, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), payload)

	// The hit back-fills L2.
	payload, ok = m.l2.Get(ctx, m.key("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), payload)
}

func TestManager_InvalidateEntityDropsEntityAndQueries(t *testing.T) {
	m := newTestManager(t, DefaultOptions())
	ctx := context.Background()
	entityID := id.New()

	m.Set(ctx, KeyEntity(1, entityID), []byte("payload"), 0)
	m.SetQuery(ctx, 1, 0xdead, []byte("ids"))
	m.SetQuery(ctx, 2, 0xbeef, []byte("other type"))

	m.InvalidateEntity(ctx, 1, entityID)

	_, ok := m.Get(ctx, KeyEntity(1, entityID))
	assert.False(t, ok)
	_, ok = m.GetQuery(ctx, 1, 0xdead)
	assert.False(t, ok, "every cached query of the type must be dropped")
	_, ok = m.GetQuery(ctx, 2, 0xbeef)
	assert.True(t, ok, "other types keep their query results")
}

func TestManager_InvalidateTypeDropsAttributeKeys(t *testing.T) {
	m := newTestManager(t, DefaultOptions())
	ctx := context.Background()

	m.Set(ctx, KeyAttributes(1), []byte("attrs"), 0)
	m.Set(ctx, KeySearchable(1), []byte("s"), 0)
	m.Set(ctx, KeyFilterable(1), []byte("f"), 0)

	m.InvalidateType(ctx, 1)

	for _, key := range []string{KeyAttributes(1), KeySearchable(1), KeyFilterable(1)} {
		_, ok := m.Get(ctx, key)
		assert.False(t, ok, "key %s must be gone", key)
	}
}

func TestMemoryTier_ClearPrefix(t *testing.T) {
	tier := NewMemoryTier()
	ctx := context.Background()

	tier.Set(ctx, "q:1:aa", []byte("a"), 0)
	tier.Set(ctx, "q:1:bb", []byte("b"), 0)
	tier.Set(ctx, "q:2:cc", []byte("c"), 0)

	tier.ClearPrefix(ctx, "q:1:")

	_, ok := tier.Get(ctx, "q:1:aa")
	assert.False(t, ok)
	_, ok = tier.Get(ctx, "q:2:cc")
	assert.True(t, ok)
}

func TestMemoryTier_TTLExpiry(t *testing.T) {
	tier := NewMemoryTier()
	ctx := context.Background()

	tier.Set(ctx, "k", []byte("v"), time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := tier.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFileTier_RoundTripAndCompression(t *testing.T) {
	tier, err := NewFileTier(t.TempDir())
	require.NoError(t, err)
	defer tier.Close()
	ctx := context.Background()

	small := []byte("small payload")
	tier.Set(ctx, "small", small, 0)
	got, ok := tier.Get(ctx, "small")
	require.True(t, ok)
	assert.Equal(t, small, got)

	// Above the threshold the payload is stored compressed but reads back
	// byte-identical.
	big := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	tier.Set(ctx, "big", big, 0)
	got, ok = tier.Get(ctx, "big")
	require.True(t, ok)
	assert.Equal(t, big, got)
}

func TestFileTier_CorruptFileIsMissAndRemoved(t *testing.T) {
	dir := t.TempDir()
	tier, err := NewFileTier(dir)
	require.NoError(t, err)
	defer tier.Close()
	ctx := context.Background()

	tier.Set(ctx, "k", []byte("v"), 0)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(dir, entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o644))

	_, ok := tier.Get(ctx, "k")
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file must be removed")
}

func TestFileTier_ExpiredEntryIsMiss(t *testing.T) {
	tier, err := NewFileTier(t.TempDir())
	require.NoError(t, err)
	defer tier.Close()
	ctx := context.Background()

	tier.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, ok := tier.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFileTier_ClearPrefix(t *testing.T) {
	tier, err := NewFileTier(t.TempDir())
	require.NoError(t, err)
	defer tier.Close()
	ctx := context.Background()

	tier.Set(ctx, "q:1:aa", []byte("a"), 0)
	tier.Set(ctx, "q:1:bb", []byte("b"), 0)
	tier.Set(ctx, "q:2:cc", []byte("c"), 0)

	tier.ClearPrefix(ctx, "q:1:")

	_, ok := tier.Get(ctx, "q:1:aa")
	assert.False(t, ok)
	_, ok = tier.Get(ctx, "q:2:cc")
	assert.True(t, ok)
}

func TestKeyBuilders(t *testing.T) {
	entityID := id.MustParse("018f4a2e-89ab-7cde-8123-456789abcdef")

	assert.Equal(t, "e:7:018f4a2e-89ab-7cde-8123-456789abcdef", KeyEntity(7, entityID))
	assert.Equal(t, "attrs:7", KeyAttributes(7))
	assert.Equal(t, "attrs:7:searchable", KeySearchable(7))
	assert.Equal(t, "attrs:7:filterable", KeyFilterable(7))
	assert.Equal(t, "q:7:", QueryPrefix(7))
	assert.Equal(t, "q:7:ff", KeyQuery(7, 0xff))
}
