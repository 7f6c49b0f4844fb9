package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedMemory(id, text string) *Memory {
	return &Memory{ID: id, UserID: "default", Text: text}
}

func TestSearchFingerprint(t *testing.T) {
	a := searchFingerprint("  Green   TEA ", 5, "default", ScopeAll, false, "")
	b := searchFingerprint("green tea", 5, "default", ScopeAll, false, "")
	assert.Equal(t, a, b, "whitespace and case must not split cache entries")

	c := searchFingerprint("green tea", 5, "default", ScopeAll, true, "")
	assert.NotEqual(t, a, c, "deep flag is part of the key")

	d := searchFingerprint("green tea", 5, "default", ScopeAll, false, "sess-1")
	assert.NotEqual(t, a, d, "session id is part of the key")
	assert.Contains(t, a, "|-", "missing session is keyed as a dash")
}

func TestSearchCache_PutGetCopies(t *testing.T) {
	cache := newSearchCache(time.Minute, 4)

	original := []*Memory{cachedMemory("m1", "likes tea")}
	original[0].Metadata = map[string]interface{}{"k": "v"}
	cache.put("key", original)

	// Mutating the input after put must not affect the cached copy.
	original[0].Text = "mutated"

	got, ok := cache.get("key")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "likes tea", got[0].Text)

	// Mutating a returned copy must not affect later reads.
	got[0].Text = "mutated again"
	got[0].Metadata["k"] = "changed"

	again, ok := cache.get("key")
	require.True(t, ok)
	assert.Equal(t, "likes tea", again[0].Text)
	assert.Equal(t, "v", again[0].Metadata["k"])
}

func TestSearchCache_EmptyResultNotCached(t *testing.T) {
	cache := newSearchCache(time.Minute, 4)

	cache.put("key", nil)
	_, ok := cache.get("key")
	assert.False(t, ok)
	assert.Zero(t, cache.size())
}

func TestSearchCache_TTLExpiry(t *testing.T) {
	cache := newSearchCache(50*time.Millisecond, 4)
	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.put("key", []*Memory{cachedMemory("m1", "likes tea")})

	_, ok := cache.get("key")
	require.True(t, ok)

	current = current.Add(51 * time.Millisecond)
	_, ok = cache.get("key")
	assert.False(t, ok, "expired entry must be dropped lazily")
	assert.Zero(t, cache.size())
}

func TestSearchCache_EvictsLeastRecentlyInserted(t *testing.T) {
	cache := newSearchCache(time.Minute, 2)

	cache.put("first", []*Memory{cachedMemory("m1", "a")})
	cache.put("second", []*Memory{cachedMemory("m2", "b")})

	// A hit on the oldest key must not save it from eviction.
	_, ok := cache.get("first")
	require.True(t, ok)

	cache.put("third", []*Memory{cachedMemory("m3", "c")})

	_, ok = cache.get("first")
	assert.False(t, ok, "oldest insertion evicted regardless of recent hits")
	_, ok = cache.get("second")
	assert.True(t, ok)
	_, ok = cache.get("third")
	assert.True(t, ok)
}

func TestSearchCache_ReinsertRefreshesPosition(t *testing.T) {
	cache := newSearchCache(time.Minute, 2)

	cache.put("first", []*Memory{cachedMemory("m1", "a")})
	cache.put("second", []*Memory{cachedMemory("m2", "b")})
	cache.put("first", []*Memory{cachedMemory("m1", "a2")})
	cache.put("third", []*Memory{cachedMemory("m3", "c")})

	_, ok := cache.get("second")
	assert.False(t, ok, "second became the oldest insertion after first was re-put")

	got, ok := cache.get("first")
	require.True(t, ok)
	assert.Equal(t, "a2", got[0].Text)
}

func TestSearchCache_InvalidateAll(t *testing.T) {
	cache := newSearchCache(time.Minute, 4)

	cache.put("first", []*Memory{cachedMemory("m1", "a")})
	cache.put("second", []*Memory{cachedMemory("m2", "b")})
	require.Equal(t, 2, cache.size())

	cache.invalidateAll()

	assert.Zero(t, cache.size())
	_, ok := cache.get("first")
	assert.False(t, ok)
}
