package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// searchCache memoizes recall results keyed by request fingerprint.
//
// Eviction is least-recently-inserted: a cache hit does not refresh an
// entry's position, so even a hot key ages out and picks up fresh results.
// Expired entries are removed lazily on lookup. Results are copied on both
// insert and return so callers can never mutate cached state. Any hot-tier
// mutation clears the whole cache synchronously.
type searchCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*searchCacheEntry
	order      []string // insertion order, oldest first
	now        func() time.Time
}

type searchCacheEntry struct {
	memories  []*Memory
	expiresAt time.Time
}

func newSearchCache(ttl time.Duration, maxEntries int) *searchCache {
	return &searchCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*searchCacheEntry),
		now:        time.Now,
	}
}

// searchFingerprint builds the cache key for one recall request. A request
// without a session carries a dash so the key shape stays fixed.
func searchFingerprint(query string, limit int, userID string, scope Scope, deep bool, sessionID string) string {
	if sessionID == "" {
		sessionID = "-"
	}
	return fmt.Sprintf("%s|%d|%s|%s|%t|%s", normalizeQuery(query), limit, userID, scope, deep, sessionID)
}

// normalizeQuery lowercases the query and collapses runs of whitespace so
// trivially reworded requests share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (c *searchCache) get(key string) ([]*Memory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	return cloneMemories(entry.memories), true
}

// put stores a copy of memories under key. Empty results are never cached:
// a later write may make the same query productive. Re-inserting an existing
// key refreshes its insertion position.
func (c *searchCache) put(key string, memories []*Memory) {
	if len(memories) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}

	c.entries[key] = &searchCacheEntry{
		memories:  cloneMemories(memories),
		expiresAt: c.now().Add(c.ttl),
	}
	c.order = append(c.order, key)

	for len(c.order) > c.maxEntries {
		c.removeLocked(c.order[0])
	}
}

// invalidateAll drops every entry. Called synchronously after each hot-tier
// mutation so acknowledged writes are always visible to the next recall.
func (c *searchCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*searchCacheEntry)
	c.order = c.order[:0]
}

func (c *searchCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *searchCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// cloneMemories copies the slice and every element, including the run id
// pointer, categories slice and metadata map.
func cloneMemories(memories []*Memory) []*Memory {
	out := make([]*Memory, len(memories))
	for i, m := range memories {
		out[i] = cloneMemory(m)
	}
	return out
}

func cloneMemory(m *Memory) *Memory {
	clone := *m
	if m.RunID != nil {
		runID := *m.RunID
		clone.RunID = &runID
	}
	if m.Categories != nil {
		clone.Categories = append([]string(nil), m.Categories...)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
