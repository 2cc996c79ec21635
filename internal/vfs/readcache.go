package vfs

import (
	"sync"

	"github.com/zeebo/blake3"
)

// ReadCache is a path-keyed byte cache with a content hash recorded
// alongside each entry, shared by the os and memory backends.
//
// The content hash (grounded on gfbonny-cxdb/clients/go/fstree's BLAKE3
// content addressing) lets callers distinguish a metadata-only touch
// (mtime bump, identical bytes) from a real content change without
// re-running the snapshot middleware — see SPEC_FULL.md §4.2 "recompute
// memoization cache".
type ReadCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data []byte
	hash [32]byte
}

// NewReadCache returns an empty ReadCache.
func NewReadCache() *ReadCache {
	return &ReadCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached bytes and content hash for path, if present.
func (c *ReadCache) Get(path string) (data []byte, hash [32]byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	return e.data, e.hash, ok
}

// Put records data for path and returns its content hash.
func (c *ReadCache) Put(path string, data []byte) [32]byte {
	hash := blake3.Sum256(data)
	c.mu.Lock()
	c.entries[path] = cacheEntry{data: data, hash: hash}
	c.mu.Unlock()
	return hash
}

// Invalidate drops the cache entry for path, and for any path nested
// under it (so an event on a directory invalidates its descendants too).
func (c *ReadCache) Invalidate(path string) {
	prefix := path + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	for k := range c.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// Clear empties the cache.
func (c *ReadCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
