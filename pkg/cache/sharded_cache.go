// Package cache holds hot per-terminal market metadata.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"mt5relay/internal/agent"
)

const numShards = 16

// SymbolInfoCache is a sharded cache of symbol metadata per terminal.
// Tradability and point size change rarely, so every dispatch does not
// need a fresh symbol_info round trip.
type SymbolInfoCache struct {
	shards [numShards]*infoShard
	maxAge time.Duration
}

type infoShard struct {
	mu    sync.RWMutex
	items map[string]infoEntry
}

type infoEntry struct {
	info      agent.SymbolInfo
	updatedAt time.Time
}

// NewSymbolInfoCache creates a cache whose entries expire after maxAge.
func NewSymbolInfoCache(maxAge time.Duration) *SymbolInfoCache {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	c := &SymbolInfoCache{maxAge: maxAge}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &infoShard{items: make(map[string]infoEntry)}
	}
	return c
}

func (c *SymbolInfoCache) getShard(key string) *infoShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Key builds the cache key for a symbol on one terminal.
func Key(terminal, symbol string) string {
	return terminal + "|" + symbol
}

// Set stores symbol metadata.
func (c *SymbolInfoCache) Set(key string, info agent.SymbolInfo) {
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = infoEntry{info: info, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves symbol metadata unless it has expired.
func (c *SymbolInfoCache) Get(key string) (agent.SymbolInfo, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, ok := shard.items[key]
	shard.mu.RUnlock()
	if !ok || time.Since(entry.updatedAt) > c.maxAge {
		return agent.SymbolInfo{}, false
	}
	return entry.info, true
}

// Delete removes one entry, forcing a refetch on next use.
func (c *SymbolInfoCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *SymbolInfoCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than the cache's max age.
func (c *SymbolInfoCache) Cleanup() int {
	removed := 0
	cutoff := time.Now().Add(-c.maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
