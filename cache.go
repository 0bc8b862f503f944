package xmlmode

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CacheStatistics contains cache performance metrics.
type CacheStatistics struct {
	Hits    int64
	Misses  int64
	Size    int64
	HitRate float64
}

type cacheEntry struct {
	mode       ValidationMode
	expiration time.Time
	hasExpiry  bool
}

// ModeCache remembers detected validation modes keyed by document
// fingerprint. It is safe for concurrent use and supports TTL-based
// expiration.
type ModeCache struct {
	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
	hits    int64
	misses  int64
}

// NewModeCache creates an empty cache.
func NewModeCache() *ModeCache {
	return &ModeCache{
		entries: make(map[uint64]*cacheEntry),
	}
}

// Fingerprint identifies one version of a document. Rewriting the
// document changes its size or modification time, and so its fingerprint.
func Fingerprint(info *FileInfo) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(info.Path)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.Size, 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.ModTime.UnixNano(), 10))
	return d.Sum64()
}

// Get retrieves a mode from the cache.
func (c *ModeCache) Get(key uint64) (ValidationMode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return ValidationAuto, false
	}

	if entry.hasExpiry && time.Now().After(entry.expiration) {
		delete(c.entries, key)
		c.misses++
		return ValidationAuto, false
	}

	c.hits++
	return entry.mode, true
}

// Set stores a mode with the given TTL. A TTL of 0 means no expiration.
func (c *ModeCache) Set(key uint64, mode ValidationMode, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{mode: mode}
	if ttl > 0 {
		entry.expiration = time.Now().Add(ttl)
		entry.hasExpiry = true
	}
	c.entries[key] = entry
}

// Delete removes a mode from the cache.
func (c *ModeCache) Delete(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all modes from the cache.
func (c *ModeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry)
}

// Stats returns cache statistics.
func (c *ModeCache) Stats() CacheStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStatistics{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    int64(len(c.entries)),
		HitRate: hitRate,
	}
}

// Cleanup removes expired entries from the cache.
func (c *ModeCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if entry.hasExpiry && now.After(entry.expiration) {
			delete(c.entries, key)
		}
	}
}
