package strategy

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CacheKey identifies one cached strategy invocation.
type CacheKey struct {
	StrategyName string
	ParamsHash   string
	Value        string
}

// ResultCache is a bounded, TTL-based, concurrency-safe cache of strategy
// results, keyed by (strategyName, params-hash, value). A repeated Put for
// a key replaces its result and expiry; eviction is least-recently-used
// once MaxEntries is reached (spec.md §5 "Shared resource policy").
type ResultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[CacheKey]*list.Element
	order      *list.List
}

type cacheEntry struct {
	key       CacheKey
	result    Result
	expiresAt time.Time
}

// NewResultCache creates a cache with the given TTL and entry cap.
func NewResultCache(ttl time.Duration, maxEntries int) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = MaxCacheSize
	}
	return &ResultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[CacheKey]*list.Element),
		order:      list.New(),
	}
}

// HashParams produces a stable hash of a params map for use in CacheKey.
func HashParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached Result if present and unexpired.
func (c *ResultCache) Get(key CacheKey) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return Result{}, false
	}
	c.order.MoveToFront(el)
	return entry.result, true
}

// Put inserts or refreshes a cached Result, evicting the least-recently
// used entry if the cache is at capacity.
func (c *ResultCache) Put(key CacheKey, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).result = result
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(c.ttl)
		return
	}

	entry := &cacheEntry{key: key, result: result, expiresAt: time.Now().Add(c.ttl)}
	el := c.order.PushFront(entry)
	c.entries[key] = el

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the current number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
