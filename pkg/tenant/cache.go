package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/rhuss/simplecrm/pkg/storage"
)

// Status is the cached outcome of a membership lookup.
type Status string

const (
	StatusMember        Status = "member"
	StatusNotMember     Status = "not_member"
	StatusUnknownTenant Status = "unknown_tenant"
)

// Entry is a cached lookup outcome. Role is set only for StatusMember.
type Entry struct {
	Status Status       `json:"status"`
	Role   storage.Role `json:"role,omitempty"`
}

// Cache stores lookup outcomes keyed by (subject, tenant). Implementations
// must be safe for concurrent use; concurrent writers for the same key may
// race and the last write wins.
type Cache interface {
	Get(ctx context.Context, subject, tenantID string) (Entry, bool, error)
	Put(ctx context.Context, subject, tenantID string, e Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, subject, tenantID string) error
}

// DefaultMaxEntries bounds the in-process cache.
const DefaultMaxEntries = 10000

type cacheKey struct {
	subject  string
	tenantID string
}

type cacheItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Each gateway replica has its own
// copy, so invalidation is local; the TTL bounds cross-replica staleness.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[cacheKey]cacheItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries items.
// A non-positive maxEntries uses DefaultMaxEntries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		items:      make(map[cacheKey]cacheItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the unexpired entry for (subject, tenantID).
func (c *MemoryCache) Get(_ context.Context, subject, tenantID string) (Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[cacheKey{subject, tenantID}]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

// Put stores an entry. A non-positive ttl is a no-op.
func (c *MemoryCache) Put(_ context.Context, subject, tenantID string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	now := c.now()
	key := cacheKey{subject, tenantID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evict(now)
	}
	c.items[key] = cacheItem{entry: e, expiresAt: now.Add(ttl)}
	return nil
}

// Invalidate removes the entry for (subject, tenantID).
func (c *MemoryCache) Invalidate(_ context.Context, subject, tenantID string) error {
	c.mu.Lock()
	delete(c.items, cacheKey{subject, tenantID})
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evict drops expired entries, then an arbitrary one if the cache is still
// full. Must be called with mu held.
func (c *MemoryCache) evict(now time.Time) {
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
	if len(c.items) < c.maxEntries {
		return
	}
	for key := range c.items {
		delete(c.items, key)
		return
	}
}
