// Package enginecache implements the Cache Adapter: an in-process
// advertisement cache every store instance carries regardless of
// configuration, plus an optional out-of-process KV tier (Redis-like)
// keyed exactly as the original implementation's redis.rs does. The engine
// uses the KV tier only to invalidate a branch's entries after a push; no
// object/file/tree/ref lookup reads from or writes to it.
package enginecache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TTLs for the out-of-process KV tier, matching redis.rs's CacheTtl.
const (
	GitObjectTTL     = 1 * time.Hour
	FileContentTTL   = 5 * time.Minute
	TreeListingTTL   = 5 * time.Minute
	RefResolutionTTL = 30 * time.Second
)

// ObjectKey, FileKey, TreeKey, RefKey, and BranchPattern reproduce the
// original's exact key schema so cached entries remain interpretable by
// any tooling built against that schema.
func ObjectKey(repoPrefix, oid string) string {
	return fmt.Sprintf("git:obj:%s:%s", repoPrefix, oid)
}

func FileKey(repoPrefix, branch, path string) string {
	return fmt.Sprintf("git:file:%s:%s:%s", repoPrefix, branch, path)
}

func TreeKey(repoPrefix, branch, path string) string {
	return fmt.Sprintf("git:tree:%s:%s:%s", repoPrefix, branch, path)
}

func RefKey(repoPrefix, refName string) string {
	return fmt.Sprintf("git:ref:%s:%s", repoPrefix, refName)
}

// BranchPattern is the glob passed to DeletePattern to invalidate every
// file/tree entry under one branch after a push — imprecise and O(keyspace)
// against a real Redis KEYS scan, matching the original's own tradeoff.
func BranchPattern(repoPrefix, branch string) string {
	return fmt.Sprintf("git:*:%s:%s:*", repoPrefix, branch)
}

// KV is the out-of-process cache tier's surface. A nil KV is a valid,
// supported configuration — every caller must treat cache misses and "no
// KV configured" identically, since the KV tier is explicitly optional.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// AdvertisementEntry is the cached packet-line bytes for one
// (repo-prefix, service) info/refs advertisement.
type advertisementEntry struct {
	packets []byte
	stored  time.Time
}

// AdvertisementCache is the in-process tier the smart-HTTP advertisement
// builder always has available, independent of whether a KV tier is
// configured. TTL defaults to 2000ms (env-overridable by the caller, which
// passes its own TTL in) and the cache is fully cleared once it reaches
// 1024 entries rather than evicting individual keys — matching the
// original's DashMap-based cache exactly.
type AdvertisementCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]advertisementEntry
}

const advertisementCacheSizeCap = 1024

// DefaultAdvertisementTTL is used when the caller has no configured
// override (the original's GITBRUV_INFO_REFS_CACHE_TTL_MS default).
const DefaultAdvertisementTTL = 2000 * time.Millisecond

func NewAdvertisementCache(ttl time.Duration) *AdvertisementCache {
	if ttl <= 0 {
		ttl = DefaultAdvertisementTTL
	}
	return &AdvertisementCache{ttl: ttl, entries: make(map[string]advertisementEntry)}
}

func advertisementCacheKey(repoPrefix, service string) string {
	return repoPrefix + "|" + service
}

// Get returns previously-built advertisement packets if present and not
// expired. A TTL of zero or less disables caching entirely (every call
// misses), matching the original's "ttl.as_millis() > 0" guard.
func (c *AdvertisementCache) Get(repoPrefix, service string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	key := advertisementCacheKey(repoPrefix, service)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.stored) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.packets, true
}

// Put stores freshly-built advertisement packets, clearing the whole cache
// first if it has reached the size cap.
func (c *AdvertisementCache) Put(repoPrefix, service string, packets []byte) {
	if c.ttl <= 0 {
		return
	}
	key := advertisementCacheKey(repoPrefix, service)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= advertisementCacheSizeCap {
		c.entries = make(map[string]advertisementEntry)
	}
	c.entries[key] = advertisementEntry{packets: packets, stored: time.Now()}
}

// Invalidate drops both services' cached advertisements for repoPrefix,
// called after a successful receive-pack so the next info/refs reflects
// the new head without waiting out the TTL.
func (c *AdvertisementCache) Invalidate(repoPrefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, advertisementCacheKey(repoPrefix, "git-upload-pack"))
	delete(c.entries, advertisementCacheKey(repoPrefix, "git-receive-pack"))
}
