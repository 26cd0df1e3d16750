package console

import (
	"context"
	"sync"
	"time"

	"ZapDesk/entity"
)

// Cache resolves expensive per-identity display data (avatar, group
// title) exactly once per key. Both the fetch function and the cache
// state are injected/owned here rather than living in package globals,
// so tests and sessions never leak into each other.
//
// Unlike the timeline, the cache is shared between operator sessions
// and must be safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entity.Identity
	inflight map[string]*flight
	observed map[string]struct{}

	fetch      FetchFunc
	staleAfter time.Duration
	now        func() time.Time
}

// FetchFunc performs the underlying network resolution for a key.
type FetchFunc func(ctx context.Context, key string) (entity.Identity, error)

type flight struct {
	done  chan struct{}
	value entity.Identity
}

// NewCache creates a cache around a fetch function. staleAfter governs
// staleness only: stale entries may be re-resolved but are never
// discarded until replaced.
func NewCache(fetch FetchFunc, staleAfter time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entity.Identity),
		inflight:   make(map[string]*flight),
		observed:   make(map[string]struct{}),
		fetch:      fetch,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Get returns the cached value synchronously, if present. A present
// entry with empty fields means "resolved to nothing".
func (c *Cache) Get(key string) (entity.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[key]
	return id, ok
}

// Resolve returns the cached value if present and fresh; otherwise it
// starts one fetch for the key, with concurrent callers attaching to
// the same in-flight resolution. A failed or empty resolution is
// cached as "resolved to nothing" so it is not retried per render.
func (c *Cache) Resolve(ctx context.Context, key string) (entity.Identity, error) {
	c.mu.Lock()
	if id, ok := c.entries[key]; ok && !c.staleLocked(id) {
		c.mu.Unlock()
		return id, nil
	}
	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return c.await(ctx, fl)
	}

	fl := &flight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	var id entity.Identity
	var err error
	if c.fetch != nil {
		id, err = c.fetch(ctx, key)
	}
	if err != nil || (id.Name == "" && id.Avatar == "") {
		// Negative result: cache the miss, keep whatever was there.
		id = entity.Identity{Key: key}
	}
	id.Key = key
	id.ResolvedAt = c.now()

	c.mu.Lock()
	merged := MergeIdentity(c.entries[key], id)
	c.entries[key] = merged
	fl.value = merged
	delete(c.inflight, key)
	c.mu.Unlock()

	close(fl.done)
	return merged, nil
}

func (c *Cache) await(ctx context.Context, fl *flight) (entity.Identity, error) {
	select {
	case <-fl.done:
		return fl.value, nil
	case <-ctx.Done():
		return entity.Identity{}, ctx.Err()
	}
}

// Prime writes an authoritative value straight into the cache,
// short-circuiting the miss path. Used when a freshly-fetched
// conversation record already embeds display data. A prime overwrites
// an earlier negative result.
func (c *Cache) Prime(key string, incoming entity.Identity) entity.Identity {
	incoming.Key = key
	if incoming.ResolvedAt.IsZero() {
		incoming.ResolvedAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := MergeIdentity(c.entries[key], incoming)
	c.entries[key] = merged
	return merged
}

// Observe registers interest in a key whose row exists but is not yet
// visible. Resolution is not triggered until NotifyVisible.
func (c *Cache) Observe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.entries[key]; ok && !c.staleLocked(id) {
		return
	}
	c.observed[key] = struct{}{}
}

// NotifyVisible reports that a row entered (or came within the margin
// of) the viewport. Returns true when the caller should start a
// resolution: the key must be under observation and have no cached or
// in-flight value. The observation is released as soon as this fires,
// so repeated visibility toggling cannot restart a completed or
// running fetch.
func (c *Cache) NotifyVisible(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.observed[key]; !ok {
		return false
	}
	delete(c.observed, key)

	if id, ok := c.entries[key]; ok && !c.staleLocked(id) {
		return false
	}
	if _, ok := c.inflight[key]; ok {
		return false
	}
	return true
}

// Stale reports whether the cached entry for key is past its TTL. A
// missing entry is stale by definition.
func (c *Cache) Stale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[key]
	if !ok {
		return true
	}
	return c.staleLocked(id)
}

func (c *Cache) staleLocked(id entity.Identity) bool {
	if c.staleAfter <= 0 {
		return false
	}
	return c.now().Sub(id.ResolvedAt) > c.staleAfter
}
