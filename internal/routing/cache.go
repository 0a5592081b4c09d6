// Package routing resolves (group, topic) pairs to webhook endpoints through
// a TTL cache in front of the route store.
package routing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/tgrelay/internal/store"
)

const (
	// DefaultTTL is the lifetime of cached lookups, found or not.
	DefaultTTL = 5 * time.Minute

	// storeTimeout bounds one store query. It is detached from the caller's
	// context because every caller collapsed onto the query shares its result.
	storeTimeout = 5 * time.Second
)

type cacheEntry struct {
	endpoint   string
	found      bool
	insertedAt time.Time
}

type lookupResult struct {
	endpoint string
	found    bool
}

// Cache caches route lookups, including misses. Expiry is checked lazily on
// read; store failures are never cached. Safe for concurrent use.
type Cache struct {
	store store.RouteStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCache creates a cache in front of s.
func NewCache(s store.RouteStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   s,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(groupID, topicID int64) string {
	return strconv.FormatInt(groupID, 10) + ":" + strconv.FormatInt(topicID, 10)
}

// Lookup returns the endpoint for (groupID, topicID). A topic without an
// exact route falls back to the group's wildcard route, except topic 0.
func (c *Cache) Lookup(ctx context.Context, groupID, topicID int64) (string, bool) {
	key := cacheKey(groupID, topicID)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.now().Sub(e.insertedAt) < c.ttl {
			c.mu.Unlock()
			return e.endpoint, e.found
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Sub(e.insertedAt) < c.ttl {
			c.mu.Unlock()
			return lookupResult{endpoint: e.endpoint, found: e.found}, nil
		}
		c.mu.Unlock()

		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		endpoint, found, err := c.query(qctx, groupID, topicID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{endpoint: endpoint, found: found, insertedAt: c.now()}
		c.mu.Unlock()
		return lookupResult{endpoint: endpoint, found: found}, nil
	})
	if err != nil {
		slog.Warn("route lookup failed, treating as not found",
			"group_id", groupID, "topic_id", topicID, "error", err)
		return "", false
	}
	res := v.(lookupResult)
	return res.endpoint, res.found
}

func (c *Cache) query(ctx context.Context, groupID, topicID int64) (string, bool, error) {
	endpoint, err := c.store.FindRoute(ctx, groupID, topicID)
	if err == nil {
		return endpoint, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}
	if topicID == store.NoTopic {
		return "", false, nil
	}

	endpoint, err = c.store.FindWildcard(ctx, groupID)
	if err == nil {
		return endpoint, true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	return "", false, err
}

// Invalidate drops every cached entry of a group.
func (c *Cache) Invalidate(groupID int64) {
	prefix := strconv.FormatInt(groupID, 10) + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
