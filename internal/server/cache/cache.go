// Package cache provides LRU read caches that are purged when the owning
// collection broadcasts a cache.clean event.
package cache

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/orgware/owconnect/internal/server/events"
)

// Subscriber is the part of the event bus a cache needs.
type Subscriber interface {
	Subscribe(topic string, h events.Handler) func()
}

// Cache is a bounded, concurrency-safe LRU keyed by string. Every Purge
// starts a new generation; values read before it are never stored after it.
type Cache[V any] struct {
	lru *lru.Cache[string, V]

	mu  sync.Mutex
	gen uint64
}

func New[V any](size int) (*Cache[V], error) {
	l, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{lru: l}, nil
}

func (c *Cache[V]) Get(key string) (V, bool) { return c.lru.Get(key) }

func (c *Cache[V]) Add(key string, v V) { c.lru.Add(key, v) }

func (c *Cache[V]) Len() int { return c.lru.Len() }

func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}

// Generation identifies the current purge epoch.
func (c *Cache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// AddIf stores v only while the cache is still in generation gen.
func (c *Cache[V]) AddIf(key string, v V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(key, v)
	return true
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result, unless a Purge ran while load was in flight.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	gen := c.Generation()
	v, err := load()
	if err != nil {
		return v, err
	}
	c.AddIf(key, v, gen)
	return v, nil
}

// InvalidateOn purges the cache whenever any of collections changes. The
// returned function detaches the subscriptions.
func (c *Cache[V]) InvalidateOn(bus Subscriber, collections ...string) func() {
	unsubs := make([]func(), 0, len(collections))
	for _, coll := range collections {
		unsubs = append(unsubs, bus.Subscribe(events.CacheClean(coll), func(context.Context, events.Event) {
			c.Purge()
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}
