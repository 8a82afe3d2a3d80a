// Package resultcache is a bounded TTL cache for expensive remote lookups.
//
// Entries expire ttl after insertion and are removed lazily when a read
// finds them expired. When more than maxEntries keys are held, the key
// inserted first is evicted (FIFO: reads do not refresh an entry's position,
// an overwrite does).
package resultcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 10 * time.Minute
	DefaultMaxEntries   = 128
	DefaultFetchTimeout = 30 * time.Second
)

type Options struct {
	TTL        time.Duration
	MaxEntries int
	// FetchTimeout bounds one shared GetOrFetch call.
	FetchTimeout time.Duration
	Clock        clockwork.Clock
}

// Stats are cumulative counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Cache maps request fingerprints to results.
type Cache[V any] struct {
	ttl        time.Duration
	maxEntries int
	timeout    time.Duration
	clock      clockwork.Clock

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
	stats Stats

	group singleflight.Group
}

func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Cache[V]{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		timeout:    opts.FetchTimeout,
		clock:      opts.Clock,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the value under key if it was inserted less than ttl ago.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lookupLocked(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return v, ok
}

// Set inserts or overwrites key. An overwrite counts as a new insertion.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, insertedAt: c.clock.Now()})

	for c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Front())
		c.stats.Evictions++
	}
}

// GetOrFetch returns the cached value or calls fetch, caches its result and
// returns it. Concurrent misses for the same key share one fetch; a caller
// whose ctx ends stops waiting without cancelling the fetch for the others.
// Fetch errors are returned as is and nothing is cached.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		v, ok := c.lookupLocked(key)
		c.mu.Unlock()
		if ok {
			return v, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			var zero V
			return zero, err
		}
		c.Set(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(V)
		return res, r.Err
	}
}

func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Len counts held entries, including expired ones not yet read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}

// lookupLocked finds a live entry, dropping it when expired. c.mu must be held.
func (c *Cache[V]) lookupLocked(key string) (V, bool) {
	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.clock.Since(e.insertedAt) >= c.ttl {
		c.removeElement(el)
		c.stats.Expired++
		return zero, false
	}
	return e.value, true
}
