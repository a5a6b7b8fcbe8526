// Package fifo provides a bounded cache with first-in-first-out eviction,
// keyed by values that hash and compare structurally.
package fifo

import (
	"container/list"
	"context"
)

// Key is a structurally hashable and comparable cache key.
type Key[K any] interface {
	Hash() uint64
	Equal(other K) bool
}

type entry[K Key[K], V any] struct {
	key   K
	hash  uint64
	value V
}

// Cache maps keys to values and evicts the oldest insertion once more than
// capacity entries are held. Reads do not refresh an entry's position.
// A Cache is not safe for concurrent use.
type Cache[K Key[K], V any] struct {
	name     string
	capacity int
	order    *list.List
	buckets  map[uint64][]*list.Element
}

// New returns a cache holding at most capacity entries; capacity <= 0 means
// unbounded. name labels the cache's metrics.
func New[K Key[K], V any](name string, capacity int) *Cache[K, V] {
	return &Cache[K, V]{
		name:     name,
		capacity: capacity,
		order:    list.New(),
		buckets:  make(map[uint64][]*list.Element),
	}
}

func (c *Cache[K, V]) find(k K) (*list.Element, uint64) {
	h := k.Hash()
	for _, el := range c.buckets[h] {
		if el.Value.(*entry[K, V]).key.Equal(k) {
			return el, h
		}
	}
	return nil, h
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int { return c.order.Len() }

// Contains reports whether k is cached without touching metrics.
func (c *Cache[K, V]) Contains(k K) bool {
	el, _ := c.find(k)
	return el != nil
}

// Get returns the value cached for k.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, bool) {
	el, _ := c.find(k)
	if el == nil {
		record(ctx, cacheMisses, c.name, 1)
		var zero V
		return zero, false
	}
	record(ctx, cacheHits, c.name, 1)
	return el.Value.(*entry[K, V]).value, true
}

// Put stores v for k. Replacing an existing value keeps its queue position.
func (c *Cache[K, V]) Put(ctx context.Context, k K, v V) {
	if el, _ := c.find(k); el != nil {
		el.Value.(*entry[K, V]).value = v
		return
	}
	h := k.Hash()
	el := c.order.PushBack(&entry[K, V]{key: k, hash: h, value: v})
	c.buckets[h] = append(c.buckets[h], el)

	evicted := 0
	for c.capacity > 0 && c.order.Len() > c.capacity {
		c.remove(c.order.Front())
		evicted++
	}
	record(ctx, cacheEvictions, c.name, int64(evicted))
}

func (c *Cache[K, V]) remove(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	bucket := c.buckets[e.hash]
	for i, b := range bucket {
		if b == el {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, e.hash)
	} else {
		c.buckets[e.hash] = bucket
	}
}

// Delete removes k and reports whether it was present.
func (c *Cache[K, V]) Delete(k K) bool {
	el, _ := c.find(k)
	if el == nil {
		return false
	}
	c.remove(el)
	return true
}

// Retain drops every entry for which keep returns false and returns the
// number of entries dropped.
func (c *Cache[K, V]) Retain(keep func(K) bool) int {
	dropped := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !keep(el.Value.(*entry[K, V]).key) {
			c.remove(el)
			dropped++
		}
		el = next
	}
	return dropped
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.order.Init()
	clear(c.buckets)
}
