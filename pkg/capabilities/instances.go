package capabilities

import (
	"io"
	"sort"
	"sync"

	"github.com/kart-io/logger"
	"golang.org/x/sync/singleflight"
)

// Instances caches at most one instance per key.
//
// Concurrent first requests for a key are collapsed into one construction.
// Construction runs outside the cache lock and the result is published
// with insert-if-absent, so a slow build never blocks lookups of other keys.
type Instances[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	group singleflight.Group
}

// NewInstances creates an empty cache.
func NewInstances[T any]() *Instances[T] {
	return &Instances[T]{items: make(map[string]T)}
}

// Get returns the instance cached under key.
func (c *Instances[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.items[key]
	return v, ok
}

// LoadOrBuild returns the instance cached under key, calling build when
// there is none. fresh is true only for the caller whose build call
// produced the published instance. A failed build caches nothing.
func (c *Instances[T]) LoadOrBuild(key string, build func() (T, error)) (v T, fresh bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, false, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		built, err := build()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.items[key]; ok {
			discard(key, built)
			return existing, nil
		}
		c.items[key] = built
		fresh = true
		return built, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}

	v, _ = res.(T)
	return v, fresh, nil
}

// Delete evicts key and returns the evicted instance.
func (c *Instances[T]) Delete(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	return v, ok
}

// Keys returns the cached keys in sorted order.
func (c *Instances[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached instances.
func (c *Instances[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

func discard(key string, v interface{}) {
	if closer, ok := v.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warnw("Failed to close discarded instance", "key", key, "error", err)
		}
	}
}
