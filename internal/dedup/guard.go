// Package dedup provides a best-effort, time-windowed in-flight marker.
//
// A Guard answers "is someone already handling this key?". It is advisory:
// entries expire after their window, capacity eviction may drop a live entry,
// and the Redis variant is only as consistent as a single SET NX. Correctness
// never depends on the guard; it bounds duplicate work.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the in-memory guard.
const DefaultCapacity = 4096

// Guard marks keys busy for a window.
type Guard interface {
	// Acquire returns true and marks key busy for window if it was free.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release frees key early, e.g. after a failed attempt that should be
	// retried on the next tick.
	Release(ctx context.Context, key string) error
}

type entry struct {
	key     string
	expires time.Time
}

// InMemoryGuard is a bounded LRU of key expiries for a single process.
type InMemoryGuard struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	now      func() time.Time
}

type Option func(*InMemoryGuard)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *InMemoryGuard) {
		g.now = now
	}
}

// NewInMemoryGuard creates a guard holding at most capacity keys.
func NewInMemoryGuard(capacity int, opts ...Option) *InMemoryGuard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	g := &InMemoryGuard{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *InMemoryGuard) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if el, ok := g.entries[key]; ok {
		e := el.Value.(*entry)
		g.order.MoveToFront(el)
		if now.Before(e.expires) {
			return false, nil
		}
		e.expires = now.Add(window)
		return true, nil
	}

	g.entries[key] = g.order.PushFront(&entry{key: key, expires: now.Add(window)})
	for g.order.Len() > g.capacity {
		g.evictOldest()
	}
	return true, nil
}

func (g *InMemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if el, ok := g.entries[key]; ok {
		g.order.Remove(el)
		delete(g.entries, key)
	}
	return nil
}

// Len reports the number of tracked keys, expired or not.
func (g *InMemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

// evictOldest must be called while holding g.mu.
func (g *InMemoryGuard) evictOldest() {
	el := g.order.Back()
	if el == nil {
		return
	}
	g.order.Remove(el)
	delete(g.entries, el.Value.(*entry).key)
}
