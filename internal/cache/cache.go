// Package cache implements the in-process memoization stores used by the ingestion pipeline.
package cache

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is a key/value memo without expiry. Values are shared; callers must not mutate them.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, v V)
	DeletePrefix(prefix string) int
	Clear()
	Len() int
}

type mapStore[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// NewMap returns an unbounded store
func NewMap[V any]() Store[V] {
	return &mapStore[V]{m: map[string]V{}}
}

func (s *mapStore[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *mapStore[V]) Set(key string, v V) {
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

func (s *mapStore[V]) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

func (s *mapStore[V]) Clear() {
	s.mu.Lock()
	s.m = map[string]V{}
	s.mu.Unlock()
}

func (s *mapStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

type lruStore[V any] struct {
	c *lru.Cache[string, V]
}

// NewLRU returns a store evicting the least recently used entry beyond size; size <= 0 means unbounded
func NewLRU[V any](size int) Store[V] {
	if size <= 0 {
		return NewMap[V]()
	}
	c, _ := lru.New[string, V](size)
	return &lruStore[V]{c: c}
}

func (s *lruStore[V]) Get(key string) (V, bool) { return s.c.Get(key) }
func (s *lruStore[V]) Set(key string, v V)      { s.c.Add(key, v) }
func (s *lruStore[V]) Clear()                   { s.c.Purge() }
func (s *lruStore[V]) Len() int                 { return s.c.Len() }

func (s *lruStore[V]) DeletePrefix(prefix string) int {
	n := 0
	for _, k := range s.c.Keys() {
		if strings.HasPrefix(k, prefix) && s.c.Remove(k) {
			n++
		}
	}
	return n
}

// Bounded stops accepting new keys once it holds max entries. Nothing is evicted;
// overwriting an existing key is still allowed.
type Bounded[V any] struct {
	mu      sync.RWMutex
	m       map[string]V
	max     int
	skipped uint64
}

func NewBounded[V any](max int) *Bounded[V] {
	if max <= 0 {
		max = 10000
	}
	return &Bounded[V]{m: make(map[string]V), max: max}
}

func (b *Bounded[V]) Get(key string) (V, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok
}

func (b *Bounded[V]) Set(key string, v V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.m[key]; !exists && len(b.m) >= b.max {
		b.skipped++
		return
	}
	b.m[key] = v
}

func (b *Bounded[V]) DeletePrefix(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.m {
		if strings.HasPrefix(k, prefix) {
			delete(b.m, k)
			n++
		}
	}
	return n
}

func (b *Bounded[V]) Clear() {
	b.mu.Lock()
	b.m = make(map[string]V)
	b.skipped = 0
	b.mu.Unlock()
}

func (b *Bounded[V]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.m)
}

func (b *Bounded[V]) Cap() int { return b.max }

// Skipped reports inserts dropped because the store was full
func (b *Bounded[V]) Skipped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.skipped
}

var _ Store[int] = (*Bounded[int])(nil)
