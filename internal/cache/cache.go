// Package cache provides in-process memoization of provider responses: a
// capacity-bounded LRU keyed by (task, prompt) with per-task TTL classes, and
// a short-lived prefix cache for typeahead queries.
package cache

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/candorhq/go-candor-ai/internal/routing"
)

// DefaultCapacity bounds the main response cache when no capacity is configured.
const DefaultCapacity = 500

// ResponseCache is a TTL-bucketed LRU cache of provider responses. A hit
// re-inserts the entry at the freshest position; expired entries are treated
// as absent at read time, no background sweeper required.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	ttlFor   func(routing.TaskType) time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now func() time.Time // injectable for tests
}

type entry struct {
	key       string
	task      routing.TaskType
	value     string
	createdAt time.Time
	expiresAt time.Time
}

// New creates a ResponseCache with the given capacity. ttlFor maps each task
// type to its TTL class; it must return a positive duration for known tasks.
func New(capacity int, ttlFor func(routing.TaskType) time.Duration) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		ttlFor:   ttlFor,
		now:      time.Now,
	}
}

// Key computes a stable hash over (task, prompt), so identical prompts for
// the same task always hit.
func Key(task routing.TaskType, prompt string) string {
	h := sha256.New()
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached value for (task, prompt) if present and fresh.
func (c *ResponseCache) Get(task routing.TaskType, prompt string) (string, bool) {
	key := Key(task, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return "", false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		// Lazy expiry: a present-but-stale entry is absent
		c.ll.Remove(elem)
		delete(c.items, key)
		c.misses.Add(1)
		return "", false
	}

	c.ll.MoveToFront(elem)
	c.hits.Add(1)
	return ent.value, true
}

// Set stores a value under (task, prompt), evicting the least recently used
// entry when the cache is at capacity.
func (c *ResponseCache) Set(task routing.TaskType, prompt, value string) {
	key := Key(task, prompt)
	now := c.now()
	ent := &entry{
		key:       key,
		task:      task,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttlFor(task)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value = ent
		c.ll.MoveToFront(elem)
		return
	}

	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
			c.evictions.Add(1)
		}
	}

	c.items[key] = c.ll.PushFront(ent)
}

// ClearByTaskType removes every entry for the given task and returns the
// number removed. Administrative cache busting only; there is no cross-task
// invalidation on writes.
func (c *ResponseCache) ClearByTaskType(task routing.TaskType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.ll.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if ent.task == task {
			c.ll.Remove(elem)
			delete(c.items, ent.key)
			removed++
		}
		elem = next
	}
	return removed
}

// Len returns the current entry count
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats describes cache effectiveness for status introspection.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats returns a snapshot of cache counters
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	entries := c.ll.Len()
	c.mu.Unlock()

	return Stats{
		Entries:   entries,
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
