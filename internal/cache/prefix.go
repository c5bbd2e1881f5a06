package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

const (
	// MinPrefixLen is the shortest prefix worth caching; single characters
	// would hit for almost any query and return junk.
	MinPrefixLen = 2

	// DefaultPrefixTTL keeps typeahead results fresh without re-calling the
	// provider on every keystroke.
	DefaultPrefixTTL = time.Minute

	// DefaultPrefixCapacity bounds the prefix cache separately from the main
	// cache so near-duplicate autocomplete keys cannot pollute it.
	DefaultPrefixCapacity = 200
)

// PrefixCache memoizes typeahead-style results under normalized query
// prefixes. Same LRU mechanics as ResponseCache but with one fixed TTL.
type PrefixCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element

	now func() time.Time
}

type prefixEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// NewPrefixCache creates a PrefixCache. Zero arguments select the defaults.
func NewPrefixCache(capacity int, ttl time.Duration) *PrefixCache {
	if capacity <= 0 {
		capacity = DefaultPrefixCapacity
	}
	if ttl <= 0 {
		ttl = DefaultPrefixTTL
	}
	return &PrefixCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// NormalizePrefix lower-cases and trims a typeahead query so "Go " and "go"
// share a cache slot.
func NormalizePrefix(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Get returns the cached value for a prefix. Prefixes shorter than
// MinPrefixLen are never cached and always miss.
func (c *PrefixCache) Get(prefix string) (string, bool) {
	key := NormalizePrefix(prefix)
	if len(key) < MinPrefixLen {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	ent := elem.Value.(*prefixEntry)
	if c.now().After(ent.expiresAt) {
		c.ll.Remove(elem)
		delete(c.items, key)
		return "", false
	}

	c.ll.MoveToFront(elem)
	return ent.value, true
}

// Set stores a value under a normalized prefix
func (c *PrefixCache) Set(prefix, value string) {
	key := NormalizePrefix(prefix)
	if len(key) < MinPrefixLen {
		return
	}

	ent := &prefixEntry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
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
			delete(c.items, oldest.Value.(*prefixEntry).key)
		}
	}

	c.items[key] = c.ll.PushFront(ent)
}

// Len returns the current entry count
func (c *PrefixCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
