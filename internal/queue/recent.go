package queue

import (
	"container/list"
	"sync"
)

// RecentCache is a bounded set of permalinks. When full, the oldest
// inserted key is evicted first. It is a fast path only; the store's
// dedup window stays authoritative.
type RecentCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	keys  map[string]*list.Element
}

func NewRecentCache(capacity int) *RecentCache {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentCache{cap: capacity, order: list.New(), keys: make(map[string]*list.Element, capacity)}
}

// Add inserts key. Re-adding a present key does not refresh its position.
func (c *RecentCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return
	}
	c.keys[key] = c.order.PushBack(key)
	for c.order.Len() > c.cap {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.keys, oldest.Value.(string))
	}
}

func (c *RecentCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

func (c *RecentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
