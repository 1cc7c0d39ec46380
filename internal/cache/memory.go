package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 512

// MemoryClient is an in-process LRU cache bounded by entry count and,
// optionally, by the total size of stored values. Expired entries are
// dropped when touched or when they reach the cold end of the list.
type MemoryClient struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front is most recently used
	size       int64
	maxEntries int
	maxBytes   int64
	now        func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryClient.
type MemoryOption func(*MemoryClient)

// WithMaxBytes bounds the summed size of cached values. Zero disables it.
func WithMaxBytes(n int64) MemoryOption {
	return func(c *MemoryClient) {
		c.maxBytes = n
	}
}

// NewMemoryClient creates a cache holding at most maxEntries values.
func NewMemoryClient(maxEntries int, opts ...MemoryOption) *MemoryClient {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &MemoryClient{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if c.expired(entry) {
		c.remove(el)
		return nil, ErrCacheMiss
	}

	c.order.MoveToFront(el)
	return entry.value, nil
}

// Set stores value. A value larger than the byte budget is not cached.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	if c.maxBytes > 0 && int64(len(value)) > c.maxBytes {
		return nil
	}

	entry := &memoryEntry{key: key, value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = c.order.PushFront(entry)
	c.size += int64(len(value))

	for len(c.items) > c.maxEntries || (c.maxBytes > 0 && c.size > c.maxBytes) {
		c.remove(c.order.Back())
	}
	return nil
}

func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	return nil
}

// Close is a no-op; the memory cache holds no external resources.
func (c *MemoryClient) Close() error {
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the summed length of stored values.
func (c *MemoryClient) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *MemoryClient) expired(e *memoryEntry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *MemoryClient) remove(el *list.Element) {
	entry := c.order.Remove(el).(*memoryEntry)
	delete(c.items, entry.key)
	c.size -= int64(len(entry.value))
}
