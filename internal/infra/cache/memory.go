package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"wa-scheduler/internal/domain"
)

var _ domain.Cache = (*MemoryCache)(nil)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache — кэш в памяти процесса для запуска без Redis.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) live(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (c *MemoryCache) put(key string, value []byte, ttl time.Duration) {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = item
}

// Once выполняет функцию, если ключ ещё не задан.
func (c *MemoryCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, ok := c.live(key); ok {
		c.mu.Unlock()
		return nil
	}
	c.put(key, []byte("1"), ttl)
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, slices.Clone(value), ttl)
	return nil
}

// Get возвращает значение или ErrMiss.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.live(key)
	if !ok {
		return nil, ErrMiss
	}
	return slices.Clone(item.value), nil
}
