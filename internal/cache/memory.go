package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with per-key expiry.
type MemoryProvider struct {
	mu   sync.RWMutex
	data map[string]item
	now  func() time.Time
}

type item struct {
	value     []byte
	expiresAt time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]item), now: time.Now}
}

// Get retrieves a copy of the value if present and not expired.
func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	it, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || it.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.newItem(value, ttl)
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (c *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.data[key]; ok && !it.expired(c.now()) {
		return false, nil
	}
	c.data[key] = c.newItem(value, ttl)
	return true, nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Flush removes every key with the prefix. An empty prefix clears the cache.
func (c *MemoryProvider) Flush(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live entries.
func (c *MemoryProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	n := 0
	for _, it := range c.data {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// Close is a no-op.
func (c *MemoryProvider) Close() error { return nil }

func (c *MemoryProvider) newItem(value []byte, ttl time.Duration) item {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	return item{value: append([]byte(nil), value...), expiresAt: expires}
}
