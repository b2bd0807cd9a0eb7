package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 支持 TTL 过期，访问时续期
// - 容量上限，满时淘汰最早过期的条目
// - 由调用方控制清理协程的生命周期
type LocalCache[V any] struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数
//   - ttl: 默认过期时间
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LocalCache[V]{
		data:    make(map[string]*cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// GetOrCreate 返回已有的值并续期，不存在时用 create 创建
func (c *LocalCache[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.data[key]; ok && !now.After(entry.expiresAt) {
		entry.expiresAt = now.Add(c.ttl)
		return entry.value
	}

	if len(c.data) >= c.maxSize {
		c.evictLocked(now)
	}

	value := create()
	c.data[key] = &cacheEntry[V]{value: value, expiresAt: now.Add(c.ttl)}
	return value
}

// Set 设置缓存值
func (c *LocalCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLocked(now)
	}
	c.data[key] = &cacheEntry[V]{value: value, expiresAt: now.Add(ttl)}
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len 当前条目数
func (c *LocalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Cleanup 删除过期条目，返回删除数量
func (c *LocalCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Run 定期清理过期条目，直到 ctx 结束
func (c *LocalCache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// evictLocked 先清理过期条目，仍然满时淘汰最早过期的一条
func (c *LocalCache[V]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			continue
		}
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.expiresAt
		}
	}
	if len(c.data) >= c.maxSize && oldestKey != "" {
		delete(c.data, oldestKey)
	}
}
