package cache

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type MemoryCache struct {
	data   map[string]*cacheItem
	mu     sync.RWMutex
	stopCh chan struct{}
	once   sync.Once
	now    func() time.Time
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts a background sweep that drops expired entries every
// sweepInterval, independent of reads.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	mc := &MemoryCache{
		data:   make(map[string]*cacheItem),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}

	go mc.cleanupExpired(sweepInterval)

	return mc
}

func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, exists := mc.data[key]
	if !exists || mc.expired(item) {
		return nil, ErrNotFound
	}

	return copyBytes(item.value), nil
}

func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.data[key] = &cacheItem{
		value:     copyBytes(value),
		expiresAt: mc.now().Add(ttl),
	}

	return nil
}

func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
	return nil
}

func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, exists := mc.data[key]
	if !exists || mc.expired(item) {
		return false, nil
	}

	return true, nil
}

func (mc *MemoryCache) Take(ctx context.Context, key string) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, exists := mc.data[key]
	if !exists {
		return nil, ErrNotFound
	}

	delete(mc.data, key)

	if mc.expired(item) {
		return nil, ErrNotFound
	}

	return item.value, nil
}

func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.data)
}

func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stopCh) })
	return nil
}

func (mc *MemoryCache) expired(item *cacheItem) bool {
	return !mc.now().Before(item.expiresAt)
}

func (mc *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for key, item := range mc.data {
		if mc.expired(item) {
			delete(mc.data, key)
		}
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
