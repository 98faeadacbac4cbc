package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value    []byte
	expireAt time.Time
	// lock is the owner token for entries created by TryLock.
	lock string
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.After(e.expireAt)
}

// MemoryCache implements Service in process on a size-bounded LRU. Locks
// taken here are only visible to this process.
type MemoryCache struct {
	// mu serializes the check-then-set of TryLock and Unlock; the LRU is
	// safe for single operations on its own.
	mu    sync.Mutex
	items *lru.Cache[string, *memoryEntry]
	now   func() time.Time

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := MemoryConfig{MaxSize: 1000, CleanupInterval: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	// lru.New only fails for a non-positive size, which the options rule out.
	items, _ := lru.New[string, *memoryEntry](cfg.MaxSize)
	mc := &MemoryCache{
		items:  items,
		now:    time.Now,
		ticker: time.NewTicker(cfg.CleanupInterval),
		done:   make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	mc.items.Add(key, &memoryEntry{value: data, expireAt: mc.now().Add(ttlOrDefault(expiration))})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	e, ok := mc.items.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	if e.expired(mc.now()) {
		mc.items.Remove(key)
		return ErrCacheMiss
	}
	return json.Unmarshal(e.value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		mc.items.Remove(key)
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for _, key := range mc.items.Keys() {
		if strings.HasPrefix(key, prefix) {
			mc.items.Remove(key)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	for _, key := range keys {
		if mc.live(key) != nil {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.live(key) != nil {
		return false, nil
	}
	mc.items.Add(key, &memoryEntry{
		value:    []byte(`"locked"`),
		expireAt: mc.now().Add(ttlOrDefault(ttl)),
		lock:     newLockToken(),
	})
	return true, nil
}

// Unlock removes key only while it is still a lock entry.
func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if e, ok := mc.items.Peek(key); ok && e.lock != "" {
		mc.items.Remove(key)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	return mc.items.Len()
}

// live returns the unexpired entry for key without touching its recency.
func (mc *MemoryCache) live(key string) *memoryEntry {
	e, ok := mc.items.Peek(key)
	if !ok {
		return nil
	}
	if e.expired(mc.now()) {
		mc.items.Remove(key)
		return nil
	}
	return e
}

func (mc *MemoryCache) sweep() {
	now := mc.now()
	for _, key := range mc.items.Keys() {
		if e, ok := mc.items.Peek(key); ok && e.expired(now) {
			mc.items.Remove(key)
		}
	}
}

func (mc *MemoryCache) sweepLoop() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.ticker.C:
			mc.sweep()
		}
	}
}

// Close stops the sweeper. The cache stays usable.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}
