package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxEntries      = 1000
	defaultCleanupInterval = time.Minute
)

type entry struct {
	v    []byte
	exp  time.Time
	used time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithMaxEntries caps the number of stored entries. When full, expired
// entries are dropped first, then the least recently used one.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// MemoryCache is an in-process Cache. Values are stored encoded so callers
// never share memory with the cache. A background sweep removes expired
// entries until Close is called.
type MemoryCache struct {
	mu              sync.Mutex
	m               map[string]entry
	now             func() time.Time
	maxEntries      int
	cleanupInterval time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		m:               make(map[string]entry),
		now:             time.Now,
		maxEntries:      defaultMaxEntries,
		cleanupInterval: defaultCleanupInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanupLoop()
	return c
}

func (c *MemoryCache) cleanupLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries and returns how many were dropped
func (c *MemoryCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *MemoryCache) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range c.m {
		if e.expired(now) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

func (c *MemoryCache) evictLRULocked() {
	var oldest string
	var oldestAt time.Time
	first := true
	for k, e := range c.m {
		if first || e.used.Before(oldestAt) {
			oldest, oldestAt, first = k, e.used, false
		}
	}
	if !first {
		delete(c.m, oldest)
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	now := c.now()
	e, ok := c.m[key]
	if ok && e.expired(now) {
		delete(c.m, key)
		ok = false
	}
	if ok {
		e.used = now
		c.m[key] = e
	}
	c.mu.Unlock()

	if !ok {
		record("memory", false)
		return false, nil
	}
	if err := json.Unmarshal(e.v, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	record("memory", true)
	return true, nil
}

// Set stores value under key. A ttl <= 0 never expires.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	if _, exists := c.m[key]; !exists && len(c.m) >= c.maxEntries {
		if c.sweepLocked(now) == 0 {
			c.evictLRULocked()
		}
	}
	c.m[key] = entry{v: b, exp: exp, used: now}
	return nil
}

// Len returns the number of stored entries, expired ones not yet swept included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Close stops the background sweep. It is safe to call more than once.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}
