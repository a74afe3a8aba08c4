package cache

import (
	"context"
	"sync"
	"time"
)

// Config configures an in-memory cache.
type Config struct {
	DefaultTTL      time.Duration // TTL applied by Set (default: 10 minutes)
	CleanupInterval time.Duration // Interval for expired entry cleanup (default: 5 minutes)
	MaxItems        int           // Maximum number of entries (default: 1000)
	OnEviction      func(key string, value any)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL-bounded in-memory cache with background cleanup.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]entry
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Once
}

// New creates a cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		items:  make(map[string]entry),
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// Get retrieves a value. Expired entries are treated as missing.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.config.MaxItems {
		if _, exists := c.items[key]; !exists {
			c.evictOneLocked()
		}
	}
	c.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes a key.
func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	e, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()
	if ok && c.config.OnEviction != nil {
		c.config.OnEviction(key, e.value)
	}
}

// Size returns the number of entries, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closeMu.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

// evictOneLocked drops the entry closest to expiry. Caller holds the lock.
func (c *Cache) evictOneLocked() {
	var victim string
	var earliest time.Time
	for key, e := range c.items {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = key
			earliest = e.expiresAt
		}
	}
	if victim != "" {
		e := c.items[victim]
		delete(c.items, victim)
		if c.config.OnEviction != nil {
			c.config.OnEviction(victim, e.value)
		}
	}
}

func (c *Cache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *Cache) cleanupExpired() {
	now := time.Now()
	c.mu.Lock()
	var evicted []struct {
		key   string
		value any
	}
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, key)
			if c.config.OnEviction != nil {
				evicted = append(evicted, struct {
					key   string
					value any
				}{key, e.value})
			}
		}
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.config.OnEviction(e.key, e.value)
	}
}
