package settings

import (
	"sync"
	"time"
)

type cached[T any] struct {
	value  T
	loaded time.Time
}

// Cache is a write-through cache in front of a Store. Reads older than ttl
// go back to the store.
type Cache struct {
	store   Store
	ttl     time.Duration
	timeNow func() time.Time

	mu  sync.Mutex
	f32 map[string]cached[float32]
	u32 map[string]cached[uint32]
}

// NewCache wraps store. A non-positive ttl disables expiry.
func NewCache(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		timeNow: time.Now,
		f32:     make(map[string]cached[float32]),
		u32:     make(map[string]cached[uint32]),
	}
}

// WithClock replaces the clock used for expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.timeNow = now
	return c
}

func (c *Cache) fresh(loaded time.Time) bool {
	return c.ttl <= 0 || c.timeNow().Sub(loaded) < c.ttl
}

func (c *Cache) GetF32(key string, def float32) float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.f32[key]; ok && c.fresh(e.loaded) {
		return e.value
	}
	v := c.store.GetF32(key, def)
	c.f32[key] = cached[float32]{value: v, loaded: c.timeNow()}
	return v
}

func (c *Cache) GetU32(key string, def uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.u32[key]; ok && c.fresh(e.loaded) {
		return e.value
	}
	v := c.store.GetU32(key, def)
	c.u32[key] = cached[uint32]{value: v, loaded: c.timeNow()}
	return v
}

func (c *Cache) SetF32(key string, v float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SetF32(key, v); err != nil {
		delete(c.f32, key)
		return err
	}
	c.f32[key] = cached[float32]{value: v, loaded: c.timeNow()}
	return nil
}

func (c *Cache) SetU32(key string, v uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SetU32(key, v); err != nil {
		delete(c.u32, key)
		return err
	}
	c.u32[key] = cached[uint32]{value: v, loaded: c.timeNow()}
	return nil
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.f32 = make(map[string]cached[float32])
	c.u32 = make(map[string]cached[uint32])
}
