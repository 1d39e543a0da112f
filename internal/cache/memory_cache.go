package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	hash      map[string][]byte
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process, mutex-guarded Cache implementation. It
// satisfies the exact same atomicity contract as RedisCache for a single
// process, which makes it suitable both for unit tests that would
// otherwise need a live Redis and for single-process tools (e.g. a local
// warm-start dry run). It is not process-crossing and must not be used as
// the production backend for multi-worker deployments.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]*memEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]*memEntry)}
}

func (c *MemoryCache) getLocked(key string, now time.Time) (*memEntry, bool) {
	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(c.data, key)
		return nil, false
	}
	return e, true
}

func (c *MemoryCache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.value == nil {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	e := &memEntry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

func (c *MemoryCache) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.getLocked(key, time.Now()); ok {
		return false, nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	e := &memEntry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = e
	return true, nil
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Expire(key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok {
		return false, nil
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return true, nil
}

func (c *MemoryCache) HSet(key, field string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok {
		e = &memEntry{hash: make(map[string][]byte)}
		c.data[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	e.hash[field] = v
	return nil
}

func (c *MemoryCache) HGet(key, field string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.hash == nil {
		return nil, false, nil
	}
	v, ok := e.hash[field]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) HGetAll(key string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	out := make(map[string][]byte)
	if !ok || e.hash == nil {
		return out, nil
	}
	for k, v := range e.hash {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (c *MemoryCache) HDel(key, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.hash == nil {
		return nil
	}
	delete(e.hash, field)
	return nil
}

func (c *MemoryCache) SAdd(key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok {
		e = &memEntry{set: make(map[string]struct{})}
		c.data[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	return nil
}

func (c *MemoryCache) SRem(key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.set == nil {
		return nil
	}
	delete(e.set, member)
	return nil
}

func (c *MemoryCache) SIsMember(key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.set == nil {
		return false, nil
	}
	_, ok = e.set[member]
	return ok, nil
}

func (c *MemoryCache) SMembers(key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getLocked(key, time.Now())
	if !ok || e.set == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (c *MemoryCache) Scan(prefix string, batchSize int64, fn func(key string) error) error {
	c.mu.Lock()
	now := time.Now()
	keys := make([]string, 0)
	for k, e := range c.data {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}
