package cache

import (
	"errors"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.Cache)

// RedisCache is the production Cache backend. It is a thin, crash-only
// wrapper around go-redis/v7: every method maps directly onto one Redis
// command so the atomicity guarantees of spec §4.1 fall out of Redis's own
// per-command atomicity rather than anything this package adds.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr (host:port) eagerly and returns an error if the
// server does not answer a PING (dial timeout 5s, read timeout 3s, as set
// below).
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	logger.Info("connected to redis", "addr", addr, "db", db)
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(key string) ([]byte, bool, error) {
	v, err := c.client.Get(key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	return c.client.Set(key, value, ttl).Err()
}

func (c *RedisCache) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *RedisCache) Delete(key string) error {
	return c.client.Del(key).Err()
}

func (c *RedisCache) Expire(key string, ttl time.Duration) (bool, error) {
	return c.client.Expire(key, ttl).Result()
}

func (c *RedisCache) HSet(key, field string, value []byte) error {
	return c.client.HSet(key, field, value).Err()
}

func (c *RedisCache) HGet(key, field string) ([]byte, bool, error) {
	v, err := c.client.HGet(key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) HGetAll(key string) (map[string][]byte, error) {
	m, err := c.client.HGetAll(key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (c *RedisCache) HDel(key, field string) error {
	return c.client.HDel(key, field).Err()
}

func (c *RedisCache) SAdd(key, member string) error {
	return c.client.SAdd(key, member).Err()
}

func (c *RedisCache) SRem(key, member string) error {
	return c.client.SRem(key, member).Err()
}

func (c *RedisCache) SIsMember(key, member string) (bool, error) {
	return c.client.SIsMember(key, member).Result()
}

func (c *RedisCache) SMembers(key string) ([]string, error) {
	return c.client.SMembers(key).Result()
}

// Scan enumerates keys matching "prefix*" using the cursor-based SCAN
// command, never KEYS, so a large keyspace never blocks the server.
func (c *RedisCache) Scan(prefix string, batchSize int64, fn func(key string) error) error {
	var cursor uint64
	match := prefix + "*"
	for {
		keys, next, err := c.client.Scan(cursor, match, batchSize).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
