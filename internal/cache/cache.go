// Package cache defines the shared, process-crossing key/value store
// (component A of the aggregation fabric) and its two implementations:
// a Redis-backed store for production and an in-process store for tests
// and single-process tools. Every ingest worker, bucket engine, top-N
// tracker and API handler talks to the cache only through this interface;
// nothing reaches for a concrete backend directly.
package cache

import (
	"time"
)

// Cache is the abstract capability described in spec §4.1. Implementations
// must make every operation safe to call concurrently from multiple
// processes; atomicity is guaranteed per-operation, not across calls.
type Cache interface {
	// Get performs a nonblocking point read. ok is false if the key is
	// absent or expired.
	Get(key string) (value []byte, ok bool, err error)

	// Set performs an unconditional write. A zero ttl means no expiry.
	Set(key string, value []byte, ttl time.Duration) error

	// SetIfAbsent atomically writes value only if key does not already
	// exist, returning true if the write happened. Used to acquire leases.
	SetIfAbsent(key string, value []byte, ttl time.Duration) (acquired bool, err error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// Expire sets a new TTL on an existing key. Returns false if the key
	// does not exist.
	Expire(key string, ttl time.Duration) (ok bool, err error)

	// HSet writes a single hash field.
	HSet(key, field string, value []byte) error
	// HGet reads a single hash field.
	HGet(key, field string) (value []byte, ok bool, err error)
	// HGetAll reads every field of a hash.
	HGetAll(key string) (map[string][]byte, error)
	// HDel removes a hash field.
	HDel(key, field string) error

	// SAdd adds a member to a set.
	SAdd(key, member string) error
	// SRem removes a member from a set.
	SRem(key, member string) error
	// SIsMember reports set membership.
	SIsMember(key, member string) (bool, error)
	// SMembers returns every member of a set.
	SMembers(key string) ([]string, error)

	// Scan enumerates keys with the given prefix in bounded batches,
	// invoking fn for each key. fn returning an error stops the scan and
	// the error propagates to the caller. Implementations must never load
	// the full keyspace into memory (no KEYS-style full scan).
	Scan(prefix string, batchSize int64, fn func(key string) error) error
}
