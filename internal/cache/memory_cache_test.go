package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache()
	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("k", []byte("v"), 0))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestMemoryCache_TTLExpires(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set("k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must not be returned")
}

func TestMemoryCache_SetIfAbsent(t *testing.T) {
	c := NewMemoryCache()
	acquired, err := c.SetIfAbsent("lock:worker", []byte("owner-1"), time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = c.SetIfAbsent("lock:worker", []byte("owner-2"), time.Second)
	require.NoError(t, err)
	assert.False(t, acquired, "second acquirer must not win the lease")

	v, _, _ := c.Get("lock:worker")
	assert.Equal(t, "owner-1", string(v), "original owner must remain stored")
}

func TestMemoryCache_HashOps(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.HSet("h", "f1", []byte("a")))
	require.NoError(t, c.HSet("h", "f2", []byte("b")))

	v, ok, err := c.HGet("h", "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(v))

	all, err := c.HGetAll("h")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"f1": []byte("a"), "f2": []byte("b")}, all)

	require.NoError(t, c.HDel("h", "f1"))
	_, ok, err = c.HGet("h", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_SetOps(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.SAdd("s", "a"))
	require.NoError(t, c.SAdd("s", "b"))

	isMember, err := c.SIsMember("s", "a")
	require.NoError(t, err)
	assert.True(t, isMember)

	require.NoError(t, c.SRem("s", "a"))
	isMember, err = c.SIsMember("s", "a")
	require.NoError(t, err)
	assert.False(t, isMember)

	members, err := c.SMembers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestMemoryCache_ScanPrefix(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set("btc:a", []byte("1"), 0))
	require.NoError(t, c.Set("btc:b", []byte("2"), 0))
	require.NoError(t, c.Set("eth:c", []byte("3"), 0))

	var seen []string
	err := c.Scan("btc:", 10, func(key string) error {
		seen = append(seen, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"btc:a", "btc:b"}, seen)
}

func TestMemoryCache_ExpireUpdatesTTL(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set("k", []byte("v"), 0))
	ok, err := c.Expire("k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	time.Sleep(30 * time.Millisecond)
	_, ok2, _ := c.Get("k")
	assert.False(t, ok2)
}
