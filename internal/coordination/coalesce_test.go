package coordination

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/cache"
)

func TestCoalescer_ManyCallersOneFetch(t *testing.T) {
	c := cache.NewMemoryCache()
	var fetchCount int32

	cfg := CoalesceConfig{
		FreshKey: "fresh:x",
		LockKey:  "lock:x",
		LockTTL:  time.Second,
		CacheTTL: time.Minute,
		MaxWait:  2 * time.Second,
		WaitStep: 10 * time.Millisecond,
		Fetch: func() ([]byte, error) {
			atomic.AddInt32(&fetchCount, 1)
			time.Sleep(100 * time.Millisecond) // simulate upstream latency
			return []byte("the-value"), nil
		},
		Fallback: []byte(`{"error":"timeout"}`),
	}

	const n = 50
	results := make([][]byte, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			co := NewCoalescer(c, cfg, 0)
			v, ok, err := co.Resolve()
			require.NoError(t, err)
			require.True(t, ok)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, fetchCount, "exactly one upstream fetch for 50 concurrent callers")
	for i, r := range results {
		assert.Equal(t, "the-value", string(r), "result %d must match", i)
	}
}

func TestCoalescer_FallbackOnTimeout(t *testing.T) {
	c := cache.NewMemoryCache()
	block := make(chan struct{})
	defer close(block)

	cfg := CoalesceConfig{
		FreshKey: "fresh:y",
		LockKey:  "lock:y",
		LockTTL:  5 * time.Second,
		CacheTTL: time.Minute,
		MaxWait:  150 * time.Millisecond,
		WaitStep: 20 * time.Millisecond,
		Fetch: func() ([]byte, error) {
			<-block // never returns within the test
			return nil, nil
		},
		Fallback: []byte("fallback"),
	}

	// First caller takes the lease and blocks "fetching" forever (until
	// test cleanup). Second caller must hit tier 5 and time out.
	leaderDone := make(chan struct{})
	go func() {
		co := NewCoalescer(c, cfg, 0)
		_, _, _ = co.Resolve()
		close(leaderDone)
	}()
	time.Sleep(20 * time.Millisecond) // let the leader acquire the lock first

	co2 := NewCoalescer(c, cfg, 0)
	v, ok, err := co2.Resolve()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "fallback", string(v))
}

func TestCoalescer_StaleTierServesWhileRefreshing(t *testing.T) {
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set("stale:z", []byte("old-value"), time.Minute))

	var fetchCount int32
	cfg := CoalesceConfig{
		FreshKey: "fresh:z",
		StaleKey: "stale:z",
		LockKey:  "lock:z",
		LockTTL:  time.Second,
		CacheTTL: time.Minute,
		Fetch: func() ([]byte, error) {
			atomic.AddInt32(&fetchCount, 1)
			return []byte("new-value"), nil
		},
		Fallback: []byte("fallback"),
	}
	co := NewCoalescer(c, cfg, 0)
	v, ok, err := co.Resolve()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "old-value", string(v), "stale tier returns immediately without waiting for refresh")

	// Give the fire-and-forget refresh goroutine a moment to run.
	time.Sleep(50 * time.Millisecond)
	fresh, ok, err := c.Get("fresh:z")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new-value", string(fresh))
}
