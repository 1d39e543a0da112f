package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/keys"
)

func TestTrafficWorker_RecordPageviewUpdatesTotals(t *testing.T) {
	c := cache.NewMemoryCache()
	w := NewTrafficWorker(c, 1000, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	now := time.Now().UnixMilli()
	w.RecordPageview(now)
	w.RecordPageview(now + 1)

	require.Eventually(t, func() bool {
		raw, ok, err := c.Get(keys.DashboardTrafficTotal())
		return err == nil && ok && string(raw) == "2"
	}, time.Second, 5*time.Millisecond)

	raw, ok, err := c.Get(keys.DashboardTrafficLaunchTs())
	require.NoError(t, err)
	require.True(t, ok)
	var launch int64
	require.NoError(t, json.Unmarshal(raw, &launch))
	assert.Equal(t, int64(1000), launch)

	cancel()
	<-done
}

func TestTrafficWorker_IngestFeedsBucketEngine(t *testing.T) {
	c := cache.NewMemoryCache()
	w := NewTrafficWorker(c, 0, "")

	now := time.Now().UnixMilli()
	w.ingest(now)
	w.ingest(now + 10)

	raw, ok, err := c.Get(keys.DashboardTrafficToday())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(raw))
	assert.Equal(t, now+10, w.engine.LastProcessedMs())
}

func TestTrafficWorker_DroppedEventsDoNotBlockCaller(t *testing.T) {
	c := cache.NewMemoryCache()
	w := NewTrafficWorker(c, 0, "")
	// Fill the channel without a drain loop running; further sends must
	// not block the test goroutine.
	for i := 0; i < cap(w.events)+10; i++ {
		w.RecordPageview(int64(i))
	}
}

func TestTrafficWorker_WarmStartsFromSnapshotAndRepublishes(t *testing.T) {
	dir := t.TempDir()
	seed := cache.NewMemoryCache()
	seeder := NewTrafficWorker(seed, 0, dir)
	now := time.Now().UnixMilli()
	seeder.ingest(now)
	require.NoError(t, seeder.persistSnapshot())

	c := cache.NewMemoryCache()
	w := NewTrafficWorker(c, 0, dir)

	raw, ok, err := c.Get(keys.DashboardTrafficSeries(keys.Window1h))
	require.NoError(t, err)
	require.True(t, ok, "restored engine should republish its series immediately")
	assert.NotEmpty(t, raw)
	assert.Equal(t, now, w.engine.LastProcessedMs())
}
