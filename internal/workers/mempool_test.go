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
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/topn"
	"github.com/btcdash/aggregator/internal/views"
)

func TestMempoolWorker_TickDerivesFeeRateAndWaitTime(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getmempoolinfo": nodes.MempoolInfo{Size: 9000, Bytes: 4_500_000, TotalFee: 0.45, MinFee: 0.00001},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	w := NewMempoolWorker(rpc, c, nil, nil)

	require.NoError(t, w.tick(context.Background()))

	raw, ok, err := c.Get(keys.MempoolDynamic())
	require.NoError(t, err)
	require.True(t, ok)
	var dyn views.MempoolDynamic
	require.NoError(t, json.Unmarshal(raw, &dyn))

	assert.Equal(t, int64(9000), dyn.Size)
	assert.InDelta(t, 0.45*1e8/4_500_000, dyn.AvgFeeRate, 1e-9)
	assert.Equal(t, int64(30), dyn.WaitMinutes) // floor(9000/3000)*10

	_, ok, err = c.Get(keys.MempoolDynamicSizeFee())
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = c.Get(keys.MempoolDynamicAvgTx())
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = c.Get(keys.MempoolDynamicWaitTime())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMempoolWorker_AverageTxValueJoinsTopTracker(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getmempoolinfo": nodes.MempoolInfo{Size: 100, Bytes: 50000, TotalFee: 0.01},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(3)
	_, err := tracker.Tick([]string{"a", "b"}, 1000, func(id string) (float64, error) {
		if id == "a" {
			return 10, nil
		}
		return 20, nil
	})
	require.NoError(t, err)

	w := NewMempoolWorker(rpc, c, tracker, nil)
	require.NoError(t, w.tick(context.Background()))

	raw, ok, err := c.Get(keys.MempoolDynamic())
	require.NoError(t, err)
	require.True(t, ok)
	var dyn views.MempoolDynamic
	require.NoError(t, json.Unmarshal(raw, &dyn))
	assert.InDelta(t, 15, dyn.AvgTxValueBTC, 1e-9)
}

func TestMempoolWorker_NilTrackerYieldsZeroAverage(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getmempoolinfo": nodes.MempoolInfo{Size: 10, Bytes: 1000, TotalFee: 0.001},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	w := NewMempoolWorker(rpc, c, nil, nil)
	require.NoError(t, w.tick(context.Background()))

	raw, _, err := c.Get(keys.MempoolDynamic())
	require.NoError(t, err)
	var dyn views.MempoolDynamic
	require.NoError(t, json.Unmarshal(raw, &dyn))
	assert.Equal(t, float64(0), dyn.AvgTxValueBTC)
}
