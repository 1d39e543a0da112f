package workers

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/snapshot"
	"github.com/btcdash/aggregator/internal/topn"
)

func TestTopWorker_TickFetchesAndPublishes(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getrawmempool": map[string]nodes.RawMempoolEntry{
			"tx1": {VSize: 200},
			"tx2": {VSize: 300},
		},
		"getrawtransaction": nodes.RawTransaction{
			TxID: "tx1",
			Vout: []nodes.RawTransactionVout{{Value: 7.5}},
		},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(5)
	w := NewTopWorker(rpc, c, tracker, nil, nil, "")

	require.NoError(t, w.tick(context.Background()))

	raw, ok, err := c.Get(keys.BtcTopTxs())
	require.NoError(t, err)
	require.True(t, ok)
	var entries []topn.Entry
	require.NoError(t, json.Unmarshal(raw, &entries))
	assert.Len(t, entries, 2)

	_, ok, err = c.Get(keys.BtcTopSeen())
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = c.Get(keys.BtcTopStats())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTopWorker_TickFoldsEveryNewlyFetchedEntryInBatch(t *testing.T) {
	tx1 := nodes.RawMempoolEntry{VSize: 100}
	tx1.Fees.Base = 0.00001 // 1000 sat -> 10 sat/vB
	tx2 := nodes.RawMempoolEntry{VSize: 200}
	tx2.Fees.Base = 0.00006 // 6000 sat -> 30 sat/vB

	srv := rpcTestServer(t, map[string]interface{}{
		"getrawmempool": map[string]nodes.RawMempoolEntry{"tx1": tx1, "tx2": tx2},
		// rpcTestServer dispatches by method name only, so every txid's
		// getrawtransaction response is this same 5 BTC output; that's fine
		// for this test, since summing two equal values against one is
		// still enough to distinguish "only the first counted" from "both
		// counted".
		"getrawtransaction": nodes.RawTransaction{
			TxID: "shared",
			Vout: []nodes.RawTransactionVout{{Value: 5}},
		},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(5)
	w := NewTopWorker(rpc, c, tracker, nil, nil, "")

	require.NoError(t, w.tick(context.Background()))

	_, volAcc := w.volume.OpenBucketState("1h")
	assert.InDelta(t, 10, volAcc["sum"], 1e-9,
		"both newly-fetched txids' BTC values must be summed into the bucket, not just the first")

	// btc_tx_fees has no 1h window, so read its shortest configured one.
	_, feeAcc := w.fees.OpenBucketState("24h")
	require.NotZero(t, feeAcc["denominator"])
	weightedRatio := feeAcc["numerator"] / feeAcc["denominator"]
	// (1000 sat + 6000 sat) / (100 vB + 200 vB), not just tx1's 10 sat/vB.
	assert.InDelta(t, 7000.0/300.0, weightedRatio, 1e-9,
		"fee ratio must be weighted across both entries, not just the first")
}

func TestTopWorker_AppendsNewlyFetchedToEventLog(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getrawmempool": map[string]nodes.RawMempoolEntry{
			"tx1": {VSize: 200},
		},
		"getrawtransaction": nodes.RawTransaction{TxID: "tx1", Vout: []nodes.RawTransactionVout{{Value: 1}}},
	})
	defer srv.Close()

	dir := t.TempDir()
	defer os.RemoveAll(dir)

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(5)
	events := snapshot.NewEventLog(dir, "top", 1)
	defer events.Close()

	w := NewTopWorker(rpc, c, tracker, events, nil, "")
	require.NoError(t, w.tick(context.Background()))

	recs, err := events.ReadFrom(time.Now().UTC().Format("2006-01-02"), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestTopWorker_WarmStartsEverListFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	seedEntries := []topn.Entry{{ID: "seed1", BTCValue: 42, ObservedMs: 1000}}
	require.NoError(t, snapshot.WriteTopNSnapshot(dir, "btc_top_ever", seedEntries, 1000))

	srv := rpcTestServer(t, map[string]interface{}{
		"getrawmempool":     map[string]nodes.RawMempoolEntry{},
		"getrawtransaction": nodes.RawTransaction{},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(5)
	_ = NewTopWorker(rpc, c, tracker, nil, nil, dir)

	assert.Equal(t, seedEntries, tracker.Ever())
	_, ok, err := c.Get(keys.BtcTopTxs())
	require.NoError(t, err)
	assert.True(t, ok, "warm start should republish keys.BtcTopTxs immediately")
}

func TestTopWorker_StatsKeyNotClobberedByLoopHealth(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getrawmempool":     map[string]nodes.RawMempoolEntry{},
		"getrawtransaction": nodes.RawTransaction{},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	tracker := topn.NewTracker(5)
	w := NewTopWorker(rpc, c, tracker, nil, nil, "")

	w.loop.runOnce(context.Background())

	raw, ok, err := c.Get(keys.BtcTopStats())
	require.NoError(t, err)
	require.True(t, ok)
	var stats struct {
		UpdatedMs int64 `json:"updated_ms"`
	}
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.NotZero(t, stats.UpdatedMs)
}
