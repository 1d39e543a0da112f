package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/topn"
)

func TestWriteAtomic_NoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "x.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"a":1}`)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful write")
}

func TestPath_SelectsDayFromDataTimestampNotWallClock(t *testing.T) {
	ts := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC).UnixMilli()
	p := Path("/snaps", "btc_tx_volume", ts)
	assert.Equal(t, filepath.Join("/snaps", "btc_tx_volume_2024-03-01.json"), p)
}

func TestBucketSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := bucket.NewEngine("test", bucket.NewSumAccumulator, []bucket.WindowConfig{
		{Name: "1h", BucketMs: 10, WindowMs: 1000, PublishKey: "series:1h"},
	})
	require.True(t, e.Process(5, 3.0, 3.0))
	require.NoError(t, e.IdleFlush(20, cache.NewMemoryCache()))

	openStart := int64(20)
	snap := CaptureBucketSnapshot(e, []string{"1h"}, map[string]int64{"1h": openStart}, map[string]map[string]float64{"1h": {"sum": 0}})
	require.NoError(t, WriteBucketSnapshot(dir, "test_kind", snap))

	loaded, ok, err := LoadLatestBucketSnapshot(dir, "test_kind")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.LastTsMs, loaded.LastTsMs)
	assert.Equal(t, snap.Buckets["1h"].History, loaded.Buckets["1h"].History)

	restored := bucket.NewEngine("test", bucket.NewSumAccumulator, []bucket.WindowConfig{
		{Name: "1h", BucketMs: 10, WindowMs: 1000, PublishKey: "series:1h"},
	})
	RestoreEngine(restored, loaded)
	assert.Equal(t, e.History("1h"), restored.History("1h"))
	assert.Equal(t, e.LastProcessedMs(), restored.LastProcessedMs())
}

func TestLoadLatestBucketSnapshot_PicksNewestDay(t *testing.T) {
	dir := t.TempDir()
	older := BucketSnapshot{LastTsMs: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}
	newer := BucketSnapshot{LastTsMs: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).UnixMilli()}
	require.NoError(t, WriteBucketSnapshot(dir, "k", older))
	require.NoError(t, WriteBucketSnapshot(dir, "k", newer))

	loaded, ok, err := LoadLatestBucketSnapshot(dir, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer.LastTsMs, loaded.LastTsMs)
}

func TestLoadLatestBucketSnapshot_MissingDir(t *testing.T) {
	_, ok, err := LoadLatestBucketSnapshot(filepath.Join(t.TempDir(), "nope"), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopNSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []topn.Entry{{ID: "a", BTCValue: 9, ObservedMs: 1}, {ID: "b", BTCValue: 5, ObservedMs: 2}}
	require.NoError(t, WriteTopNSnapshot(dir, "btc_top_ever", entries, 1000))

	loaded, ok, err := LoadLatestTopNSnapshot(dir, "btc_top_ever")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries, loaded)
}

func TestEventLog_AppendAndReadFrom(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir, "tx", 1000)
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ts, json.RawMessage(`{"id":"a"}`)))
	require.NoError(t, l.Append(ts.Add(time.Second), json.RawMessage(`{"id":"b"}`)))
	require.NoError(t, l.Close())

	recs, err := l.ReadFrom("2024-06-01", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ts.UnixMilli(), recs[0].TsMs)

	recs, err = l.ReadFrom("2024-06-01", ts.UnixMilli())
	require.NoError(t, err)
	require.Len(t, recs, 1, "seeking past last_ts_ms must skip already-replayed records")
}

func TestEventLog_DegradedMarkerRoutesWritesToSegment(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	l1 := NewEventLog(dir, "tx", 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, l1.Append(ts.Add(time.Duration(i)*time.Second), json.RawMessage(`{}`)))
	}
	require.NoError(t, l1.Close())

	// The day's plain log now holds 5 lines, not below the minimum of 3,
	// so a fresh EventLog on its own would resume it. Plant the day's
	// degraded marker: the fresh EventLog must then write to a segment
	// file instead.
	sentinel := filepath.Join(dir, "tx_2024-06-02.degraded")
	require.NoError(t, os.WriteFile(sentinel, []byte("x"), 0o644))

	l2 := NewEventLog(dir, "tx", 3)
	require.NoError(t, l2.Append(ts.Add(10*time.Second), json.RawMessage(`{}`)))
	assert.True(t, l2.Degraded())
	require.NoError(t, l2.Close())

	segPath := filepath.Join(dir, "tx_2024-06-02.segment-0000.jsonl")
	_, err := os.Stat(segPath)
	assert.NoError(t, err, "degraded day must write to a segment file")
}

func TestPruneOlderThan(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "tx_2020-01-01.jsonl")
	recent := filepath.Join(dir, "tx_2099-01-01.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("{}\n"), 0o644))

	require.NoError(t, PruneOlderThan(dir, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recent)
	assert.NoError(t, err)
}

func TestFilenameIndex_PutGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	idx, err := OpenFilenameIndex(dir)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put("btc_tx_volume", "2024-06-01", "btc_tx_volume_2024-06-01.json"))
	name, ok, err := idx.Get("btc_tx_volume", "2024-06-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "btc_tx_volume_2024-06-01.json", name)

	_, ok, err = idx.Get("btc_tx_volume", "2024-06-02")
	require.NoError(t, err)
	assert.False(t, ok)
}
