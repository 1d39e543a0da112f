// Package metrics holds the bucket/window width table (spec.md §3) and the
// concrete bucket.Engine constructors for every time-bucketed series kind
// the API layer serves.
package metrics

import (
	"time"

	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/keys"
)

func d(dur time.Duration) int64 { return int64(dur / time.Millisecond) }

// widthFor returns {bucket width, retention} in ms for a window name,
// matching spec.md §3's table (1h->10s, 24h->1min, 1w/1m->1h, 1y->1d, and
// 5y/10y/ever for the long-horizon difficulty/hashrate series).
func widthFor(w keys.Window) (bucketMs, windowMs int64) {
	switch w {
	case keys.Window1h:
		return d(10 * time.Second), d(time.Hour)
	case keys.Window24h:
		return d(time.Minute), d(24 * time.Hour)
	case keys.Window1w:
		return d(time.Hour), d(7 * 24 * time.Hour)
	case keys.Window1m:
		return d(time.Hour), d(30 * 24 * time.Hour)
	case keys.Window1y:
		return d(24 * time.Hour), d(365 * 24 * time.Hour)
	case keys.Window5y:
		return d(24 * time.Hour), d(5 * 365 * 24 * time.Hour)
	case keys.Window10y:
		return d(24 * time.Hour), d(10 * 365 * 24 * time.Hour)
	case keys.WindowEver:
		// "ever" still tumbles into daily buckets; only retention is
		// effectively unbounded (20 years is a practical ceiling so the
		// series doesn't grow without limit in memory).
		return d(24 * time.Hour), d(20 * 365 * 24 * time.Hour)
	default:
		return d(time.Hour), d(24 * time.Hour)
	}
}

func windowConfigs(windows []keys.Window, seriesKey func(keys.Window) string, openKeyPrefix string) []bucket.WindowConfig {
	cfgs := make([]bucket.WindowConfig, 0, len(windows))
	for _, w := range windows {
		bucketMs, windowMs := widthFor(w)
		cfgs = append(cfgs, bucket.WindowConfig{
			Name:       string(w),
			BucketMs:   bucketMs,
			WindowMs:   windowMs,
			PublishKey: seriesKey(w),
			OpenKey:    openKeyPrefix + ":" + string(w),
		})
	}
	return cfgs
}

// NewDashboardTrafficEngine builds the request-count bucket engine, fed by
// the traffic ingest worker on every pageview.
func NewDashboardTrafficEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window1h, keys.Window24h, keys.Window1w, keys.Window1m, keys.Window1y}
	cfgs := windowConfigs(windows, keys.DashboardTrafficSeries, keys.DashboardTrafficOpenBuckets())
	return bucket.NewEngine("dashboard_traffic", bucket.NewSumAccumulator, cfgs)
}

// NewBtcTxVolumeEngine builds the transaction BTC-volume bucket engine.
func NewBtcTxVolumeEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window1h, keys.Window24h, keys.Window1w, keys.Window1m, keys.Window1y}
	cfgs := windowConfigs(windows, keys.BtcTxVolumeSeries, keys.BtcTxVolumeOpenBuckets())
	return bucket.NewEngine("btc_tx_volume", bucket.NewSumAccumulator, cfgs)
}

// NewBtcTxCountEngine builds the transaction-count bucket engine that
// backs the "volume aggregate" view's 24h transaction count alongside
// NewBtcTxVolumeEngine's BTC sum, sharing the same window set.
func NewBtcTxCountEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window1h, keys.Window24h, keys.Window1w, keys.Window1m, keys.Window1y}
	cfgs := windowConfigs(windows, keys.BtcTxCountSeries, keys.BtcTxCountOpenBuckets())
	return bucket.NewEngine("btc_tx_count", bucket.NewSumAccumulator, cfgs)
}

// NewBtcTxFeesEngine builds the fee-rate (sat/vB) bucket engine.
func NewBtcTxFeesEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window24h, keys.Window1w, keys.Window1m, keys.Window1y}
	cfgs := windowConfigs(windows, keys.BtcTxFeesSeries, keys.BtcTxFeesOpenBuckets())
	return bucket.NewEngine("btc_tx_fees", bucket.NewRatioAccumulator, cfgs)
}

// NewDifficultyEngine builds the long-horizon difficulty bucket engine.
// Difficulty barely moves within a single day, so each bucket averages its
// samples (RatioAccumulator fed [value, 1]) rather than summing them —
// summing would inflate the series by however many blocks landed in that
// bucket.
func NewDifficultyEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window1y, keys.Window5y, keys.Window10y, keys.WindowEver}
	cfgs := windowConfigs(windows, keys.BtcDifficultySeries, "METRICS_BTC_DIFFICULTY_OPEN_BUCKETS")
	return bucket.NewEngine("difficulty", bucket.NewRatioAccumulator, cfgs)
}

// NewHashrateEngine builds the long-horizon hashrate bucket engine, also
// averaged per bucket for the same reason as NewDifficultyEngine.
func NewHashrateEngine() *bucket.Engine {
	windows := []keys.Window{keys.Window1y, keys.Window5y, keys.Window10y, keys.WindowEver}
	cfgs := windowConfigs(windows, keys.BtcHashrateSeries, "METRICS_BTC_HASHRATE_OPEN_BUCKETS")
	return bucket.NewEngine("hashrate", bucket.NewRatioAccumulator, cfgs)
}
