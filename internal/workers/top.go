package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/metrics"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/snapshot"
	"github.com/btcdash/aggregator/internal/topn"
	"github.com/btcdash/aggregator/internal/views"
)

// amountHistogram is the snapshot/publish shape for keys.BtcTxAmountHistory:
// a count per magnitude bucket over every txid the tracker has ever fetched,
// derived directly from the same newly-fetched batch that feeds the volume
// and fee engines (spec.md §4.5 step 6) rather than by re-reading the event
// log back, mirroring how those two engines are fed.
type amountHistogram struct {
	Buckets   map[string]int64 `json:"buckets"`
	UpdatedMs int64            `json:"updated_ms"`
}

// amountBucketBounds partitions BTC transaction values into the coarse
// magnitude bands a "tx amount histogram" dashboard widget plots; bounds are
// exclusive upper edges in BTC, and the last entry is the catch-all.
var amountBucketBounds = []struct {
	label string
	upper float64
}{
	{"<0.001", 0.001},
	{"0.001-0.01", 0.01},
	{"0.01-0.1", 0.1},
	{"0.1-1", 1},
	{"1-10", 10},
	{"10-100", 100},
	{"100+", 0},
}

func amountBucketLabel(btc float64) string {
	for _, b := range amountBucketBounds[:len(amountBucketBounds)-1] {
		if btc < b.upper {
			return b.label
		}
	}
	return amountBucketBounds[len(amountBucketBounds)-1].label
}

// TopWorker samples the live mempool, feeds new and evicted txids through
// the Top-N Tracker, and appends every newly-fetched entry to an event log
// (spec.md §4.5's worker paragraph); warmStart does not replay that log,
// and the engines below are fed from the same batch, not from the log.
// Every txid the tracker
// fetches for the first time also feeds the tx-volume, tx-count and
// tx-fee-rate Bucket Engines and the amount histogram exactly once, since
// re-polling the same still-unconfirmed txid every tick would double-count
// it. The volume/count engines' own 24h series back the "BTC_VOL" composite
// view (publishVolumeAggregate).
const (
	topSnapshotKind       = "btc_top_ever"
	volumeSnapshotKind    = "btc_tx_volume"
	feesSnapshotKind      = "btc_tx_fees"
	countSnapshotKind     = "btc_tx_count"
	histogramSnapshotKind = "btc_tx_amount_histogram"
	topSnapshotPeriod     = time.Minute
)

type TopWorker struct {
	rpc     *nodes.Client
	cache   cache.Cache
	tracker *topn.Tracker
	events  *snapshot.EventLog
	loop    *Loop

	volume *bucket.Engine
	fees   *bucket.Engine
	count  *bucket.Engine

	histogram          map[string]int64
	histogramUpdatedMs int64

	snapshotDir    string
	lastSnapshotAt time.Time
	logger         *log.Logger
}

// NewTopWorker constructs the Top-N tracker worker. events may be nil if
// this process doesn't persist newly-fetched entries (e.g. a read replica
// running the tracker purely in-memory for the mempool worker's join).
// snapshotDir may be empty to disable periodic persistence/warm-start.
func NewTopWorker(rpc *nodes.Client, c cache.Cache, tracker *topn.Tracker, events *snapshot.EventLog, lease *coordination.Lease, snapshotDir string) *TopWorker {
	w := &TopWorker{
		rpc:         rpc,
		cache:       c,
		tracker:     tracker,
		events:      events,
		volume:      metrics.NewBtcTxVolumeEngine(),
		fees:        metrics.NewBtcTxFeesEngine(),
		count:       metrics.NewBtcTxCountEngine(),
		histogram:   make(map[string]int64, len(amountBucketBounds)),
		snapshotDir: snapshotDir,
		logger:      log.NewModuleLogger(log.WorkerTop),
	}
	w.warmStart()
	// statsKey is left empty: Tracker.Publish below is the sole writer of
	// keys.BtcTopStats() (its own update-timestamp schema), so the generic
	// worker-health stats the Loop would otherwise publish there are
	// dropped rather than clobbering it.
	w.loop = NewLoop(log.WorkerTop, "worker.top", c, lease, time.Second, "", w.tick)
	return w
}

// warmStart restores the tracker's ever-seen list and the volume/fee
// engines from the newest on-disk snapshot, republishing immediately so
// readers see data before the first live tick completes (spec.md §4.6).
// The per-txid newly-fetched event log is left for on-demand audit reads
// (snapshot.EventLog.ReadFrom) rather than replayed here: RestoreEver
// alone is sufficient to resume the tracker's dedup/value state exactly.
func (w *TopWorker) warmStart() {
	if w.snapshotDir == "" {
		return
	}
	if entries, ok, err := snapshot.LoadLatestTopNSnapshot(w.snapshotDir, topSnapshotKind); err != nil {
		w.logger.Warn("failed to load top-n snapshot, starting cold", "err", err)
	} else if ok {
		w.tracker.RestoreEver(entries)
		if err := w.tracker.Publish(w.cache, keys.BtcTopTxs(), keys.BtcTopSeen(), keys.BtcTopStats(), time.Now().UnixMilli()); err != nil {
			w.logger.Warn("failed to republish restored top-n state", "err", err)
		}
	}
	restoreEngine := func(kind string, e *bucket.Engine) {
		snap, ok, err := snapshot.LoadLatestBucketSnapshot(w.snapshotDir, kind)
		if err != nil {
			w.logger.Warn("failed to load bucket snapshot", "kind", kind, "err", err)
			return
		}
		if !ok {
			return
		}
		snapshot.RestoreEngine(e, snap)
		if err := e.Publish(w.cache); err != nil {
			w.logger.Warn("failed to republish restored bucket series", "kind", kind, "err", err)
		}
	}
	restoreEngine(volumeSnapshotKind, w.volume)
	restoreEngine(feesSnapshotKind, w.fees)
	restoreEngine(countSnapshotKind, w.count)

	if raw, ok, err := snapshot.LoadLatestRaw(w.snapshotDir, histogramSnapshotKind); err != nil {
		w.logger.Warn("failed to load amount histogram snapshot", "err", err)
	} else if ok {
		var h amountHistogram
		if err := json.Unmarshal(raw, &h); err != nil {
			w.logger.Warn("failed to decode amount histogram snapshot", "err", err)
		} else {
			if h.Buckets != nil {
				w.histogram = h.Buckets
			}
			w.histogramUpdatedMs = h.UpdatedMs
			if err := w.publishHistogram(); err != nil {
				w.logger.Warn("failed to republish restored amount histogram", "err", err)
			}
		}
	}
}

// publishHistogram writes the current in-memory amount histogram to
// keys.BtcTxAmountHistory, same pattern as every other per-tick view.
func (w *TopWorker) publishHistogram() error {
	raw, err := json.Marshal(amountHistogram{Buckets: w.histogram, UpdatedMs: w.histogramUpdatedMs})
	if err != nil {
		return err
	}
	return w.cache.Set(keys.BtcTxAmountHistory(), raw, 0)
}

// sumHistory totals a window's finalized points, used to derive the
// volume-aggregate view's 24h rollups from the engines' own published
// series rather than re-deriving them independently.
func sumHistory(e *bucket.Engine, window string) float64 {
	var total float64
	for _, p := range e.History(window) {
		total += p.Y
	}
	return total
}

// persistSnapshots writes the tracker ever-list, the volume, fee and count
// bucket engines and the amount histogram to disk, throttled to topSnapshotPeriod since it's only needed for
// warm-start, not for serving reads.
func (w *TopWorker) persistSnapshots(now time.Time) error {
	if w.snapshotDir == "" || now.Sub(w.lastSnapshotAt) < topSnapshotPeriod {
		return nil
	}
	w.lastSnapshotAt = now
	nowMs := now.UnixMilli()
	if err := snapshot.WriteTopNSnapshot(w.snapshotDir, topSnapshotKind, w.tracker.Ever(), nowMs); err != nil {
		return err
	}
	if err := snapshot.WriteBucketSnapshot(w.snapshotDir, volumeSnapshotKind, snapshot.SnapshotEngine(w.volume)); err != nil {
		return err
	}
	if err := snapshot.WriteBucketSnapshot(w.snapshotDir, feesSnapshotKind, snapshot.SnapshotEngine(w.fees)); err != nil {
		return err
	}
	if err := snapshot.WriteBucketSnapshot(w.snapshotDir, countSnapshotKind, snapshot.SnapshotEngine(w.count)); err != nil {
		return err
	}
	histData, err := json.Marshal(amountHistogram{Buckets: w.histogram, UpdatedMs: w.histogramUpdatedMs})
	if err != nil {
		return err
	}
	return snapshot.WriteAtomic(snapshot.Path(w.snapshotDir, histogramSnapshotKind, nowMs), histData)
}

func (w *TopWorker) Run(ctx context.Context) { w.loop.Run(ctx) }

func (w *TopWorker) tick(ctx context.Context) error {
	start := time.Now()
	tickErr := w.runTick(ctx, start)
	if statsErr := w.publishStats(start, time.Since(start), tickErr); statsErr != nil {
		w.logger.Warn("failed to publish tx-volume worker stats", "err", statsErr)
	}
	return tickErr
}

// publishStats writes keys.BtcTxVolumeStats directly, since TopWorker's Loop
// is constructed with an empty statsKey (Tracker.Publish already owns
// keys.BtcTopStats and would be clobbered by the generic path).
func (w *TopWorker) publishStats(start time.Time, elapsed time.Duration, tickErr error) error {
	stats := views.WorkerStats{
		LastRunTsMs: start.UnixMilli(),
		ScanTimeMs:  elapsed.Milliseconds(),
	}
	if tickErr != nil {
		stats.LastError = tickErr.Error()
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return w.cache.Set(keys.BtcTxVolumeStats(), raw, 0)
}

func (w *TopWorker) runTick(ctx context.Context, now time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	mempool, err := w.rpc.GetRawMempoolVerbose(callCtx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(mempool))
	for id := range mempool {
		ids = append(ids, id)
	}

	newlyFetched, err := w.tracker.Tick(ids, now.UnixMilli(), func(id string) (float64, error) {
		tx, err := w.rpc.GetRawTransactionVerbose(callCtx, id)
		if err != nil {
			return 0, err
		}
		return tx.TotalOutputValue(), nil
	})
	if err != nil {
		return err
	}

	nowMs := now.UnixMilli()
	// Engine.Process drops any event whose timestamp doesn't strictly
	// advance its engine's watermark, so every entry in this tick's batch
	// needs its own distinct, increasing millisecond: stamping all of them
	// with the same nowMs would fold only the first one in and silently
	// drop the rest (undercounting volume/fees, worst on the very first
	// tick when every mempool txid is "newly fetched"). The 1ms-per-entry
	// drift this introduces is negligible against bucket widths measured
	// in minutes/hours.
	for i, e := range newlyFetched {
		if w.events != nil {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := w.events.Append(now, data); err != nil {
				return err
			}
		}
		tsMs := nowMs + int64(i)
		w.volume.Process(tsMs, e.BTCValue, e.BTCValue)
		w.count.Process(tsMs, 1, 1)
		w.histogram[amountBucketLabel(e.BTCValue)]++
		w.histogramUpdatedMs = tsMs
		if entry, ok := mempool[e.ID]; ok && entry.VSize > 0 {
			feeRate := entry.Fees.Base * 1e8 / float64(entry.VSize)
			w.fees.Process(tsMs, feeRate, entry.Fees.Base*1e8, float64(entry.VSize))
		}
	}
	if err := w.volume.IdleFlush(nowMs, w.cache); err != nil {
		return err
	}
	if err := w.fees.IdleFlush(nowMs, w.cache); err != nil {
		return err
	}
	if err := w.count.IdleFlush(nowMs, w.cache); err != nil {
		return err
	}
	if err := w.publishVolumeAggregate(nowMs); err != nil {
		return err
	}
	if err := w.publishHistogram(); err != nil {
		return err
	}
	if err := w.persistSnapshots(now); err != nil {
		return err
	}

	return w.tracker.Publish(w.cache, keys.BtcTopTxs(), keys.BtcTopSeen(), keys.BtcTopStats(), now.UnixMilli())
}

// publishVolumeAggregate derives the "BTC_VOL" composite view from the
// volume/count engines' own published 24h series, rather than tracking a
// separate running total, so it can never drift from what those series
// report.
func (w *TopWorker) publishVolumeAggregate(nowMs int64) error {
	volume24h := sumHistory(w.volume, string(keys.Window24h))
	count24h := sumHistory(w.count, string(keys.Window24h))
	agg := views.VolumeAggregate{
		IngestEpochMs: nowMs,
		Volume24hBTC:  volume24h,
		TxCount24h:    int64(count24h),
	}
	if count24h > 0 {
		agg.AvgTxValueBTC = volume24h / count24h
	}
	raw, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return w.cache.Set(keys.BtcVolDynamic(), raw, 0)
}
