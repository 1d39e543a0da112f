package workers

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/metrics"
	"github.com/btcdash/aggregator/internal/snapshot"
)

const trafficSnapshotKind = "dashboard_traffic"

// TrafficWorker ingests dashboard pageview events into the
// dashboard-request-count Bucket Engine (spec.md §4.3's "traffic worker").
// Unlike the upstream-polling workers it has no external source to call:
// the API layer pushes one event per request via RecordPageview, and the
// worker's loop only idle-flushes and publishes on a fixed tick, per the
// shape recovered from original_source/workers/info/dashboard_traffic.
type TrafficWorker struct {
	cache       cache.Cache
	engine      *bucket.Engine
	logger      *log.Logger
	snapshotDir string

	events chan int64

	total    int64
	today    int64
	todayDay string
	launchTs int64
}

// NewTrafficWorker constructs the traffic worker. launchTs is the fixed
// epoch-ms instant the dashboard itself went live, published verbatim so
// clients can compute "since launch" totals without a second round trip.
// snapshotDir may be empty to disable snapshot persistence/warm-start
// (e.g. in tests); a non-empty dir is checked for an existing snapshot at
// construction time, restored into the engine, and republished
// immediately per spec.md §4.6's warm-start rule.
func NewTrafficWorker(c cache.Cache, launchTs int64, snapshotDir string) *TrafficWorker {
	w := &TrafficWorker{
		cache:       c,
		engine:      metrics.NewDashboardTrafficEngine(),
		logger:      log.NewModuleLogger(log.WorkerTraffic),
		events:      make(chan int64, 1024),
		launchTs:    launchTs,
		snapshotDir: snapshotDir,
	}
	w.warmStart()
	return w
}

func (w *TrafficWorker) warmStart() {
	if w.snapshotDir == "" {
		return
	}
	snap, ok, err := snapshot.LoadLatestBucketSnapshot(w.snapshotDir, trafficSnapshotKind)
	if err != nil {
		w.logger.Warn("failed to load traffic snapshot, starting cold", "err", err)
		return
	}
	if !ok {
		return
	}
	snapshot.RestoreEngine(w.engine, snap)
	if err := w.engine.Publish(w.cache); err != nil {
		w.logger.Warn("failed to republish restored traffic series", "err", err)
	}
	w.logger.Info("restored traffic engine from snapshot", "last_ts_ms", snap.LastTsMs)
}

// RecordPageview enqueues one pageview event at ts (epoch ms). Safe to call
// from any goroutine; never blocks the caller except under sustained
// overload of the buffered channel, in which case the event is dropped
// rather than stalling the HTTP handler.
func (w *TrafficWorker) RecordPageview(tsMs int64) {
	select {
	case w.events <- tsMs:
	default:
		w.logger.Warn("dropping pageview event, ingest channel full")
	}
}

func (w *TrafficWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	if err := w.cache.Set(keys.DashboardTrafficLaunchTs(), []byte(jsonInt(w.launchTs)), 0); err != nil {
		w.logger.Error("failed to publish launch timestamp", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-w.events:
			w.ingest(ts)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *TrafficWorker) ingest(tsMs int64) {
	if !w.engine.Process(tsMs, 1, 1) {
		return
	}
	atomic.AddInt64(&w.total, 1)

	day := dayKeyUTC(tsMs)
	if day != w.todayDay {
		w.todayDay = day
		atomic.StoreInt64(&w.today, 0)
	}
	atomic.AddInt64(&w.today, 1)

	if err := w.cache.Set(keys.DashboardTrafficTotal(), []byte(jsonInt(atomic.LoadInt64(&w.total))), 0); err != nil {
		w.logger.Error("failed to publish traffic total", "err", err)
	}
	if err := w.cache.Set(keys.DashboardTrafficToday(), []byte(jsonInt(atomic.LoadInt64(&w.today))), 0); err != nil {
		w.logger.Error("failed to publish traffic today count", "err", err)
	}
	if err := w.cache.Set(keys.DashboardTrafficDay(), []byte(`"`+day+`"`), 0); err != nil {
		w.logger.Error("failed to publish traffic day marker", "err", err)
	}
	if err := w.cache.Set(keys.DashboardTrafficLastTs(), []byte(jsonInt(tsMs)), 0); err != nil {
		w.logger.Error("failed to publish traffic last-seen timestamp", "err", err)
	}
}

func (w *TrafficWorker) flush() {
	start := time.Now()
	nowMs := start.UnixMilli()
	err := w.engine.IdleFlush(nowMs, w.cache)
	if err == nil {
		err = w.persistSnapshot()
	}
	elapsed := time.Since(start)
	if err != nil {
		w.logger.Warn("traffic engine publish failed", "err", err, "elapsed", elapsed)
	}
	w.publishStats(start, elapsed, err)
}

// persistSnapshot writes the engine's current state to disk, per spec.md
// §4.6 so a restarted process can warm-start instead of resetting every
// series to empty.
func (w *TrafficWorker) persistSnapshot() error {
	if w.snapshotDir == "" {
		return nil
	}
	return snapshot.WriteBucketSnapshot(w.snapshotDir, trafficSnapshotKind, snapshot.SnapshotEngine(w.engine))
}

func (w *TrafficWorker) publishStats(start time.Time, elapsed time.Duration, tickErr error) {
	stats := struct {
		LastRunTsMs int64  `json:"last_run_ts_ms"`
		ScanTimeMs  int64  `json:"scan_time_ms"`
		LastError   string `json:"last_error,omitempty"`
	}{LastRunTsMs: start.UnixMilli(), ScanTimeMs: elapsed.Milliseconds()}
	if tickErr != nil {
		stats.LastError = tickErr.Error()
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		w.logger.Error("failed to marshal traffic worker stats", "err", err)
		return
	}
	if err := w.cache.Set(keys.DashboardTrafficStats(), raw, 0); err != nil {
		w.logger.Error("failed to publish traffic worker stats", "err", err)
	}
}

func dayKeyUTC(tsMs int64) string {
	return time.UnixMilli(tsMs).UTC().Format("2006-01-02")
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
