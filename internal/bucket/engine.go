// Package bucket implements component D: multi-resolution tumbling-bucket
// aggregators with warm-start support (spec.md §4.4). One Engine handles
// one metric kind across several parallel windows (e.g. tx volume over
// 1h/24h/1w/1m/1y).
package bucket

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.Bucket)

// Point is one published {x,y} sample: a bucket's start time in epoch
// milliseconds and its derived value.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// WindowConfig describes one resolution of a metric's series, per the
// bucket-width table in spec.md §3.
type WindowConfig struct {
	Name       string
	BucketMs   int64
	WindowMs   int64
	PublishKey string
	OpenKey    string
}

type windowState struct {
	cfg WindowConfig
	acc Accumulator

	mu             sync.Mutex
	curBucketStart int64 // -1 means unset
	history        []Point
}

func newWindowState(cfg WindowConfig, factory AccumulatorFactory) *windowState {
	return &windowState{cfg: cfg, acc: factory(), curBucketStart: -1}
}

func floorAlign(tsMs, bucketMs int64) int64 {
	if bucketMs <= 0 {
		return tsMs
	}
	q := tsMs / bucketMs
	if tsMs%bucketMs != 0 && tsMs < 0 {
		q--
	}
	return q * bucketMs
}

// fold applies one already-validated observation to this window's current
// bucket, finalizing and advancing as needed. Caller holds no lock; fold
// takes its own.
func (w *windowState) fold(tsMs int64, parts []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := floorAlign(tsMs, w.cfg.BucketMs)
	if w.curBucketStart < 0 {
		w.curBucketStart = b
	}
	switch {
	case b == w.curBucketStart:
		w.acc.Add(parts...)
	case b > w.curBucketStart:
		w.finalizeLocked()
		w.curBucketStart = b
		w.acc.Add(parts...)
	default:
		// Out-of-order relative to this window's bucket alignment; the
		// engine-level last-processed-ms check already drops strictly
		// out-of-order events, so this branch should be unreachable in
		// practice. Drop defensively rather than corrupt history.
		logger.Warn("dropping event older than current bucket", "window", w.cfg.Name, "bucket", b, "cur", w.curBucketStart)
	}
}

// finalizeLocked appends the current bucket to history (if it has any
// data), resets the accumulator, and trims history to the retention
// window. Caller must hold w.mu.
func (w *windowState) finalizeLocked() {
	if w.acc.HasData() {
		w.appendOrOverwriteLocked(Point{X: w.curBucketStart, Y: w.acc.Value()})
	}
	w.acc.Reset()
}

func (w *windowState) appendOrOverwriteLocked(p Point) {
	n := len(w.history)
	if n > 0 && w.history[n-1].X == p.X {
		w.history[n-1] = p
	} else {
		w.history = append(w.history, p)
	}
	w.trimLocked()
}

func (w *windowState) trimLocked() {
	n := len(w.history)
	if n == 0 {
		return
	}
	latest := w.history[n-1].X
	cutoff := latest - w.cfg.WindowMs
	i := sort.Search(n, func(i int) bool { return w.history[i].X >= cutoff })
	if i > 0 {
		w.history = append([]Point(nil), w.history[i:]...)
	}
}

// idleFlush finalizes the current bucket if wall-clock has moved past it,
// per spec.md §4.4's idle-flush rule. The new bucket start is nowMs
// floor-aligned to the bucket width; buckets strictly between the old and new bucket start are
// simply absent from history (no zero-fill), matching spec.md's
// "contains no bucket older than window_ms" invariant without requiring a
// fixed-width entry for every tick.
func (w *windowState) idleFlush(nowMs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curBucketStart < 0 {
		return
	}
	if nowMs < w.curBucketStart+w.cfg.BucketMs {
		return
	}
	w.finalizeLocked()
	w.curBucketStart = floorAlign(nowMs, w.cfg.BucketMs)
}

func (w *windowState) snapshotHistoryLocked() []Point {
	out := make([]Point, len(w.history))
	copy(out, w.history)
	return out
}

// publish writes the trimmed history and the open-bucket state to the
// cache, per spec.md §4.4's publication rule.
func (w *windowState) publish(c cache.Cache) error {
	w.mu.Lock()
	history := w.snapshotHistoryLocked()
	open := openBucketState{
		CurBucketStart: w.curBucketStart,
		Accumulator:    w.acc.Snapshot(),
	}
	w.mu.Unlock()

	payload, err := json.Marshal(history)
	if err != nil {
		return err
	}
	if err := c.Set(w.cfg.PublishKey, payload, 0); err != nil {
		return err
	}
	if w.cfg.OpenKey == "" {
		return nil
	}
	openPayload, err := json.Marshal(open)
	if err != nil {
		return err
	}
	return c.Set(w.cfg.OpenKey, openPayload, 0)
}

type openBucketState struct {
	CurBucketStart int64              `json:"cur_bucket_start"`
	Accumulator    map[string]float64 `json:"accumulator_fields"`
}

// Engine aggregates one metric kind across multiple windows. All windows
// share one global last-processed-timestamp watermark for idempotence and
// ordering (spec.md §4.4/§5): an event's timestamp need only be compared
// once, not once per window.
type Engine struct {
	name    string
	factory AccumulatorFactory
	windows map[string]*windowState
	order   []string // window names in construction order, for snapshotting

	mu              sync.Mutex
	lastProcessedMs int64
}

// NewEngine constructs an Engine for one metric kind with the given
// per-window configs and accumulator factory (NewSumAccumulator or
// NewRatioAccumulator, typically).
func NewEngine(name string, factory AccumulatorFactory, windows []WindowConfig) *Engine {
	e := &Engine{
		name:    name,
		factory: factory,
		windows: make(map[string]*windowState, len(windows)),
	}
	for _, w := range windows {
		e.windows[w.Name] = newWindowState(w, factory)
		e.order = append(e.order, w.Name)
	}
	return e
}

// Process validates and folds one event into every configured window.
// primary is the value checked against the "observation <= 0" drop rule
// (spec.md §4.4); parts are passed through to the accumulator (for a
// ratio accumulator this is [numeratorPart, denominatorPart]; for a sum
// accumulator it is simply [primary]). Returns true if the event was
// accepted (not dropped as a duplicate/out-of-order/non-positive event).
func (e *Engine) Process(tsMs int64, primary float64, parts ...float64) bool {
	e.mu.Lock()
	if tsMs <= e.lastProcessedMs {
		e.mu.Unlock()
		return false
	}
	if primary <= 0 {
		e.mu.Unlock()
		return false
	}
	e.lastProcessedMs = tsMs
	e.mu.Unlock()

	for _, name := range e.order {
		e.windows[name].fold(tsMs, parts)
	}
	return true
}

// LastProcessedMs returns the watermark used for idempotence/ordering.
func (e *Engine) LastProcessedMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastProcessedMs
}

// SetLastProcessedMs seeds the watermark, used on warm-start to resume
// exactly where a snapshot left off (spec.md §4.6).
func (e *Engine) SetLastProcessedMs(ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts > e.lastProcessedMs {
		e.lastProcessedMs = ts
	}
}

// IdleFlush finalizes any window whose current bucket the wall clock has
// moved past, then publishes every window. Call this once per worker loop
// tick even when no new events arrived.
func (e *Engine) IdleFlush(nowMs int64, c cache.Cache) error {
	for _, name := range e.order {
		e.windows[name].idleFlush(nowMs)
	}
	return e.Publish(c)
}

// Publish writes every window's series and open-bucket state to the cache.
func (e *Engine) Publish(c cache.Cache) error {
	for _, name := range e.order {
		if err := e.windows[name].publish(c); err != nil {
			return err
		}
	}
	return nil
}

// History returns a copy of one window's finalized (published) points,
// for tests and for the API layer reading in-process rather than via the
// cache.
func (e *Engine) History(windowName string) []Point {
	w, ok := e.windows[windowName]
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotHistoryLocked()
}

// WindowNames returns the engine's window names in construction order, for
// callers that need to snapshot every window without hardcoding the list.
func (e *Engine) WindowNames() []string {
	return e.order
}

// OpenBucketState returns one window's in-flight bucket start and
// accumulator state, for building a snapshot.BucketSnapshot.
func (e *Engine) OpenBucketState(windowName string) (int64, map[string]float64) {
	w, ok := e.windows[windowName]
	if !ok {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curBucketStart, w.acc.Snapshot()
}

// RestoreWindow replays a snapshot's finalized history and open-bucket
// state into a window, for warm-start (spec.md §4.6).
func (e *Engine) RestoreWindow(windowName string, history []Point, openBucketStart int64, accState map[string]float64) {
	w, ok := e.windows[windowName]
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append([]Point(nil), history...)
	w.curBucketStart = openBucketStart
	if accState != nil {
		w.acc.Restore(accState)
	}
}
