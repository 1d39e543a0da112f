// Package topn implements component E: the running top-K-by-value tracker
// over the live mempool, plus an "ever-seen top-K" persisted across
// restarts (spec.md §4.5).
package topn

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.TopN)

// Entry is one published top-K record.
type Entry struct {
	ID         string  `json:"id"`
	BTCValue   float64 `json:"value"`
	ObservedMs int64   `json:"observed_ms"`
}

// VerboseFetchFunc fetches a transaction's verbose form once and returns
// its total BTC value (sum of vout values), per spec.md §4.5 step 3.
type VerboseFetchFunc func(id string) (btcValue float64, err error)

// AppendFunc records one newly-observed id to the day-partitioned
// append-only log (spec.md §4.5 step 6 / §4.6); callers typically wire
// this to an internal/snapshot.EventLog.Append.
type AppendFunc func(id string, value float64, observedMs int64) error

// Tracker holds the dedup set, value hash, and the two sorted lists.
type Tracker struct {
	k int

	mu      sync.Mutex
	dedup   map[string]struct{}
	values  map[string]Entry
	everIdx map[string]Entry // ids currently present in the ever-top list

	current []Entry // sorted desc by value, ids all currently live
	ever    []Entry // sorted desc by value, size <= k, monotonic
}

// NewTracker constructs a Tracker that keeps the top k ids in each list.
func NewTracker(k int) *Tracker {
	return &Tracker{
		k:       k,
		dedup:   make(map[string]struct{}),
		values:  make(map[string]Entry),
		everIdx: make(map[string]Entry),
	}
}

// Tick performs one sampling cycle: prune ids no longer present upstream,
// fetch newly-seen ids once, and rebuild both sorted lists. nowMs stamps
// newly-fetched entries. Returns the entries newly fetched this tick,
// in fetch order, so the caller can append them to the event log (step 6).
func (t *Tracker) Tick(upstreamIDs []string, nowMs int64, fetch VerboseFetchFunc) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make(map[string]struct{}, len(upstreamIDs))
	for _, id := range upstreamIDs {
		live[id] = struct{}{}
	}

	// Step 2: drop dead ids from dedup set and value hash.
	for id := range t.dedup {
		if _, ok := live[id]; !ok {
			delete(t.dedup, id)
			delete(t.values, id)
		}
	}

	var newlyFetched []Entry
	// Step 3: for each live id not yet known, fetch once unless its value
	// already survives in the ever-top index.
	for _, id := range upstreamIDs {
		if _, known := t.dedup[id]; known {
			continue
		}
		if prior, ok := t.everIdx[id]; ok {
			t.dedup[id] = struct{}{}
			t.values[id] = prior
			continue
		}
		v, err := fetch(id)
		if err != nil {
			logger.Warn("verbose fetch failed, skipping id this tick", "id", id, "err", err)
			continue
		}
		entry := Entry{ID: id, BTCValue: v, ObservedMs: nowMs}
		t.dedup[id] = struct{}{}
		t.values[id] = entry
		newlyFetched = append(newlyFetched, entry)
	}

	// Step 4: rebuild current (every live id) and merge into ever.
	t.rebuildCurrentLocked()
	t.mergeIntoEverLocked(newlyFetched)

	return newlyFetched, nil
}

func (t *Tracker) rebuildCurrentLocked() {
	entries := make([]Entry, 0, len(t.dedup))
	for id := range t.dedup {
		entries = append(entries, t.values[id])
	}
	sortDescByValue(entries)
	if len(entries) > t.k {
		entries = entries[:t.k]
	}
	t.current = entries
}

func (t *Tracker) mergeIntoEverLocked(newlyFetched []Entry) {
	if len(newlyFetched) == 0 {
		return
	}
	merged := append(append([]Entry(nil), t.ever...), newlyFetched...)
	sortDescByValue(merged)
	if len(merged) > t.k {
		merged = merged[:t.k]
	}
	t.ever = merged
	t.everIdx = make(map[string]Entry, len(merged))
	for _, e := range merged {
		t.everIdx[e.ID] = e
	}
}

func sortDescByValue(e []Entry) {
	sort.SliceStable(e, func(i, j int) bool { return e[i].BTCValue > e[j].BTCValue })
}

// Current returns a copy of the current top-K list.
func (t *Tracker) Current() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.current...)
}

// Ever returns a copy of the ever-seen top-K list.
func (t *Tracker) Ever() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.ever...)
}

// RestoreEver seeds the ever-seen list from a snapshot on warm-start
// (spec.md §4.6's "plain ordered array [{id,value}]" shape).
func (t *Tracker) RestoreEver(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ever = append([]Entry(nil), entries...)
	t.everIdx = make(map[string]Entry, len(entries))
	for _, e := range entries {
		t.everIdx[e.ID] = e
	}
}

type statsPayload struct {
	UpdatedMs int64 `json:"updated_ms"`
}

// Publish writes the current list, the ever-seen list, and the update
// timestamp to their respective cache keys (spec.md §4.5 step 5 / §3's
// BTC_TOP_TXS / BTC_TOP_SEEN / BTC_TOP_STATS keys). The three writes are
// not transactional across keys, but each individual list is internally
// consistent: a reader never observes a partially-sorted or
// partially-truncated list.
func (t *Tracker) Publish(c cache.Cache, txsKey, everKey, statsKey string, nowMs int64) error {
	t.mu.Lock()
	current := append([]Entry(nil), t.current...)
	ever := append([]Entry(nil), t.ever...)
	t.mu.Unlock()

	rawCurrent, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if err := c.Set(txsKey, rawCurrent, 0); err != nil {
		return err
	}

	rawEver, err := json.Marshal(ever)
	if err != nil {
		return err
	}
	if err := c.Set(everKey, rawEver, 0); err != nil {
		return err
	}

	rawStats, err := json.Marshal(statsPayload{UpdatedMs: nowMs})
	if err != nil {
		return err
	}
	return c.Set(statsKey, rawStats, 0)
}

// ValueOf returns the stored value for a currently-known id, used by the
// mempool worker to join live mempool tx-count with per-txid value.
func (t *Tracker) ValueOf(id string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.values[id]
	if !ok {
		return 0, false
	}
	return e.BTCValue, true
}
