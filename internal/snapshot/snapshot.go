// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package snapshot implements component F: atomic daily-rotated snapshot
// files with warm-start loaders, plus the RAM-backed append-only event
// logs (spec.md §4.6). The Bucket Engines are not fed from these logs.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/topn"
)

var logger = log.NewModuleLogger(log.Snapshot)

const dayLayout = "2006-01-02"

// WriteAtomic writes data to path via write-to-temp-then-rename, so a
// reader never observes a partially-written file (spec.md §4.6).
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DayOf returns the UTC calendar day of a data timestamp in milliseconds,
// per spec.md §4.6: "by the UTC day of the data's most-recent timestamp,
// not wall clock". Exported so callers outside this package (e.g. a
// worker reading its own EventLog back) select the same day string an
// EventLog would have rotated to for that timestamp.
func DayOf(dataTsMs int64) string {
	return time.UnixMilli(dataTsMs).UTC().Format(dayLayout)
}

// Path builds the daily-rotated snapshot filename for one kind, selecting
// the day from the data timestamp rather than wall clock.
func Path(dir, kind string, dataTsMs int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", kind, DayOf(dataTsMs)))
}

// --- Bucket engine snapshots -------------------------------------------------

// WindowHistory is one window's finalized points, as persisted.
type WindowHistory struct {
	History []bucket.Point `json:"history"`
}

// OpenBucket is one window's not-yet-finalized bucket state, as persisted.
type OpenBucket struct {
	CurBucketStart int64              `json:"cur_bucket_start"`
	Accumulator    map[string]float64 `json:"accumulator_fields"`
}

// BucketSnapshot is the byte-exact shape spec.md §4.6 names for a Bucket
// Engine: generation time, the watermark to resume from, and both the
// finalized history and open (in-flight) bucket per window.
type BucketSnapshot struct {
	GeneratedUTC time.Time                 `json:"generated_utc"`
	LastTsMs     int64                     `json:"last_ts_ms"`
	Buckets      map[string]WindowHistory  `json:"buckets"`
	OpenBuckets  map[string]OpenBucket     `json:"open_buckets"`
}

// CaptureBucketSnapshot builds a BucketSnapshot from a live engine's
// windows, suitable for WriteAtomic.
func CaptureBucketSnapshot(e *bucket.Engine, windowNames []string, openBucketStarts map[string]int64, accumulatorStates map[string]map[string]float64) BucketSnapshot {
	snap := BucketSnapshot{
		GeneratedUTC: time.UnixMilli(e.LastProcessedMs()).UTC(),
		LastTsMs:     e.LastProcessedMs(),
		Buckets:      make(map[string]WindowHistory, len(windowNames)),
		OpenBuckets:  make(map[string]OpenBucket, len(windowNames)),
	}
	for _, name := range windowNames {
		snap.Buckets[name] = WindowHistory{History: e.History(name)}
		snap.OpenBuckets[name] = OpenBucket{
			CurBucketStart: openBucketStarts[name],
			Accumulator:    accumulatorStates[name],
		}
	}
	return snap
}

// SnapshotEngine captures every window of a live engine via its exported
// accessors, for callers that just want "give me a BucketSnapshot for this
// engine right now" without assembling the per-window maps themselves.
func SnapshotEngine(e *bucket.Engine) BucketSnapshot {
	names := e.WindowNames()
	openStarts := make(map[string]int64, len(names))
	accStates := make(map[string]map[string]float64, len(names))
	for _, name := range names {
		start, acc := e.OpenBucketState(name)
		openStarts[name] = start
		accStates[name] = acc
	}
	return CaptureBucketSnapshot(e, names, openStarts, accStates)
}

// WriteBucketSnapshot atomically persists snap under dir, day-selected by
// snap.LastTsMs.
func WriteBucketSnapshot(dir, kind string, snap BucketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return WriteAtomic(Path(dir, kind, snap.LastTsMs), data)
}

// LoadLatestBucketSnapshot finds the newest `<kind>_*.json` file under dir
// and decodes it, for warm-start (spec.md §4.6 "load the newest snapshot").
func LoadLatestBucketSnapshot(dir, kind string) (BucketSnapshot, bool, error) {
	path, ok, err := latestSnapshotFile(dir, kind)
	if err != nil || !ok {
		return BucketSnapshot{}, ok, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return BucketSnapshot{}, false, err
	}
	var snap BucketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return BucketSnapshot{}, false, err
	}
	return snap, true, nil
}

// RestoreEngine replays a BucketSnapshot into a live engine and seeds its
// watermark, so the engine resumes exactly where the snapshot left off.
func RestoreEngine(e *bucket.Engine, snap BucketSnapshot) {
	for name, wh := range snap.Buckets {
		ob := snap.OpenBuckets[name]
		e.RestoreWindow(name, wh.History, ob.CurBucketStart, ob.Accumulator)
	}
	e.SetLastProcessedMs(snap.LastTsMs)
}

// LoadLatestRaw loads the newest `<kind>_*.json` file's bytes under dir, for
// snapshot kinds with no dedicated typed loader (e.g. the amount-bucket
// histogram, which isn't a BucketSnapshot or a top-N ever-list).
func LoadLatestRaw(dir, kind string) ([]byte, bool, error) {
	path, ok, err := latestSnapshotFile(dir, kind)
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func latestSnapshotFile(dir, kind string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	prefix := kind + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if len(n) > len(prefix) && n[:len(prefix)] == prefix && filepath.Ext(n) == ".json" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Strings(names) // YYYY-MM-DD suffix sorts lexicographically by date
	return filepath.Join(dir, names[len(names)-1]), true, nil
}

// --- Top-N ever-list snapshots ----------------------------------------------

// WriteTopNSnapshot persists the ever-seen top-K list as a plain ordered
// array, per spec.md §4.6.
func WriteTopNSnapshot(dir, kind string, entries []topn.Entry, dataTsMs int64) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return WriteAtomic(Path(dir, kind, dataTsMs), data)
}

// LoadLatestTopNSnapshot loads the newest ever-list snapshot for warm-start.
func LoadLatestTopNSnapshot(dir, kind string) ([]topn.Entry, bool, error) {
	path, ok, err := latestSnapshotFile(dir, kind)
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var entries []topn.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}
