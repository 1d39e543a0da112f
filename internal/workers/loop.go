// Copyright 2020 The klaytn Authors
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

// Package workers implements component C: one ingest-worker type per
// upstream domain. The blockchain, mempool, network and top workers each
// run the six-phase Loop from spec.md §4.3 in their own OS process;
// TrafficWorker and AddressWorker run inside the API process.
package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/views"
)

// Worker is the common surface of the worker types in this package,
// whether driven by a fixed-interval Loop (blockchain, mempool, network,
// top), by their own ticker and event channel (TrafficWorker), or by
// on-demand lookups (AddressWorker, whose Run only waits for ctx to end).
type Worker interface {
	Run(ctx context.Context)
}

// Tick is one worker's phases 2-5 of spec.md §4.3: call upstream, write
// the raw response, optionally derive compound views, and report
// success/failure for the stats publish. The loop driver handles phases
// 1 (lease check) and 6 (sleep) uniformly.
type Tick func(ctx context.Context) error

// Loop drives one ingest worker's main loop: lease check/renew, a single
// Tick invocation, stats publish, and fixed-interval sleep. Grounded on
// chaindatafetcher.ChainDataFetcher's stopCh/wg shape and the teacher's
// metrics.Meter gauges.
type Loop struct {
	Name     string
	Cache    cache.Cache
	Lease    *coordination.Lease
	Interval time.Duration
	StatsKey string
	Tick     Tick

	logger    *log.Logger
	tickMeter metrics.Meter
	errMeter  metrics.Meter
}

// NewLoop constructs a Loop. module names the logger (see internal/log's
// Worker* constants); name is used for the metrics registry.
func NewLoop(module, name string, c cache.Cache, lease *coordination.Lease, interval time.Duration, statsKey string, tick Tick) *Loop {
	return &Loop{
		Name:      name,
		Cache:     c,
		Lease:     lease,
		Interval:  interval,
		StatsKey:  statsKey,
		Tick:      tick,
		logger:    log.NewModuleLogger(module),
		tickMeter: metrics.NewRegisteredMeter(name+"/ticks", nil),
		errMeter:  metrics.NewRegisteredMeter(name+"/errors", nil),
	}
}

// Run blocks until ctx is canceled, executing one loop iteration per
// Interval. A lost lease aborts the current iteration without publishing
// (spec.md §7 "Lease loss"); the loop rejoins the lease contest on the
// next tick rather than exiting, matching the "ingest loop model" the
// error-handling section distinguishes from the supervisor-process model.
func (l *Loop) Run(ctx context.Context) {
	stopCh := make(chan struct{})
	defer close(stopCh)
	if l.Lease != nil {
		l.Lease.RunRenewer(stopCh)
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	start := time.Now()

	if l.Lease != nil {
		acquired, err := l.Lease.TryAcquire()
		if err != nil {
			l.logger.Warn("lease check failed", "worker", l.Name, "err", err)
			l.publishStats(start, 0, err)
			return
		}
		if !acquired {
			l.logger.Debug("lease not held, skipping tick", "worker", l.Name)
			return
		}
	}

	l.tickMeter.Mark(1)
	err := l.Tick(ctx)
	elapsed := time.Since(start)
	if err != nil {
		l.errMeter.Mark(1)
		l.logger.Warn("tick failed", "worker", l.Name, "err", err, "elapsed", elapsed)
	}
	l.publishStats(start, elapsed, err)
}

func (l *Loop) publishStats(start time.Time, elapsed time.Duration, tickErr error) {
	if l.Cache == nil || l.StatsKey == "" {
		return
	}
	stats := views.WorkerStats{
		LastRunTsMs: start.UnixMilli(),
		ScanTimeMs:  elapsed.Milliseconds(),
	}
	if tickErr != nil {
		stats.LastError = tickErr.Error()
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		l.logger.Error("failed to marshal worker stats", "worker", l.Name, "err", err)
		return
	}
	if err := l.Cache.Set(l.StatsKey, raw, 0); err != nil {
		l.logger.Error("failed to publish worker stats", "worker", l.Name, "err", err)
	}
}
