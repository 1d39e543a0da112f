package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/views"
)

// NetworkWorker publishes peer-count and protocol-version views every 10s
// (spec.md §4.3's "network worker" paragraph).
type NetworkWorker struct {
	rpc   *nodes.Client
	cache cache.Cache
	loop  *Loop
}

func NewNetworkWorker(rpc *nodes.Client, c cache.Cache, lease *coordination.Lease) *NetworkWorker {
	w := &NetworkWorker{rpc: rpc, cache: c}
	w.loop = NewLoop(log.WorkerNetwork, "worker.network", c, lease, 10*time.Second, "", w.tick)
	return w
}

func (w *NetworkWorker) Run(ctx context.Context) { w.loop.Run(ctx) }

func (w *NetworkWorker) tick(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	info, err := w.rpc.GetNetworkInfo(callCtx)
	if err != nil {
		return err
	}
	now := time.Now()

	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.NetworkInfoRaw(), raw, 0); err != nil {
		return err
	}

	dynamic := views.NetworkDynamic{
		IngestEpochMs: now.UnixMilli(),
		Connections:   info.Connections,
		ConnIn:        info.ConnectionsIn,
		ConnOut:       info.ConnectionsOut,
		Version:       info.Version,
		Subversion:    info.Subversion,
	}
	dynRaw, err := json.Marshal(dynamic)
	if err != nil {
		return err
	}
	return w.cache.Set(keys.NetworkDynamic(), dynRaw, 0)
}
