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
	"github.com/btcdash/aggregator/internal/topn"
	"github.com/btcdash/aggregator/internal/views"
)

// MempoolWorker publishes the mempool dynamic/static views every tick
// (spec.md §4.3's "mempool worker" paragraph), joining live mempool size
// against the Top-N tracker's per-txid value hash for average tx value.
type MempoolWorker struct {
	rpc     *nodes.Client
	cache   cache.Cache
	top     *topn.Tracker
	loop    *Loop

	lastStaticAt time.Time
}

// NewMempoolWorker constructs the 1s mempool worker. top may be nil if
// this process does not run the Top-N tracker in-process (average tx
// value then degrades to 0, same as an empty value hash).
func NewMempoolWorker(rpc *nodes.Client, c cache.Cache, top *topn.Tracker, lease *coordination.Lease) *MempoolWorker {
	w := &MempoolWorker{rpc: rpc, cache: c, top: top}
	w.loop = NewLoop(log.WorkerMempool, "worker.mempool", c, lease, time.Second, keys.MempoolStats(), w.tick)
	return w
}

func (w *MempoolWorker) Run(ctx context.Context) { w.loop.Run(ctx) }

func (w *MempoolWorker) tick(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	info, err := w.rpc.GetMempoolInfo(callCtx)
	if err != nil {
		return err
	}
	now := time.Now()

	rawInfo, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.MempoolInfoRaw(), rawInfo, 0); err != nil {
		return err
	}

	var avgFeeRate float64
	vbytes := float64(info.Bytes)
	if vbytes > 0 {
		avgFeeRate = (info.TotalFee * 1e8) / vbytes
	}

	dynamic := views.MempoolDynamic{
		IngestEpochMs: now.UnixMilli(),
		Size:          info.Size,
		Bytes:         info.Bytes,
		TotalFeeBTC:   info.TotalFee,
		AvgFeeRate:    avgFeeRate,
		AvgTxValueBTC: w.averageTxValue(),
		WaitMinutes:   (info.Size / 3000) * 10,
	}
	dynRaw, err := json.Marshal(dynamic)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.MempoolDynamic(), dynRaw, 0); err != nil {
		return err
	}
	if err := w.publishDynamicFields(dynamic); err != nil {
		return err
	}

	if now.Sub(w.lastStaticAt) >= 24*time.Hour {
		static := views.MempoolStatic{IngestEpochMs: now.UnixMilli(), MinFeeBTCKvB: info.MinFee}
		staticRaw, err := json.Marshal(static)
		if err != nil {
			return err
		}
		if err := w.cache.Set(keys.MempoolStatic(), staticRaw, 0); err != nil {
			return err
		}
		w.lastStaticAt = now
	}
	return nil
}

// publishDynamicFields mirrors each dynamic field into its own sub-key,
// matching the granularity blockchain.go's publishDynamicFields offers.
func (w *MempoolWorker) publishDynamicFields(d views.MempoolDynamic) error {
	sizeFee, err := json.Marshal(struct {
		IngestEpochMs int64   `json:"ingest_epoch_ms"`
		Size          int64   `json:"size"`
		Bytes         int64   `json:"bytes"`
		TotalFeeBTC   float64 `json:"total_fee_btc"`
		AvgFeeRate    float64 `json:"avg_fee_rate_sat_vb"`
	}{d.IngestEpochMs, d.Size, d.Bytes, d.TotalFeeBTC, d.AvgFeeRate})
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.MempoolDynamicSizeFee(), sizeFee, 0); err != nil {
		return err
	}

	avgTx, err := json.Marshal(struct {
		IngestEpochMs int64   `json:"ingest_epoch_ms"`
		AvgTxValueBTC float64 `json:"avg_tx_value_btc"`
	}{d.IngestEpochMs, d.AvgTxValueBTC})
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.MempoolDynamicAvgTx(), avgTx, 0); err != nil {
		return err
	}

	waitTime, err := json.Marshal(struct {
		IngestEpochMs int64 `json:"ingest_epoch_ms"`
		WaitMinutes   int64 `json:"wait_minutes"`
	}{d.IngestEpochMs, d.WaitMinutes})
	if err != nil {
		return err
	}
	return w.cache.Set(keys.MempoolDynamicWaitTime(), waitTime, 0)
}

// averageTxValue joins the live mempool entry count with the Top-N
// tracker's running value hash (spec.md §4.3: "joins live mempool
// tx-count with running per-txid value hash from Top-K Tracker").
func (w *MempoolWorker) averageTxValue() float64 {
	if w.top == nil {
		return 0
	}
	entries := w.top.Current()
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += e.BTCValue
	}
	return sum / float64(len(entries))
}
