package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcdash/aggregator/internal/btcconst"
	"github.com/btcdash/aggregator/internal/bucket"
	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/metrics"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/views"
)

// BlockchainWorker publishes the blockchain dynamic/static views every
// tick (spec.md §4.3's "blockchain worker" paragraph). It also feeds the
// long-horizon difficulty/hashrate Bucket Engines once per new best block,
// since both only move at the block cadence, not the 1s poll cadence.
type BlockchainWorker struct {
	rpc   *nodes.Client
	cache cache.Cache
	loop  *Loop

	difficulty *bucket.Engine
	hashrate   *bucket.Engine

	lastBlockHash string
	lastHashAt    time.Time
	lastStaticAt  time.Time
}

// NewBlockchainWorker constructs the 1s blockchain worker with a
// process-wide leader lease.
func NewBlockchainWorker(rpc *nodes.Client, c cache.Cache, lease *coordination.Lease) *BlockchainWorker {
	w := &BlockchainWorker{
		rpc:        rpc,
		cache:      c,
		difficulty: metrics.NewDifficultyEngine(),
		hashrate:   metrics.NewHashrateEngine(),
	}
	w.loop = NewLoop(log.WorkerBlockch, "worker.blockchain", c, lease, time.Second, keys.BlockchainStats(), w.tick)
	return w
}

// Run blocks, driving the worker's loop until ctx is canceled.
func (w *BlockchainWorker) Run(ctx context.Context) { w.loop.Run(ctx) }

func (w *BlockchainWorker) tick(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	info, err := w.rpc.GetBlockchainInfo(callCtx)
	if err != nil {
		return err
	}
	now := time.Now()

	infoRaw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainChainInfoRaw(), infoRaw, 0); err != nil {
		return err
	}

	newBlock := info.BestBlockHash != w.lastBlockHash
	if newBlock {
		w.lastBlockHash = info.BestBlockHash
		w.lastHashAt = now
	}

	block, err := w.rpc.GetBlock(callCtx, info.BestBlockHash)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(block)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainLatestBlock(), raw, 0); err != nil {
		return err
	}

	halvingBlocks, halvingSeconds := btcconst.HalvingCountdown(info.Blocks)
	dynamic := views.BlockchainDynamic{
		IngestEpochMs:   now.UnixMilli(),
		Height:          info.Blocks,
		BestBlockHash:   info.BestBlockHash,
		LatestBlockTxs:  block.NTx,
		BlockAgeSeconds: int64(now.Sub(w.lastHashAt).Seconds()),
		Difficulty:      info.Difficulty,
		HashrateEHs:     btcconst.HashrateEHs(info.Difficulty),
		HalvingBlocks:   halvingBlocks,
		HalvingSeconds:  halvingSeconds,
	}
	dynRaw, err := json.Marshal(dynamic)
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainDynamic(), dynRaw, 0); err != nil {
		return err
	}
	if err := w.publishDynamicFields(dynamic); err != nil {
		return err
	}

	if newBlock {
		nowMs := now.UnixMilli()
		w.difficulty.Process(nowMs, dynamic.Difficulty, dynamic.Difficulty, 1)
		w.hashrate.Process(nowMs, dynamic.HashrateEHs, dynamic.HashrateEHs, 1)
		if err := w.difficulty.IdleFlush(nowMs, w.cache); err != nil {
			return err
		}
		if err := w.hashrate.IdleFlush(nowMs, w.cache); err != nil {
			return err
		}
	}

	if now.Sub(w.lastStaticAt) >= 6*time.Hour {
		static := views.BlockchainStatic{
			IngestEpochMs:   now.UnixMilli(),
			Chain:           info.Chain,
			InitialReward:   btcconst.InitialBlockReward,
			HalvingInterval: btcconst.HalvingInterval,
		}
		staticRaw, err := json.Marshal(static)
		if err != nil {
			return err
		}
		if err := w.cache.Set(keys.BlockchainStatic(), staticRaw, 0); err != nil {
			return err
		}
		w.lastStaticAt = now
	}
	return nil
}

// publishDynamicFields additionally writes each field of the dynamic view
// to its own sub-key, so a handler that only needs e.g. hashrate doesn't
// pay for a deserialize of the combined view.
func (w *BlockchainWorker) publishDynamicFields(d views.BlockchainDynamic) error {
	blockInfo, err := json.Marshal(struct {
		IngestEpochMs  int64  `json:"ingest_epoch_ms"`
		Height         int64  `json:"height"`
		BestBlockHash  string `json:"best_block_hash"`
		LatestBlockTxs int    `json:"latest_block_txs"`
	}{d.IngestEpochMs, d.Height, d.BestBlockHash, d.LatestBlockTxs})
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainDynamicBlockInfo(), blockInfo, 0); err != nil {
		return err
	}

	hashrate, err := json.Marshal(struct {
		IngestEpochMs int64   `json:"ingest_epoch_ms"`
		Difficulty    float64 `json:"difficulty"`
		HashrateEHs   float64 `json:"hashrate_ehs"`
	}{d.IngestEpochMs, d.Difficulty, d.HashrateEHs})
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainDynamicHashrate(), hashrate, 0); err != nil {
		return err
	}

	halving, err := json.Marshal(struct {
		IngestEpochMs  int64 `json:"ingest_epoch_ms"`
		HalvingBlocks  int64 `json:"halving_blocks"`
		HalvingSeconds int64 `json:"halving_seconds"`
	}{d.IngestEpochMs, d.HalvingBlocks, d.HalvingSeconds})
	if err != nil {
		return err
	}
	if err := w.cache.Set(keys.BlockchainDynamicHalving(), halving, 0); err != nil {
		return err
	}

	winnerHash, err := json.Marshal(struct {
		IngestEpochMs int64  `json:"ingest_epoch_ms"`
		BestBlockHash string `json:"best_block_hash"`
	}{d.IngestEpochMs, d.BestBlockHash})
	if err != nil {
		return err
	}
	return w.cache.Set(keys.BlockchainDynamicWinnerHash(), winnerHash, 0)
}
