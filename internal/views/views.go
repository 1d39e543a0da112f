// Package views holds the compound views spec.md §3 names: named keys
// holding a single serialized object, written by one worker and read by
// many, where every field must come from the same ingest epoch.
package views

// BlockchainDynamic is the blockchain worker's per-tick aggregated view.
type BlockchainDynamic struct {
	IngestEpochMs     int64   `json:"ingest_epoch_ms"`
	Height            int64   `json:"height"`
	BestBlockHash     string  `json:"best_block_hash"`
	LatestBlockTxs    int     `json:"latest_block_txs"`
	BlockAgeSeconds   int64   `json:"block_age_seconds"`
	Difficulty        float64 `json:"difficulty"`
	HashrateEHs       float64 `json:"hashrate_ehs"`
	HalvingBlocks     int64   `json:"halving_blocks"`
	HalvingSeconds    int64   `json:"halving_seconds"`
}

// BlockchainStatic is refreshed on a much slower cadence (spec.md §4.3:
// "Static view is refreshed every 6h").
type BlockchainStatic struct {
	IngestEpochMs   int64  `json:"ingest_epoch_ms"`
	Chain           string `json:"chain"`
	InitialReward   int64  `json:"initial_reward"`
	HalvingInterval int64  `json:"halving_interval"`
}

// MempoolDynamic is the mempool worker's per-tick derived view.
type MempoolDynamic struct {
	IngestEpochMs  int64   `json:"ingest_epoch_ms"`
	Size           int64   `json:"size"`
	Bytes          int64   `json:"bytes"`
	TotalFeeBTC    float64 `json:"total_fee_btc"`
	AvgFeeRate     float64 `json:"avg_fee_rate_sat_vb"`
	AvgTxValueBTC  float64 `json:"avg_tx_value_btc"`
	WaitMinutes    int64   `json:"wait_minutes"`
}

// MempoolStatic carries the daily-rewritten minimum relay fee (spec.md
// §4.3: "Mempool-minimum-fee is rewritten daily as static").
type MempoolStatic struct {
	IngestEpochMs int64   `json:"ingest_epoch_ms"`
	MinFeeBTCKvB  float64 `json:"min_fee_btc_per_kvb"`
}

// NetworkDynamic is the network worker's per-tick view.
type NetworkDynamic struct {
	IngestEpochMs int64  `json:"ingest_epoch_ms"`
	Connections   int64  `json:"connections"`
	ConnIn        int64  `json:"connections_in"`
	ConnOut       int64  `json:"connections_out"`
	Version       int64  `json:"version"`
	Subversion    string `json:"subversion"`
}

// VolumeAggregate is the "BTC_VOL" composite stats view published
// alongside the tx-volume Bucket Engine.
type VolumeAggregate struct {
	IngestEpochMs   int64   `json:"ingest_epoch_ms"`
	Volume24hBTC    float64 `json:"volume_24h_btc"`
	TxCount24h      int64   `json:"tx_count_24h"`
	AvgTxValueBTC   float64 `json:"avg_tx_value_btc"`
}

// WorkerStats is the health hash a worker publishes each tick (spec.md
// §4.3 step 5: "last_run_ts, scan_time_ms, last error"). The network
// worker publishes none; TopWorker writes its copy to
// keys.BtcTxVolumeStats.
type WorkerStats struct {
	LastRunTsMs int64  `json:"last_run_ts_ms"`
	ScanTimeMs  int64  `json:"scan_time_ms"`
	LastError   string `json:"last_error,omitempty"`
}

// SameEpoch reports whether every timestamped field in a set of views
// shares one ingest epoch, the consistency invariant spec.md §3 requires
// of compound views built from more than one upstream call.
func SameEpoch(epochsMs ...int64) bool {
	if len(epochsMs) == 0 {
		return true
	}
	first := epochsMs[0]
	for _, e := range epochsMs[1:] {
		if e != first {
			return false
		}
	}
	return true
}
