// Package keys is the single source of truth for the cache key surface
// (§3, §4 of SPEC_FULL.md). Rather than let every worker and handler
// concatenate prefixes by hand — as the original Python service's flat
// `redis_keys` constants module does — each key family gets a typed
// constructor here so a rename only touches one place and a typo becomes
// a compile error instead of a silent cache miss.
package keys

import "fmt"

// Window names, shared across every windowed metric kind.
type Window string

const (
	Window1h   Window = "1h"
	Window24h  Window = "24h"
	Window1w   Window = "1w"
	Window1m   Window = "1m"
	Window1y   Window = "1y"
	Window5y   Window = "5y"
	Window10y  Window = "10y"
	WindowEver Window = "ever"
)

// --- Blockchain (component C "blockchain worker") --------------------------

const blockchainPrefix = "2_BLOCKCHAIN_"

func BlockchainLatestBlock() string     { return blockchainPrefix + "GETBLOCK_LATEST" }
func BlockchainChainInfoRaw() string    { return blockchainPrefix + "GETBLOCKCHAININFO" }
func BlockchainStatic() string          { return blockchainPrefix + "STATIC" }
func BlockchainLock() string            { return blockchainPrefix + "LOCK" }
func BlockchainDynamic() string         { return blockchainPrefix + "DYNAMIC_CACHE" }
func BlockchainStats() string           { return blockchainPrefix + "INPUT_STATS" }
func BlockchainDynamicBlockInfo() string  { return blockchainPrefix + "DYNAMIC_BLOCKINFO" }
func BlockchainDynamicHashrate() string   { return blockchainPrefix + "DYNAMIC_HASHRATE" }
func BlockchainDynamicHalving() string    { return blockchainPrefix + "DYNAMIC_HALVING" }
func BlockchainDynamicWinnerHash() string { return blockchainPrefix + "DYNAMIC_WINNERHASH" }

// --- Mempool (component C "mempool worker") ---------------------------------

const mempoolPrefix = "2_MEMPOOL_"

func MempoolInfoRaw() string         { return mempoolPrefix + "GETMEMPOOLINFO" }
func MempoolStatic() string          { return mempoolPrefix + "STATIC" }
func MempoolLock() string            { return mempoolPrefix + "LOCK" }
func MempoolDynamic() string         { return mempoolPrefix + "DYNAMIC_CACHE" }
func MempoolStats() string           { return mempoolPrefix + "INPUT_STATS" }
func MempoolDynamicSizeFee() string  { return mempoolPrefix + "DYNAMIC_SIZEFEE" }
func MempoolDynamicAvgTx() string    { return mempoolPrefix + "DYNAMIC_AVGTX" }
func MempoolDynamicWaitTime() string { return mempoolPrefix + "DYNAMIC_WAITTIME" }

// --- Network (component C "network worker") ---------------------------------

const networkPrefix = "2_NETWORK_"

func NetworkInfoRaw() string { return networkPrefix + "GETNETWORKINFO" }
func NetworkStatic() string  { return networkPrefix + "STATIC" }
func NetworkLock() string    { return networkPrefix + "LOCK" }
func NetworkDynamic() string { return networkPrefix + "DYNAMIC_CACHE" }

func NetworkNodesCache() string    { return "NETWORK_NODES_CACHE" }
func NetworkNodesSubtab() string   { return "NETWORK_NODES_SUBTAB_CACHE" }
func NetworkNodesLock() string     { return "NETWORK_NODES_LOCK" }
func NetworkMinerCache() string    { return "NETWORK_MINER_CACHE" }
func NetworkMinerLock() string     { return "NETWORK_MINER_LOCK" }
func NetworkMinerStatic() string   { return "NETWORK_MINER_STC" }

// --- Top-N tracker (component E) --------------------------------------------

const btcTopPrefix = "3_BTC_TOP_"

func BtcTopSeen() string      { return btcTopPrefix + "SEEN" }
func BtcTopTxs() string       { return btcTopPrefix + "TXS" }
func BtcTopStats() string     { return btcTopPrefix + "STATS" }
func BtcTopLock() string      { return btcTopPrefix + "LOCK" }
func BtcTopSeenValue() string { return btcTopPrefix + "SEEN_VALUE" }

// --- Volume aggregate view ---------------------------------------------------

const btcVolPrefix = "HOME_BTC_VOL_"

func BtcVolDynamic() string { return btcVolPrefix + "DYNAMIC_CACHE" }
func BtcVolLock() string    { return btcVolPrefix + "LOCK" }
func BtcVolStats() string   { return btcVolPrefix + "STATS" }

// --- BTC price (generic coalesced fetch, §4.5 of spec.md) -------------------

func HomeBtcPriceCache() string { return "HOME_BTC_PRICE_CACHE" }
func HomeBtcPriceLock() string  { return "HOME_PRICE_LOCK" }

// --- Address/transaction/wallet on-demand lookups (component G's
// lease+wait coalescing pattern, spec.md §4.7) -------------------------------

const addressLookupPrefix = "3_ADDRESS_"

func AddressOverviewCache(address string) string { return addressLookupPrefix + "OVERVIEW_" + address }
func AddressOverviewLock(address string) string  { return addressLookupPrefix + "LOCK_" + address }

const txLookupPrefix = "3_TX_"

func TxLookupCache(txid string) string { return txLookupPrefix + "LOOKUP_" + txid }
func TxLookupLock(txid string) string  { return txLookupPrefix + "LOCK_" + txid }

// --- Dashboard traffic (Bucket Engine over pageview events) -----------------

const dashboardTrafficPrefix = "DASHBOARD_TRAFFIC_"

func DashboardTrafficTotal() string   { return dashboardTrafficPrefix + "TOTAL" }
func DashboardTrafficToday() string   { return dashboardTrafficPrefix + "TODAY" }
func DashboardTrafficDay() string     { return dashboardTrafficPrefix + "DAY_UTC" }
func DashboardTrafficLaunchTs() string { return dashboardTrafficPrefix + "LAUNCH_TS_MS" }
func DashboardTrafficLive10s() string { return dashboardTrafficPrefix + "LIVE_10S" }
func DashboardTrafficLastTs() string  { return dashboardTrafficPrefix + "LAST_TS_MS" }
func DashboardTrafficStats() string   { return dashboardTrafficPrefix + "STATS" }
func DashboardTrafficOpenBuckets() string {
	return dashboardTrafficPrefix + "OPEN_BUCKETS"
}

// DashboardTrafficSeries returns the published series key for one window,
// e.g. "INFO_DASHBOARD_TRAFFIC_1H".
func DashboardTrafficSeries(w Window) string {
	return fmt.Sprintf("INFO_DASHBOARD_TRAFFIC_%s", windowTag(w))
}

// --- System-health "live sessions" (spec.md §9 open question) ---------------

const liveSessionPrefix = "HOME_META_SESSION_"

func LiveSessionKey(sessionID string) string { return liveSessionPrefix + sessionID }
func LiveSessionScanPrefix() string          { return liveSessionPrefix }

func HomeMetaCache() string { return "HOME_META_CACHE" }
func HomeMetaLock() string  { return "HOME_META_LOCK" }

// --- Metrics: difficulty / hashrate (Bucket Engine, long windows) -----------

func BtcDifficultySeries(w Window) string {
	return fmt.Sprintf("METRICS_BTC_DIFFICULTY_%s", windowTag(w))
}

func BtcHashrateSeries(w Window) string {
	return fmt.Sprintf("METRICS_BTC_HASHRATE_%s", windowTag(w))
}

// --- Metrics: tx volume / fees (Bucket Engine, short windows) ---------------

func BtcTxVolumeSeries(w Window) string {
	return fmt.Sprintf("METRICS_BTC_TX_VOLUME_%s", windowTag(w))
}
func BtcTxVolumeStats() string       { return "METRICS_BTC_TX_VOLUME_STATS" }
func BtcTxVolumeOpenBuckets() string { return "METRICS_BTC_TX_VOLUME_OPEN_BUCKETS" }

func BtcTxFeesSeries(w Window) string {
	return fmt.Sprintf("METRICS_BTC_TX_FEES_%s", windowTag(w))
}
func BtcTxFeesStats() string       { return "METRICS_BTC_TX_FEES_STATS" }
func BtcTxFeesOpenBuckets() string { return "METRICS_BTC_TX_FEES_OPEN_BUCKETS" }

func BtcTxAmountHistory() string { return "METRICS_BTC_TX_AMOUNT_HISTORY" }
func BtcTxAmountStats() string   { return "METRICS_BTC_TX_AMOUNT_STATS" }

// BtcTxCountSeries/BtcTxCountOpenBuckets back a transaction-count Bucket
// Engine alongside the BTC-volume one, so the "volume aggregate" view
// (BtcVolDynamic) can derive an average transaction value without
// recomputing a count from the volume series itself.
func BtcTxCountSeries(w Window) string {
	return fmt.Sprintf("METRICS_BTC_TX_COUNT_%s", windowTag(w))
}
func BtcTxCountOpenBuckets() string { return "METRICS_BTC_TX_COUNT_OPEN_BUCKETS" }

// --- Third-party price/cap fetchers (generic coalescing, §4.5) -------------

func MetricsBtcUsdEurCache() string { return "METRICS_BTC_USD_EUR_CACHE_KEY" }
func MetricsBtcUsdEurLock() string  { return "METRICS_BTC_USD_EUR_LOCK_KEY" }

func MarketCapCoinsCache() string { return "MARKET_CAP_COINS_CACHE_KEY" }
func MarketCapCoinsLock() string  { return "MARKET_CAP_COINS_LOCK" }

func MarketCapCompaniesCacheNow() string      { return "MARKET_CAP_COMPANIES_CACHE_NOW" }
func MarketCapCompaniesCacheOld() string      { return "MARKET_CAP_COMPANIES_CACHE_OLD" }
func MarketCapCompaniesLock() string          { return "MARKET_CAP_COMPANIES_LOCK_KEY" }
func MarketCapCompaniesRefreshCooldown() string {
	return "MARKET_CAP_COMPANIES_REFRESH_COOLDOWN"
}

func MarketCapCurrenciesCache() string  { return "MARKET_CAP_CURRENCIES_RESPONSE_CACHE_KEY" }
func MarketCapCommoditiesCache() string { return "MARKET_CAP_COMMODITIES_RESPONSE_CACHE_KEY" }

func TreasuriesCompaniesCache() string   { return "TREASURIES_COMPANIES_RESPONSE_CACHE_KEY" }
func TreasuriesInstitutionsCache() string { return "TREASURIES_INSTITUTIONS_RESPONSE_CACHE_KEY" }
func TreasuriesCountriesCache() string   { return "TREASURIES_COUNTRIES_RESPONSE_CACHE_KEY" }

func windowTag(w Window) string {
	switch w {
	case Window1h:
		return "1H"
	case Window24h:
		return "24H"
	case Window1w:
		return "1W"
	case Window1m:
		return "1M"
	case Window1y:
		return "1Y"
	case Window5y:
		return "5Y"
	case Window10y:
		return "10Y"
	case WindowEver:
		return "EVER"
	default:
		return string(w)
	}
}
