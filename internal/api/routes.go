package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/btcdash/aggregator/internal/keys"
)

func emptyHistory() interface{} {
	return struct {
		History []interface{} `json:"history"`
	}{History: []interface{}{}}
}

// registerRoutes wires every endpoint in spec.md §6's representative list.
// Most are thin pass-throughs over serveCachedKey; windowed series,
// composite, lookup, and tracking endpoints get their own file.
func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/api/home_btc_price", serveCachedKey(s.cache, keys.HomeBtcPriceCache(), nil))
	r.GET("/api/blockchain", serveCachedKey(s.cache, keys.BlockchainDynamic(), nil))
	r.GET("/api/blockchain2", serveCachedKey(s.cache, keys.BlockchainStatic(), nil))
	r.GET("/api/mempool", serveCachedKey(s.cache, keys.MempoolDynamic(), nil))
	r.GET("/api/mempool2", serveCachedKey(s.cache, keys.MempoolStatic(), nil))
	r.GET("/api/network2", serveCachedKey(s.cache, keys.NetworkDynamic(), nil))
	r.GET("/api/network/nodes", serveCachedKey(s.cache, keys.NetworkNodesCache(), emptyHistory()))
	r.GET("/api/network/miner", serveCachedKey(s.cache, keys.NetworkMinerCache(), nil))
	r.GET("/api/metrics/btc_usd_eur", serveCachedKey(s.cache, keys.MetricsBtcUsdEurCache(), nil))

	r.GET("/api/difficulty/:window", serveWindowedSeries(s.cache, keys.BtcDifficultySeries))
	r.GET("/api/hashrate/:window", serveWindowedSeries(s.cache, keys.BtcHashrateSeries))
	// "stats" is folded into the same :window route rather than registered
	// as a sibling static path: httprouter panics at startup if a static
	// segment and a named parameter are registered at the same path depth.
	r.GET("/api/btc_tx_volume/:window", serveTxVolumeWindow(s.cache))
	r.GET("/api/btc_tx_fees/:window", serveWindowedSeries(s.cache, keys.BtcTxFeesSeries))
	r.GET("/api/txamount/history", serveCachedKey(s.cache, keys.BtcTxAmountHistory(), emptyHistory()))

	r.GET("/api/3_BTC_TOP", serveCachedKey(s.cache, keys.BtcTopTxs(), emptyHistory()))
	r.GET("/api/BTC_VOL", serveCachedKey(s.cache, keys.BtcVolDynamic(), nil))

	r.GET("/api/dashboard_traffic/:window", serveWindowedSeries(s.cache, keys.DashboardTrafficSeries))
	r.GET("/api/home_traffic", serveCachedKey(s.cache, keys.DashboardTrafficTotal(), nil))

	r.GET("/api/market_cap_coins", serveCachedKey(s.cache, keys.MarketCapCoinsCache(), nil))
	r.GET("/api/companies", serveCachedKey(s.cache, keys.MarketCapCompaniesCacheNow(), nil))
	r.GET("/api/market-cap-currencies", serveCachedKey(s.cache, keys.MarketCapCurrenciesCache(), nil))
	r.GET("/api/market_cap_commodities", serveCachedKey(s.cache, keys.MarketCapCommoditiesCache(), nil))
	r.GET("/api/treasuries_companies", serveCachedKey(s.cache, keys.TreasuriesCompaniesCache(), nil))
	r.GET("/api/treasuries_institutions", serveCachedKey(s.cache, keys.TreasuriesInstitutionsCache(), nil))
	r.GET("/api/treasuries_countries", serveCachedKey(s.cache, keys.TreasuriesCountriesCache(), nil))

	r.GET("/api/system-health", s.handleSystemHealth)
	r.GET("/api/dashboard/core", s.handleDashboardCore)

	r.GET("/api/address/:address", s.handleAddress)
	r.GET("/api/explorer_txid/:txid", s.handleTransaction)
	r.POST("/api/explorer_wallet", s.handleWallet)

	r.POST("/api/track/dashboard_pageview", s.handlePageview)
	r.POST("/api/track/dashboard_alive", s.handleAlivePost)
	r.GET("/api/track/dashboard_alive", s.handleAliveNoop)
	r.HEAD("/api/track/dashboard_alive", s.handleAliveNoop)

	r.NotFound = http.HandlerFunc(s.handleSPAFallback)
}

// serveTxVolumeWindow handles /api/btc_tx_volume/:window, special-casing
// the literal "stats" value to the BtcTxVolumeStats key.
func serveTxVolumeWindow(c interface {
	Get(string) ([]byte, bool, error)
}) httprouter.Handle {
	windowed := serveWindowedSeries(c, keys.BtcTxVolumeSeries)
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if p.ByName("window") != "stats" {
			windowed(w, r, p)
			return
		}
		raw, ok, err := c.Get(keys.BtcTxVolumeStats())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "no data yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}

// serveWindowedSeries parses the :window path param into a keys.Window and
// serves the corresponding Bucket Engine series key, falling back to an
// empty history rather than 503 since an empty series is valid per
// spec.md §8 scenario 1.
func serveWindowedSeries(c interface {
	Get(string) ([]byte, bool, error)
}, seriesKey func(keys.Window) string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		window := keys.Window(p.ByName("window"))
		key := seriesKey(window)
		raw, ok, err := c.Get(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, emptyHistory())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}
