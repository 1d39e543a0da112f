package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/btcdash/aggregator/internal/keys"
)

// dashboardCoreKeys is the bundle of most-read keys spec.md §4.7's closing
// paragraph asks the composite endpoint to return in one response.
var dashboardCoreKeys = []struct {
	Field string
	Key   string
}{
	{"blockchain", keys.BlockchainDynamic()},
	{"mempool", keys.MempoolDynamic()},
	{"network", keys.NetworkDynamic()},
	{"top", keys.BtcTopTxs()},
	{"volume", keys.BtcVolDynamic()},
	{"btc_price", keys.HomeBtcPriceCache()},
}

// handleDashboardCore fetches every bundled key concurrently via errgroup,
// since each read is an independent cache round trip with no ordering
// dependency between them.
func (s *Server) handleDashboardCore(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raws := make([]json.RawMessage, len(dashboardCoreKeys))

	var g errgroup.Group
	for i, entry := range dashboardCoreKeys {
		i, entry := i, entry
		g.Go(func() error {
			raw, ok, err := s.cache.Get(entry.Key)
			if err != nil {
				return err
			}
			if ok {
				raws[i] = raw
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	body := make(map[string]json.RawMessage, len(dashboardCoreKeys))
	for i, entry := range dashboardCoreKeys {
		if raws[i] != nil {
			body[entry.Field] = raws[i]
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSystemHealth reports the per-worker health hashes spec.md §4.3
// step 5 publishes, so an operator dashboard can see them in one call.
// The network worker publishes none and is absent; "top" carries the
// tracker's own updated_ms hash, and the TopWorker's loop health
// (last_run_ts/scan_time_ms/last_error) is reported under "btc_vol".
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	statsKeys := []struct {
		Name string
		Key  string
	}{
		{"blockchain", keys.BlockchainStats()},
		{"mempool", keys.MempoolStats()},
		{"top", keys.BtcTopStats()},
		{"traffic", keys.DashboardTrafficStats()},
		{"btc_vol", keys.BtcTxVolumeStats()},
	}

	body := make(map[string]json.RawMessage, len(statsKeys))
	for _, sk := range statsKeys {
		raw, ok, err := s.cache.Get(sk.Key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if ok {
			body[sk.Name] = raw
		}
	}
	writeJSON(w, http.StatusOK, body)
}
