package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const maxWalletAddresses = 25

// handleAddress resolves one address via the lease+wait coalescing path
// (spec.md §4.7's explicit exception to "handlers are pure cache readers").
func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if s.address == nil {
		writeError(w, http.StatusServiceUnavailable, "address lookup not available on this process")
		return
	}
	address := p.ByName("address")
	raw, _, err := s.address.Overview(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if s.address == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction lookup not available on this process")
		return
	}
	txid := p.ByName("txid")
	raw, _, err := s.address.Transaction(r.Context(), txid, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type walletRequest struct {
	Addresses []string `json:"addresses"`
}

// handleWallet resolves many addresses in one POST, each independently
// coalesced; too many addresses is a 400 user-input error per spec.md §7.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.address == nil {
		writeError(w, http.StatusServiceUnavailable, "wallet lookup not available on this process")
		return
	}

	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses must not be empty")
		return
	}
	if len(req.Addresses) > maxWalletAddresses {
		writeError(w, http.StatusBadRequest, "too many addresses")
		return
	}

	result := make(map[string]json.RawMessage, len(req.Addresses))
	for _, addr := range req.Addresses {
		raw, _, err := s.address.Overview(r.Context(), addr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result[addr] = raw
	}
	writeJSON(w, http.StatusOK, result)
}
