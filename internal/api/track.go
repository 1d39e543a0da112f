package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/btcdash/aggregator/internal/keys"
)

const liveSessionTTL = 30 * time.Second

// handlePageview enqueues one dashboard-pageview event into the traffic
// worker's Bucket Engine and responds 204, per spec.md §6.
func (s *Server) handlePageview(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.traffic != nil {
		s.traffic.RecordPageview(nowMs())
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAlivePost mints a short-TTL session marker in the cache under a
// fresh id per request and returns that id. Nothing in this repository
// scans or counts these markers, so no live-sessions count is published.
func (s *Server) handleAlivePost(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sessionID := uuid.NewString()
	if err := s.cache.Set(keys.LiveSessionKey(sessionID), []byte("1"), liveSessionTTL); err != nil {
		writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		SessionID string `json:"session_id"`
	}{SessionID: sessionID})
}

// handleAliveNoop serves GET/HEAD on the alive-tracking path, per spec.md
// §6: "GET/HEAD -> 204 X-Robots-Tag: noindex" (crawlers hitting the
// tracking URL directly should not be indexed or treated as a real ping).
func (s *Server) handleAliveNoop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("X-Robots-Tag", "noindex")
	w.WriteHeader(http.StatusNoContent)
}

// handleSPAFallback serves as httprouter's NotFound handler: every path that
// matches no route, with or without an extension, gets a 404 JSON error.
// This process serves no HTML; the single-page app's entry point is not
// returned for any path.
func (s *Server) handleSPAFallback(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
