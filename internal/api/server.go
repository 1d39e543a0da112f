// Package api implements component G, the read layer of spec.md §4.7:
// httprouter handlers that are pure cache readers, plus the small set of
// user-facing lookups (address/transaction/wallet) that go through the
// coordination package's lease+wait pattern instead.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/workers"
)

var logger = log.NewModuleLogger(log.API)

// Server wires cache reads, the Top-N/address workers, and the traffic
// worker's pageview sink behind one httprouter.Router.
type Server struct {
	cache   cache.Cache
	address *workers.AddressWorker
	traffic *workers.TrafficWorker

	router *httprouter.Router
}

// NewServer builds the full route table. address/traffic may be nil in a
// deployment that splits the read API across processes. With a nil address
// the lookup routes respond 503; with a nil traffic the pageview route still
// responds 204 and records nothing.
func NewServer(c cache.Cache, address *workers.AddressWorker, traffic *workers.TrafficWorker) *Server {
	s := &Server{cache: c, address: address, traffic: traffic, router: httprouter.New()}
	s.registerRoutes()
	s.registerMetrics()
	return s
}

// Handler returns the CORS-wrapped http.Handler to pass to http.Server,
// matching the teacher's convention of composing middleware at the
// outermost layer rather than inside each handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// errorEnvelope is the JSON shape spec.md §7 requires for user-input and
// internal errors: {"status":"error","error":"..."}.
type errorEnvelope struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Status: "error", Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// serveCachedKey is the workhorse behind most routes: a pure cache read.
// Absent key -> fallback per spec.md §4.7 (empty-series endpoints pass
// emptyBody, upstream-backed endpoints pass nil and get a 503).
func serveCachedKey(c cache.Cache, key string, emptyBody interface{}) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		raw, ok, err := c.Get(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache unavailable")
			return
		}
		if !ok {
			if emptyBody != nil {
				writeJSON(w, http.StatusOK, emptyBody)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "no data yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
