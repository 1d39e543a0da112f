package coordination

import (
	"sync"
	"time"

	"github.com/btcdash/aggregator/internal/cache"
)

// FetchFunc performs the actual upstream call and returns the bytes to
// publish as "fresh" (and, if the caller wants a stale fallback tier, the
// same bytes are also written to StaleKey).
type FetchFunc func() ([]byte, error)

// CoalesceConfig parameterizes one coalesced artifact per spec.md §4.2's
// closing paragraph.
type CoalesceConfig struct {
	FreshKey string        // required
	StaleKey string        // optional; empty disables tier 3
	LockKey  string        // required
	LockTTL  time.Duration // lease TTL while fetching
	CacheTTL time.Duration // TTL for FreshKey (and StaleKey, if longer-lived)
	MaxWait  time.Duration // bound for tier 5's polling loop
	WaitStep time.Duration // polling interval for tier 5; defaults to 250ms

	Fetch    FetchFunc
	Fallback []byte // returned by tier 5 on timeout
}

// localEntry is the short-term, in-process cache tier (tier 1).
type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// Coalescer merges many concurrent requests for the same derived artifact
// into at most one upstream fetch, implementing the five-step resolution
// order of spec.md §4.2:
//  1. short-term in-process hit
//  2. shared "fresh" cache hit
//  3. shared "stale" cache hit + async refresh
//  4. no data, lease acquired -> synchronous fetch
//  5. no data, lease denied -> bounded poll, else fallback
type Coalescer struct {
	c   cache.Cache
	cfg CoalesceConfig

	shortTermTTL time.Duration

	mu    sync.Mutex
	local *localEntry
}

// NewCoalescer builds a Coalescer over the given cache and config.
// shortTermTTL is T_s from spec.md §4.2 tier 1.
func NewCoalescer(c cache.Cache, cfg CoalesceConfig, shortTermTTL time.Duration) *Coalescer {
	if cfg.WaitStep <= 0 {
		cfg.WaitStep = 250 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	return &Coalescer{c: c, cfg: cfg, shortTermTTL: shortTermTTL}
}

// Resolve returns the bytes for this artifact, following the five-step
// order. The returned bool is true when the bytes came from live or
// cached data rather than the fallback payload.
func (co *Coalescer) Resolve() ([]byte, bool, error) {
	// Tier 1: in-process short-term cache.
	if v, ok := co.getLocal(); ok {
		return v, true, nil
	}

	// Tier 2: shared cache "fresh" key.
	if v, ok, err := co.c.Get(co.cfg.FreshKey); err != nil {
		return nil, false, err
	} else if ok {
		co.setLocal(v)
		return v, true, nil
	}

	// Tier 3: shared cache "stale" key, fire-and-forget refresh.
	if co.cfg.StaleKey != "" {
		if v, ok, err := co.c.Get(co.cfg.StaleKey); err != nil {
			return nil, false, err
		} else if ok {
			go co.tryLeaderRefresh()
			return v, true, nil
		}
	}

	// Tier 4/5: no data at all. Try to become leader and fetch
	// synchronously; if denied, poll bounded by MaxWait.
	lease := NewLease(co.c, co.cfg.LockKey, co.cfg.LockTTL, "")
	acquired, err := lease.TryAcquire()
	if err != nil {
		return nil, false, err
	}
	if acquired {
		defer lease.Release()
		v, err := co.fetchAndPublish()
		if err != nil {
			return co.cfg.Fallback, false, nil
		}
		return v, true, nil
	}

	return co.pollForFresh()
}

func (co *Coalescer) tryLeaderRefresh() {
	lease := NewLease(co.c, co.cfg.LockKey, co.cfg.LockTTL, "")
	acquired, err := lease.TryAcquire()
	if err != nil || !acquired {
		return
	}
	defer lease.Release()
	_, _ = co.fetchAndPublish()
}

func (co *Coalescer) fetchAndPublish() ([]byte, error) {
	v, err := co.cfg.Fetch()
	if err != nil {
		return nil, err
	}
	if err := co.c.Set(co.cfg.FreshKey, v, co.cfg.CacheTTL); err != nil {
		return nil, err
	}
	if co.cfg.StaleKey != "" {
		// Stale copy intentionally outlives the fresh TTL so tier 3 has
		// something to serve while the next refresh is in flight.
		staleTTL := co.cfg.CacheTTL * 10
		if err := co.c.Set(co.cfg.StaleKey, v, staleTTL); err != nil {
			return nil, err
		}
	}
	co.setLocal(v)
	return v, nil
}

func (co *Coalescer) pollForFresh() ([]byte, bool, error) {
	deadline := time.Now().Add(co.cfg.MaxWait)
	for time.Now().Before(deadline) {
		if v, ok, err := co.c.Get(co.cfg.FreshKey); err != nil {
			return nil, false, err
		} else if ok {
			co.setLocal(v)
			return v, true, nil
		}
		time.Sleep(co.cfg.WaitStep)
	}
	return co.cfg.Fallback, false, nil
}

func (co *Coalescer) getLocal() ([]byte, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.local == nil {
		return nil, false
	}
	if time.Now().After(co.local.expiresAt) {
		co.local = nil
		return nil, false
	}
	return co.local.value, true
}

func (co *Coalescer) setLocal(v []byte) {
	if co.shortTermTTL <= 0 {
		return
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	co.local = &localEntry{value: v, expiresAt: time.Now().Add(co.shortTermTTL)}
}
