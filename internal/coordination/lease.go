// Package coordination implements component B: the leader-lease primitive
// and the request-coalescing/staleness-tier primitive described in
// spec.md §4.2. Every upstream-bound operation in the fabric goes through
// one of these two types.
package coordination

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.Coordination)

// Lease makes a piece of work run in at most one process at a time, per
// spec.md §4.2's leader-lease paragraph. Acquire with set_if_absent;
// renew before half the TTL elapses; release only when the stored owner
// matches. A lost lease (another owner now holds the key) is surfaced by
// the next Renew call returning false so the caller can abort its critical
// section — the
// Lease never deletes a foreign owner's key.
type Lease struct {
	c       cache.Cache
	key     string
	ttl     time.Duration
	ownerID string

	mu      sync.Mutex
	held    bool
	lastErr error
}

// NewLease constructs a lease for the given cache key. Each process should
// use a distinct, stable ownerID for the lifetime of the lease; an empty
// ownerID generates a random one.
func NewLease(c cache.Cache, key string, ttl time.Duration, ownerID string) *Lease {
	if ownerID == "" {
		ownerID = uuid.NewString()
	}
	return &Lease{c: c, key: key, ttl: ttl, ownerID: ownerID}
}

// OwnerID returns this lease's owner identity.
func (l *Lease) OwnerID() string { return l.ownerID }

// TryAcquire attempts to become leader for Lease.ttl. Returns true if this
// call won the lease, or if the key already names this owner; that second
// case leaves the key's existing TTL unchanged.
func (l *Lease) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acquired, err := l.c.SetIfAbsent(l.key, []byte(l.ownerID), l.ttl)
	if err != nil {
		l.lastErr = err
		return false, err
	}
	if acquired {
		l.held = true
		return true, nil
	}
	// Someone else may hold it; check if it is actually us (e.g. after a
	// renew raced a TTL expiry) so we don't spuriously report loss.
	owner, ok, err := l.c.Get(l.key)
	if err != nil {
		return false, err
	}
	if ok && string(owner) == l.ownerID {
		l.held = true
		return true, nil
	}
	l.held = false
	return false, nil
}

// Renew extends the TTL if this lease still owns the key. Call this on a
// ticker at ttl/2, per spec.md §4.2. Returns false (without error) if
// ownership was lost — the caller must abort its critical section.
func (l *Lease) Renew() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok, err := l.c.Get(l.key)
	if err != nil {
		return false, err
	}
	if !ok {
		// Lease expired entirely between checks; try to reacquire rather
		// than silently renewing a key that no longer exists.
		acquired, err := l.c.SetIfAbsent(l.key, []byte(l.ownerID), l.ttl)
		l.held = acquired
		return acquired, err
	}
	if string(owner) != l.ownerID {
		if l.held {
			logger.Warn("lost lease to another owner", "key", l.key, "owner", l.ownerID, "newOwner", string(owner))
		}
		l.held = false
		return false, nil
	}
	if _, err := l.c.Expire(l.key, l.ttl); err != nil {
		return false, err
	}
	l.held = true
	return true, nil
}

// Held reports whether this lease believes it currently owns the key,
// without making a cache round trip.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Release deletes the lease key, but only if this owner still holds it —
// never deletes a foreign owner's lease.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok, err := l.c.Get(l.key)
	if err != nil {
		return err
	}
	if !ok || string(owner) != l.ownerID {
		l.held = false
		return nil
	}
	if err := l.c.Delete(l.key); err != nil {
		return err
	}
	l.held = false
	return nil
}

// RunRenewer starts a background goroutine that calls Renew every
// ttl/2 until stopCh is closed or Renew reports the lease lost (a Renew
// error is logged and does not stop it). It returns a channel that is
// closed once the goroutine has exited, so callers can wait for clean
// shutdown.
func (l *Lease) RunRenewer(stopCh <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		interval := l.ttl / 2
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if ok, err := l.Renew(); err != nil {
					logger.Error("lease renew failed", "key", l.key, "err", err)
				} else if !ok {
					return
				}
			}
		}
	}()
	return done
}
