// Package supervisor implements component H: the one-process-per-worker
// lifecycle from spec.md §4.8. A Supervisor acquires a process-wide lock
// before it will run a worker at all, keeps that lock alive with a
// half-TTL renewer for as long as the worker runs, and ties the whole
// thing to the process's signal handling the way cmd/utils.StartNode does
// for the teacher's node process.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcdash/aggregator/internal/coordination"
	"github.com/btcdash/aggregator/internal/log"
	"github.com/btcdash/aggregator/internal/workers"
)

var logger = log.NewModuleLogger(log.Supervisor)

// Supervisor runs exactly one workers.Worker under a process-wide lock.
// This deliberately avoids in-process multi-threaded worker pools for the
// ingest loops: one OS process holds the lock, runs the worker, and exits
// the moment it can no longer prove it still holds it.
type Supervisor struct {
	lock *coordination.Lease
}

// New builds a Supervisor around the given lock. Callers typically pass
// the same *coordination.Lease they also thread into a workers.Loop, so
// the process-wide startup gate and the per-tick leader check share one
// owner identity; TryAcquire/Renew are safe to call from both places.
func New(lock *coordination.Lease) *Supervisor {
	return &Supervisor{lock: lock}
}

// Run acquires the process-wide lock, aborting with a non-nil error if
// another process already holds it, then runs worker.Run under a context
// that is canceled either by SIGINT/SIGTERM or by the background renewer
// losing the lock. Run blocks until the worker returns or the lock is
// lost, and always attempts to release the lock before returning — unless
// it was the one that lost it.
func (s *Supervisor) Run(ctx context.Context, worker workers.Worker) error {
	acquired, err := s.lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("supervisor: lock acquire failed: %w", err)
	}
	if !acquired {
		return fmt.Errorf("supervisor: lock already held by another process")
	}
	logger.Info("acquired process lock", "owner", s.lock.OwnerID())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopCh := make(chan struct{})
	renewerDone := s.lock.RunRenewer(stopCh)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(runCtx)
	}()

	lostLock := false
	select {
	case <-workerDone:
		// Worker returned on its own (parent ctx canceled by the caller).
	case <-sigc:
		logger.Info("got interrupt, shutting down")
		cancel()
		s.waitOrEscalate(sigc, workerDone)
	case <-renewerDone:
		// RunRenewer only closes this channel when Renew reports the lock
		// was lost (it logs the error case itself and keeps retrying).
		lostLock = true
		logger.Error("lost process lock, aborting worker", "owner", s.lock.OwnerID())
		cancel()
		<-workerDone
	}

	close(stopCh)
	<-renewerDone

	if lostLock {
		return fmt.Errorf("supervisor: lost process lock during run")
	}
	if err := s.lock.Release(); err != nil {
		logger.Warn("failed to release process lock", "err", err)
	}
	return nil
}

// waitOrEscalate mirrors cmd/utils.StartNode's escalation behavior: the
// first signal starts a graceful shutdown, further signals are logged as
// a warning, and a burst of repeated signals panics rather than hang
// forever on a worker that refuses to exit.
func (s *Supervisor) waitOrEscalate(sigc <-chan os.Signal, workerDone <-chan struct{}) {
	for i := 10; i > 0; i-- {
		select {
		case <-workerDone:
			return
		case <-sigc:
			if i > 1 {
				logger.Warn("already shutting down, interrupt more to force exit", "times", i-1)
			}
		}
	}
	panic("supervisor: worker did not exit after repeated interrupts")
}
