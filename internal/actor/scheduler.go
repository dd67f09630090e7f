package actor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/duskforge/loomrt/internal/failuresink"
)

// scheduler is a single dedicated goroutine running a cooperative
// round-robin sweep over a dynamic set of actors (§3, §4.D). Within a
// scheduler, execution is strictly single-threaded: only one actor
// step runs at a time. Across schedulers, actors bound to different
// ones progress in parallel.
type scheduler struct {
	id  int
	log zerolog.Logger
	sink *failuresink.Sink

	arrivals mpscQueue[*Ref] // MPSC: any goroutine may add(), only run() drains
	wake     chan struct{}   // auto-reset, level-triggered wake signal
	wakeCount atomic.Int64

	processedGate *manualResetGate // manual-reset; open while the scheduler is idle/quiescent

	running atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	// active is the owned list of actors currently being swept. Touched
	// only by the run() goroutine; no lock required.
	active []*Ref

	actorCount atomic.Int32 // approximate load, read cross-goroutine by Pool.pickScheduler

	regMu      sync.Mutex
	registered map[PID]*Ref
}

func newScheduler(id int, log zerolog.Logger, sink *failuresink.Sink) *scheduler {
	s := &scheduler{
		id:            id,
		log:           log.With().Int("scheduler", id).Logger(),
		sink:          sink,
		wake:          make(chan struct{}, 1),
		processedGate: newManualResetGate(),
		stopped:       make(chan struct{}),
		registered:    make(map[PID]*Ref),
	}
	s.processedGate.set() // idle until the first arrival
	s.running.Store(true)
	return s
}

// registerNew binds r to this scheduler for its whole lifetime and
// enqueues it for its first sweep. Called exactly once per actor, at
// creation.
func (s *scheduler) registerNew(r *Ref) {
	r.sched = s
	s.regMu.Lock()
	s.registered[r.pid] = r
	s.regMu.Unlock()
	s.add(r)
}

// add enqueues r on the arrival queue and raises the wake signal. May
// be called from any goroutine (§4.D "add(actor)").
func (s *scheduler) add(r *Ref) {
	s.arrivals.push(r)
	s.wakeUp()
}

func (s *scheduler) wakeUp() {
	s.wakeCount.Add(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// load returns the approximate number of actors currently being swept,
// used by Pool.pickScheduler to pick the least-loaded scheduler. Racy by
// design: exact balance is not required (§4.E).
func (s *scheduler) load() int32 {
	return s.actorCount.Load()
}

// run is the scheduler's thread body (§4.D steps 1-5). It must be
// started in its own goroutine and runs until stop() is called.
func (s *scheduler) run() {
	defer close(s.stopped)
	for {
		<-s.wake

		s.drainArrivals()
		s.processedGate.clear()

		for len(s.active) > 0 {
			s.drainArrivals()
			s.sweepOnce()
			if !s.running.Load() {
				// The current sweep has finished; don't start another.
				// Shutdown does not wait for the active list to drain —
				// remaining actors are disposed directly below.
				break
			}
			runtime.Gosched()
		}

		s.processedGate.set()

		if !s.running.Load() {
			s.disposeAllRegistered()
			return
		}
	}
}

// drainArrivals moves every pending new actor from the arrival queue
// onto the active list, skipping any that lost the race and are
// already marked active elsewhere (§4.D step 2).
func (s *scheduler) drainArrivals() {
	for _, r := range s.arrivals.drain() {
		if r.active.Load() {
			continue
		}
		r.active.Store(true)
		s.active = append(s.active, r)
		s.actorCount.Add(1)
	}
}

// sweepOnce advances every active actor by exactly one main step and
// one message step, in order, and drops any that no longer have work
// or have been disposed (§4.D step 4). Both sides are always
// evaluated; this is deliberately not short-circuited (§5, §8
// scenario 3): a main sequence yielding Break must never prevent the
// message side from draining a pending closure in the same sweep.
// Neither advanceMain nor advanceMessage disposes the actor itself —
// disposal is applied here, exactly once, only after both sides have
// run, so a Dispose from the main step can never cut off a
// still-queued message step in the same sweep (Testable Property 3).
func (s *scheduler) sweepOnce() {
	kept := s.active[:0]
	for _, r := range s.active {
		if r.disposed.Load() {
			s.actorCount.Add(-1)
			continue
		}

		mainOp := r.advanceMain()
		msgOp := r.advanceMessage()

		if mainOp == Dispose || msgOp == Dispose {
			r.disposeInternal()
		}

		if r.disposed.Load() {
			s.actorCount.Add(-1)
			continue
		}

		if mainOp == Continue || r.hasMailboxWork() {
			kept = append(kept, r)
			continue
		}

		r.active.Store(false)
		s.actorCount.Add(-1)
	}
	s.active = kept
}

// forgetRegistered removes r from this scheduler's registry. Called
// from Ref.disposeInternal, always on this scheduler's own goroutine.
func (s *scheduler) forgetRegistered(r *Ref) {
	s.regMu.Lock()
	delete(s.registered, r.pid)
	s.regMu.Unlock()
}

// stop clears the running flag and blocks until the scheduler
// goroutine has disposed every still-registered actor and exited
// (§4.D "Shutdown", §7 "Quiescence wait" — no timeout). Safe to call
// more than once.
func (s *scheduler) stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.wakeUp()
	})
	<-s.stopped
}

// disposeAllRegistered is the one-shot *Disposed* broadcast every
// registered actor receives on scheduler teardown (§4.D "Shutdown",
// §4.C "disposal hook"). It runs on the scheduler's own goroutine, so
// disposeInternal's single-writer invariant holds even here.
func (s *scheduler) disposeAllRegistered() {
	s.regMu.Lock()
	refs := make([]*Ref, 0, len(s.registered))
	for _, r := range s.registered {
		refs = append(refs, r)
	}
	s.regMu.Unlock()

	for _, r := range refs {
		r.disposeInternal()
	}
}
