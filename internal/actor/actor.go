package actor

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Ref is the externally-visible handle to one actor. Exactly one
// scheduler goroutine ever executes a step (main or message) of the
// actor behind a Ref at any instant (§3 invariant); callers only ever
// see this handle, never the scheduler-owned internals.
type Ref struct {
	pid      PID
	pool     *Pool
	behavior Behavior
	mbox     *mailbox
	log      zerolog.Logger

	sched *scheduler // assigned at registration, never reassigned while active

	active   atomic.Bool
	disposed atomic.Bool

	disposeOnce sync.Once
	joinGate    *waitHandle
}

func newRef(pool *Pool, behavior Behavior) *Ref {
	pid := newPID()
	return &Ref{
		pid:      pid,
		pool:     pool,
		behavior: behavior,
		mbox:     newMailbox(),
		log:      pool.log.With().Str("actor", pid.String()).Logger(),
		joinGate: newWaitHandle(),
	}
}

// PID returns the actor's stable identity.
func (r *Ref) PID() PID { return r.pid }

// PostAsync enqueues fn on the actor's mailbox (§4.C). If fn is at the
// head of the mailbox when this checks and the actor is not currently
// active, the scheduler that owns the actor is asked to re-enqueue it.
// If fn is not at the head (earlier closures are still queued ahead of
// it, or fn has already been dequeued), nothing further is done.
func (r *Ref) PostAsync(fn func()) {
	if r.disposed.Load() {
		return
	}
	wasHead := r.mbox.post(closure(fn))
	if wasHead && !r.active.Load() {
		r.sched.add(r)
	}
}

// PostWait wraps fn in a closure that additionally signals a fresh
// one-shot gate once fn has executed, and returns that gate as a
// Waitable. Waiting on it from the posting goroutine blocks until the
// actor has executed fn; waiting on it from inside the target actor's
// own step would deadlock (the scheduler thread would be blocked
// waiting on itself) and is explicitly undefined behavior, same as
// upstream.
func (r *Ref) PostWait(fn func()) Waitable {
	gate := newWaitHandle()
	r.PostAsync(func() {
		fn()
		gate.signal()
	})
	return waitableHandle{h: gate}
}

// Join blocks the caller until the actor has been fully disposed. The
// gate is signaled exactly once, on the scheduler goroutine, right
// after disposal completes.
func (r *Ref) Join() {
	r.joinGate.wait()
}

// Dispose requests orderly teardown of the actor. Per §4.C, a dispose
// initiated from outside the actor is routed through the mailbox so it
// always executes on the owning scheduler goroutine, never
// concurrently with another step. Calling Dispose more than once is a
// no-op beyond the first.
func (r *Ref) Dispose() {
	if r.disposed.Load() {
		return
	}
	r.PostAsync(r.disposeInternal)
}

// disposeInternal performs the actual, idempotent teardown. It must
// only ever run on the owning scheduler goroutine: either because a
// message closure invoked it (the normal Dispose() path above), or
// because the scheduler's own shutdown sweep calls it directly while
// running on that same goroutine.
func (r *Ref) disposeInternal() {
	r.disposeOnce.Do(func() {
		r.disposed.Store(true)
		r.behavior.OnDispose()
		r.joinGate.signal()
		if r.pool != nil {
			r.pool.forget(r)
		}
	})
}

// advanceMessage drains at most one mailbox slot and returns the
// Operation it yields: Continue when the mailbox was empty, otherwise
// whatever the invoked closure's outcome implies. A panicking closure
// is recovered, recorded in the failure sink, and yields whatever
// behavior.HandleFailure returns (Dispose by default). It never
// disposes the actor itself — see sweepOnce, which evaluates both the
// main and message side before acting on either's Dispose.
func (r *Ref) advanceMessage() (op Operation) {
	fn, ok := r.mbox.tryDequeue()
	if !ok {
		return Continue
	}
	op = Continue
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err := panicToError(rec)
				r.pool.sink.Record(err)
				op = r.behavior.HandleFailure(err)
			}
		}()
		fn()
	}()
	return op
}

// advanceMain advances the behavior's main step-sequence once. A
// panic here is treated the same as a message-handler failure: it
// never escapes to the scheduler goroutine's caller. Like
// advanceMessage, it only reports the Operation it yields and never
// disposes the actor itself, so that a Dispose from the main side
// never pre-empts the message side's turn in the same sweep (§8
// scenario 3, Testable Property 3: no step runs after disposal).
func (r *Ref) advanceMain() (op Operation) {
	op = Break
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err := panicToError(rec)
				r.pool.sink.Record(err)
				op = r.behavior.HandleFailure(err)
			}
		}()
		op = r.behavior.Step()
	}()
	return op
}

// hasMailboxWork reports whether the mailbox still has pending
// closures, used by the scheduler after advancing both sides to decide
// whether the actor still has message-side work.
func (r *Ref) hasMailboxWork() bool {
	return !r.mbox.empty()
}
