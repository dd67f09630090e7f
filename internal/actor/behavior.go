package actor

// Behavior is the subclass-extension point for an actor's long-running
// cooperative main sequence and its failure/teardown hooks. Embed Base
// to get the default shape: an empty main sequence (an immediate
// Break) and a failure hook that disposes the actor.
type Behavior interface {
	// Step advances the main step-sequence once. The default (Base)
	// yields Break immediately, meaning "no long-running main routine".
	// Overriding behaviors (periodic housekeeping, a packet pump, ...)
	// return Continue to be stepped again next sweep, or Dispose to
	// tear themselves down.
	Step() Operation

	// HandleFailure is invoked when a posted closure or Step panics.
	// The panic has already been recovered and recorded in the failure
	// sink before this is called. The default (Base) returns Dispose;
	// a behavior may override to attempt recovery and return Continue
	// instead.
	HandleFailure(err error) Operation

	// OnDispose runs exactly once, on the owning scheduler goroutine,
	// the first time the actor is disposed. Use it to release
	// resources the behavior opened (files, child timers, ...).
	OnDispose()
}

// Base is embedded by concrete actor behaviors to pick up the default
// Step/HandleFailure/OnDispose implementations without having to write
// boilerplate for the common case of "no main routine".
type Base struct{}

// Step implements Behavior with the default empty main sequence.
func (Base) Step() Operation { return Break }

// HandleFailure implements Behavior's default: dispose on failure. The
// actual failure-sink recording happens in the scheduler before this
// is called, so behaviors overriding this do not need to re-record.
func (Base) HandleFailure(error) Operation { return Dispose }

// OnDispose implements Behavior's default no-op teardown.
func (Base) OnDispose() {}
