package actor

import "sync"

// waitHandle is a one-shot, single-wait, single-signal event. Signal is
// idempotent in observable effect: a second call is a no-op. Wait
// blocks until the first Signal.
//
// The source this runtime is modeled on hands an AutoResetEvent back
// from post_wait; what happens if a caller reuses it for a second wait
// after the first fires is unspecified upstream. This implementation
// treats it as strictly single-wait, single-signal and documents that
// choice rather than trying to preserve auto-reset semantics no caller
// in this runtime needs.
type waitHandle struct {
	once sync.Once
	done chan struct{}
}

func newWaitHandle() *waitHandle {
	return &waitHandle{done: make(chan struct{})}
}

// signal releases any and all waiters. Safe to call more than once;
// only the first call has an effect.
func (w *waitHandle) signal() {
	w.once.Do(func() { close(w.done) })
}

// wait blocks until signal has been called.
func (w *waitHandle) wait() {
	<-w.done
}

// Waitable is the caller-facing view of a waitHandle returned from
// PostWait: it can only be waited on, never signaled.
type Waitable interface {
	Wait()
}

type waitableHandle struct{ h *waitHandle }

func (w waitableHandle) Wait() { w.h.wait() }
