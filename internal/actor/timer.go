package actor

import (
	"sync"
	"time"
)

// Timer is a wall-clock trigger that posts a callback into a target
// actor's mailbox when it fires (§3 "Timer", §4.F). It never invokes
// the callback on its own goroutine; firing always goes through
// PostAsync so the callback still runs under the target's single-
// threaded guarantee.
type Timer struct {
	mu       sync.Mutex
	target   *Ref
	callback func()
	clock    *time.Timer
	ticker   *time.Ticker
	stopCh   chan struct{}
	disposeOnce sync.Once
}

// NewTimer arms a timer against target: it fires once after delay,
// then (if period > 0) every period thereafter. period <= 0 means
// one-shot (§3).
func NewTimer(target *Ref, callback func(), delay, period time.Duration) *Timer {
	t := &Timer{target: target, callback: callback, stopCh: make(chan struct{})}
	t.arm(delay, period)
	return t
}

func (t *Timer) arm(delay, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh

	if period > 0 {
		go t.runPeriodic(delay, period, stopCh)
	} else {
		t.clock = time.AfterFunc(delay, func() {
			select {
			case <-stopCh:
				return
			default:
			}
			t.fire()
		})
	}
}

func (t *Timer) runPeriodic(delay, period time.Duration, stopCh chan struct{}) {
	initial := time.NewTimer(delay)
	select {
	case <-initial.C:
	case <-stopCh:
		initial.Stop()
		return
	}
	t.fire()

	ticker := time.NewTicker(period)
	t.mu.Lock()
	t.ticker = ticker
	t.mu.Unlock()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.fire()
		case <-stopCh:
			return
		}
	}
}

func (t *Timer) fire() {
	t.mu.Lock()
	target, cb := t.target, t.callback
	t.mu.Unlock()
	if target != nil && cb != nil {
		target.PostAsync(cb)
	}
}

// Change re-arms the timer with a new delay/period, as if freshly
// constructed (§6 "timer_change").
func (t *Timer) Change(delay, period time.Duration) {
	t.arm(delay, period)
}

func (t *Timer) stopLocked() {
	if t.clock != nil {
		t.clock.Stop()
		t.clock = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}

// Dispose stops the underlying wall-clock source exactly once (§4.F).
func (t *Timer) Dispose() {
	t.disposeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.stopLocked()
	})
}
