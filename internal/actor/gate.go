package actor

import "sync"

// manualResetGate is a manual-reset event: once Set, every current and
// future Wait call returns immediately until the next Clear. Used as
// the scheduler's processed-gate (§4.D step 3/5): cleared when a sweep
// run starts and set when the scheduler goes idle. Shutdown does not
// wait on this gate; scheduler.stop waits on the scheduler's stopped
// channel instead.
type manualResetGate struct {
	mu sync.Mutex
	ch chan struct{}
	on bool
}

func newManualResetGate() *manualResetGate {
	return &manualResetGate{ch: make(chan struct{})}
}

// set marks the gate open, releasing any current and future waiters
// until the next clear.
func (g *manualResetGate) set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.on {
		g.on = true
		close(g.ch)
	}
}

// clear marks the gate closed again; subsequent Wait calls block until
// the next set.
func (g *manualResetGate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.on {
		g.on = false
		g.ch = make(chan struct{})
	}
}

// wait blocks until the gate is open.
func (g *manualResetGate) wait() {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	<-ch
}
