package actor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/duskforge/loomrt/internal/failuresink"
)

// Pool is a fixed-size set of schedulers that owns the lifetime of
// every actor registered with it (§3 "Context", §4.E). Pools only
// assign actors to a scheduler at creation time; there is no work
// stealing afterwards (Non-goals, §1).
type Pool struct {
	schedulers []*scheduler
	sink       *failuresink.Sink
	log        zerolog.Logger

	disposed    atomic.Bool
	disposeOnce sync.Once
}

// Option configures a Pool at construction time.
type Option func(*poolOptions)

type poolOptions struct {
	schedulers int
	log        zerolog.Logger
	sink       *failuresink.Sink
}

// WithSchedulerCount overrides the default scheduler count (the host's
// logical CPU count).
func WithSchedulerCount(n int) Option {
	return func(o *poolOptions) { o.schedulers = n }
}

// WithLogger attaches a structured logger; schedulers and actors log
// through children of it.
func WithLogger(log zerolog.Logger) Option {
	return func(o *poolOptions) { o.log = log }
}

// WithFailureSink attaches an explicit failure sink instead of the
// process-wide global one. Prefer this in tests so failures from one
// test don't bleed into another's assertions (§9 "Global state").
func WithFailureSink(sink *failuresink.Sink) Option {
	return func(o *poolOptions) { o.sink = sink }
}

// NewPool creates a Pool of N schedulers, each its own goroutine, and
// starts them immediately. N defaults to runtime.NumCPU() when no
// WithSchedulerCount option is given.
func NewPool(opts ...Option) *Pool {
	o := poolOptions{schedulers: runtime.NumCPU(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.schedulers < 1 {
		o.schedulers = 1
	}
	if o.sink == nil {
		o.sink = failuresink.Global()
	}

	p := &Pool{sink: o.sink, log: o.log}
	p.schedulers = make([]*scheduler, o.schedulers)
	for i := range p.schedulers {
		s := newScheduler(i, o.log, o.sink)
		p.schedulers[i] = s
		go s.run()
	}
	return p
}

// FailureSink returns the pool's failure sink, for diagnostics.
func (p *Pool) FailureSink() *failuresink.Sink { return p.sink }

// SchedulerCount reports how many schedulers this pool owns.
func (p *Pool) SchedulerCount() int { return len(p.schedulers) }

// SchedulerLoads returns the approximate active-actor count of every
// scheduler in the pool, in scheduler-index order. Intended for metrics
// exporters (internal/metrics); like pickScheduler's own read, this is
// a racy snapshot.
func (p *Pool) SchedulerLoads() []int32 {
	loads := make([]int32, len(p.schedulers))
	for i, s := range p.schedulers {
		loads[i] = s.load()
	}
	return loads
}

// WakeCounts returns how many times each scheduler's wake signal has
// fired so far, in scheduler-index order. Exposed for tests and
// metrics; see §8 scenario 2.
func (p *Pool) WakeCounts() []int64 {
	counts := make([]int64, len(p.schedulers))
	for i, s := range p.schedulers {
		counts[i] = s.wakeCount.Load()
	}
	return counts
}

// Spawn creates a new actor backed by behavior and registers it with
// the least-loaded scheduler in the pool (§4.E "register"), returning
// a Ref the caller uses to interact with it.
func (p *Pool) Spawn(behavior Behavior) *Ref {
	r := newRef(p, behavior)
	s := p.pickScheduler()
	s.registerNew(r)
	return r
}

// pickScheduler selects the scheduler with the smallest approximate
// active-actor count. The read is intentionally racy — exact balance
// across schedulers is not a guarantee this runtime makes (§4.E).
func (p *Pool) pickScheduler() *scheduler {
	best := p.schedulers[0]
	bestLoad := best.load()
	for _, s := range p.schedulers[1:] {
		if l := s.load(); l < bestLoad {
			best, bestLoad = s, l
		}
	}
	return best
}

// forget removes r from its scheduler's registry. Invoked by
// Ref.disposeInternal.
func (p *Pool) forget(r *Ref) {
	if r.sched != nil {
		r.sched.forgetRegistered(r)
	}
}

// Dispose tears down every scheduler owned by the pool, in order,
// disposing every actor still registered with each (§3 "Context
// Lifecycle", §4.D "Shutdown"). Safe to call more than once; only the
// first call has an effect.
func (p *Pool) Dispose() {
	p.disposeOnce.Do(func() {
		p.disposed.Store(true)
		for _, s := range p.schedulers {
			s.stop()
		}
	})
}

// IsDisposed reports whether Dispose has been called.
func (p *Pool) IsDisposed() bool { return p.disposed.Load() }

var (
	globalOnce sync.Once
	global     *Pool
)

// Global returns the process-wide, lazily-initialized Pool, sized to
// the host's logical CPU count. Prefer an explicitly-constructed Pool
// (via NewPool) in tests and embedders that want an injectable
// instance (§9 "Global state").
func Global() *Pool {
	globalOnce.Do(func() {
		global = NewPool()
	})
	return global
}
