// Package failuresink holds the process-wide, append-only record of
// uncaught actor failures and transport errors. It exists so that
// errors inside a scheduler step or an ingress accept loop never
// escape to crash the process: they are redirected here and the
// offending actor or connection is torn down instead.
package failuresink

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one entry in the failure sink: the instant an error was
// observed and the error itself.
type Record struct {
	At  time.Time
	Err error
}

// Sink is a thread-safe append-only collection of Records. The zero
// value is ready to use; New additionally attaches a logger so
// every recorded failure is also emitted as a structured log event,
// which is how operators actually notice these in practice rather
// than polling Records.
type Sink struct {
	mu      sync.Mutex
	records []Record
	log     zerolog.Logger
}

// New constructs a Sink that also logs every recorded failure through
// log at warn level.
func New(log zerolog.Logger) *Sink {
	return &Sink{log: log.With().Str("component", "failuresink").Logger()}
}

// Record appends err to the sink, stamping the current time, and logs
// it. Safe to call from any goroutine, including a panicking one (the
// caller is expected to have already recovered).
func (s *Sink) Record(err error) {
	if err == nil {
		return
	}
	rec := Record{At: time.Now(), Err: err}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	s.log.Warn().Err(err).Time("at", rec.At).Msg("failure recorded")
}

// Records returns a snapshot copy of everything recorded so far.
// Intended for diagnostic tooling and tests, not for hot-path control
// flow.
func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports how many failures have been recorded.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var (
	globalOnce sync.Once
	global     *Sink
)

// Global returns the process-wide lazily-initialized sink. It logs
// nothing (its logger is zerolog.Nop()). Tests and embedders that
// want an injectable instance should construct their own via New
// instead of relying on this.
func Global() *Sink {
	globalOnce.Do(func() {
		global = New(zerolog.Nop())
	})
	return global
}
