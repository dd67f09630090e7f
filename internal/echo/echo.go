// Package echo is a minimal Propagator + actor Behavior pair that
// demonstrates the session→actor coupling contract (SPEC_FULL.md
// §4.H): one SessionActor per accepted connection, spawned when the
// session's first frame arrives, echoing every decoded frame back to
// its peer. It is the
// default wiring cmd/loomrtd uses; a real deployment supplies its own
// protocol-specific Propagator instead (out of scope, §1).
package echo

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/duskforge/loomrt/internal/actor"
	"github.com/duskforge/loomrt/internal/ingress"
)

// SessionActor owns one session's frame handling. Every message it
// receives executes on its scheduler goroutine, never concurrently
// with another step of the same actor (§3 invariant).
type SessionActor struct {
	actor.Base
	sess *ingress.Session
	log  zerolog.Logger
}

// Receive is the closure body PostAsync wraps for a decoded frame:
// echo it straight back to the peer that sent it.
func (s *SessionActor) Receive(frame []byte) {
	if _, err := s.sess.Write(frame); err != nil {
		s.log.Warn().Err(err).Msg("echo write failed")
	}
}

// OnDispose logs teardown, overriding actor.Base's no-op.
func (s *SessionActor) OnDispose() {
	s.log.Debug().Msg("session actor disposed")
}

type entry struct {
	ref      *actor.Ref
	behavior *SessionActor
}

// Propagator spawns one SessionActor per session and posts every
// decoded frame to it.
type Propagator struct {
	pool *actor.Pool
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// NewPropagator constructs a Propagator that spawns actors on pool.
func NewPropagator(pool *actor.Pool, log zerolog.Logger) *Propagator {
	return &Propagator{
		pool:    pool,
		log:     log,
		entries: make(map[string]entry),
	}
}

func (p *Propagator) entryFor(sess *ingress.Session) entry {
	key := sess.ID.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e
	}
	behavior := &SessionActor{sess: sess, log: p.log.With().Str("session", key).Logger()}
	ref := p.pool.Spawn(behavior)
	e := entry{ref: ref, behavior: behavior}
	p.entries[key] = e
	return e
}

// Forget disposes and drops the actor backing sess, if any. Call this
// from a Listener's OnClientDisconnected hook.
func (p *Propagator) Forget(sess *ingress.Session) {
	key := sess.ID.String()

	p.mu.Lock()
	e, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()

	if ok {
		e.ref.Dispose()
	}
}

// Propagate implements ingress.Propagator for full frames.
func (p *Propagator) Propagate(sess *ingress.Session, frame []byte) {
	e := p.entryFor(sess)
	e.ref.PostAsync(func() { e.behavior.Receive(frame) })
}

// PropagatePartial implements ingress.Propagator for raw chunks,
// treating each chunk as its own frame.
func (p *Propagator) PropagatePartial(sess *ingress.Session, chunk []byte) {
	p.Propagate(sess, chunk)
}
