// Package ingress implements the TCP accept/receive front-end that
// injects work into the actor runtime (SPEC_FULL.md §4.H): a listener
// that accepts connections subject to a configurable backlog and
// duplicate-address policy, and per-connection sessions whose receive
// loops hand decoded frames to a Propagator rather than ever executing
// handling code on the I/O goroutine.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/net/netutil"

	"github.com/duskforge/loomrt/internal/failuresink"
)

// ListenerConfig carries the accept-path tunables from §4.H.
type ListenerConfig struct {
	// Backlog bounds how many accepted connections may be open at once;
	// once that many are open, Accept waits until one of them closes.
	// Go's net package does not expose the kernel listen() backlog
	// directly, so this is enforced as a connection-admission limit via
	// golang.org/x/net/netutil instead (SPEC_FULL.md §11).
	Backlog int

	// AllowMultiConn, when false, rejects a newly accepted connection
	// whose remote address already has a live session.
	AllowMultiConn bool

	// NagleEnabled toggles Nagle's algorithm on accepted sockets.
	// Changes only take effect for connections accepted after Start is
	// called again.
	NagleEnabled bool

	// PartialFrames, when true, forwards incremental bytes to the
	// Propagator instead of buffering until a full frame decodes.
	PartialFrames bool

	// AcceptCooldown is the open-state timeout of the accept loop's
	// circuit breaker. The accept loop stops at the first socket-level
	// Accept failure (§4.H failure kind 2), because the breaker hands
	// that failure's error straight back, so the breaker never reaches
	// its trip threshold and this value does not change when accepting
	// stops.
	AcceptCooldown time.Duration
}

// SessionObserver receives accept-path lifecycle counts. Satisfied by
// internal/metrics.Registry; kept as a narrow interface here so this
// package does not need to import the Prometheus client directly.
type SessionObserver interface {
	SessionAccepted()
	SessionClosed()
	SessionRejected()
}

// Listener is the TCP accept/receive front-end coupling to the actor
// runtime (§4.H). Construct with NewListener, then Start an address.
type Listener struct {
	cfg  ListenerConfig
	prop Propagator
	log  zerolog.Logger
	sink *failuresink.Sink
	obs  SessionObserver

	recent *lru.Cache[string, time.Time]

	ln      net.Listener
	breaker *gobreaker.CircuitBreaker

	mu sync.Mutex
	// clients is the canonical live-session list, keyed by session ID
	// so that it stays accurate regardless of AllowMultiConn: two
	// sessions can share a remote address, but never a session ID.
	clients map[string]*Session
	// byRemote backs the AllowMultiConn=false duplicate check; only
	// meaningful when at most one live session per remote address is
	// permitted (§9 Open Question "guard every access to _clients").
	byRemote map[string]*Session

	obsMu          sync.Mutex
	onConnected    []func(*Session)
	onDisconnected []func(*Session)

	stopOnce sync.Once
	stopped  chan struct{}
}

// Option configures a Listener at construction time.
type Option func(*Listener)

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithFailureSink attaches an explicit failure sink instead of the
// process-wide global one.
func WithFailureSink(sink *failuresink.Sink) Option {
	return func(l *Listener) { l.sink = sink }
}

// WithObserver attaches a SessionObserver (typically a
// *metrics.Registry) that is told about accepts, closes, and
// rejections.
func WithObserver(obs SessionObserver) Option {
	return func(l *Listener) { l.obs = obs }
}

// NewListener constructs a Listener bound to propagator prop. It does
// not bind a socket until Start is called.
func NewListener(prop Propagator, cfg ListenerConfig, opts ...Option) *Listener {
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1
	}
	l := &Listener{
		cfg:      cfg,
		prop:     prop,
		log:      zerolog.Nop(),
		clients:  make(map[string]*Session),
		byRemote: make(map[string]*Session),
		stopped:  make(chan struct{}),
	}
	recent, _ := lru.New[string, time.Time](1024)
	l.recent = recent

	for _, opt := range opts {
		opt(l)
	}
	if l.sink == nil {
		l.sink = failuresink.Global()
	}

	var breakerName = "ingress-accept"
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.AcceptCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("accept circuit breaker state change")
		},
	})
	return l
}

// OnClientConnected registers an observer invoked (synchronously, on
// the accept goroutine, after the session has been admitted) for every
// newly accepted session.
func (l *Listener) OnClientConnected(fn func(*Session)) {
	l.obsMu.Lock()
	l.onConnected = append(l.onConnected, fn)
	l.obsMu.Unlock()
}

// OnClientDisconnected registers an observer invoked once a session's
// receive loop has exited and it has been removed from the live list.
func (l *Listener) OnClientDisconnected(fn func(*Session)) {
	l.obsMu.Lock()
	l.onDisconnected = append(l.onDisconnected, fn)
	l.obsMu.Unlock()
}

// Start binds addr:port as an IPv4 TCP listener and begins accepting
// (§4.H "Listener responsibilities"). It returns once the socket is
// bound; accepting happens on a background goroutine.
func (l *Listener) Start(addr string, port int) error {
	if port < 0 {
		return fmt.Errorf("ingress: invalid port %d", port)
	}
	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("ingress: listen %s:%d: %w", addr, port, err)
	}
	l.ln = netutil.LimitListener(ln, l.cfg.Backlog)
	l.log.Info().Str("addr", addr).Int("port", port).Int("backlog", l.cfg.Backlog).Msg("listener started")

	go l.acceptLoop()
	return nil
}

func (l *Listener) acceptLoop() {
	defer close(l.stopped)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.sink.Record(fmt.Errorf("ingress: accept error: %w", err))
			if _, exErr := l.breaker.Execute(func() (any, error) { return nil, err }); exErr != nil {
				l.log.Error().Err(err).Msg("accept failed, stopping accept loop")
				return
			}
			continue
		}
		l.handleAccept(conn)
	}
}

func (l *Listener) handleAccept(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(!l.cfg.NagleEnabled)
	}

	remote := conn.RemoteAddr().String()

	if !l.cfg.AllowMultiConn {
		l.mu.Lock()
		_, dup := l.byRemote[remote]
		l.mu.Unlock()
		if dup {
			l.log.Warn().Str("remote", remote).Msg("rejecting duplicate connection from same remote address")
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.CloseWrite()
			}
			_ = conn.Close()
			if l.obs != nil {
				l.obs.SessionRejected()
			}
			return
		}
	}

	if when, ok := l.recent.Get(remote); ok && time.Since(when) < time.Second {
		l.log.Debug().Str("remote", remote).Msg("remote address reconnected quickly after last disconnect")
	}
	l.recent.Add(remote, time.Now())

	sess := newSession(conn, l.prop, l.cfg.PartialFrames, l.log)

	l.mu.Lock()
	l.clients[sess.ID.String()] = sess
	if !l.cfg.AllowMultiConn {
		l.byRemote[remote] = sess
	}
	l.mu.Unlock()

	if l.obs != nil {
		l.obs.SessionAccepted()
	}

	l.obsMu.Lock()
	hooks := append([]func(*Session){}, l.onConnected...)
	l.obsMu.Unlock()
	for _, fn := range hooks {
		fn(sess)
	}

	sess.start()
	go l.awaitDisconnect(sess)
}

func (l *Listener) awaitDisconnect(sess *Session) {
	<-sess.readExited

	l.mu.Lock()
	delete(l.clients, sess.ID.String())
	if l.byRemote[sess.remote] == sess {
		delete(l.byRemote, sess.remote)
	}
	l.mu.Unlock()

	if l.obs != nil {
		l.obs.SessionClosed()
	}

	l.obsMu.Lock()
	hooks := append([]func(*Session){}, l.onDisconnected...)
	l.obsMu.Unlock()
	for _, fn := range hooks {
		fn(sess)
	}
}

// Stop disconnects every live client, clears the live list, and shuts
// the listening socket down (§4.H "Stop path"). The spec explicitly
// does not promise idempotency beyond one call; this implementation
// guards the obvious double-close panic with a sync.Once as a safety
// net, without claiming well-defined behavior for concurrent Stop
// calls racing the first one.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		clients := make([]*Session, 0, len(l.clients))
		for _, c := range l.clients {
			clients = append(clients, c)
		}
		l.clients = make(map[string]*Session)
		l.byRemote = make(map[string]*Session)
		l.mu.Unlock()

		for _, c := range clients {
			c.disconnect()
		}

		if l.ln != nil {
			_ = l.ln.Close()
		} else {
			// acceptLoop never started, so nothing will close
			// l.stopped on our behalf.
			close(l.stopped)
		}
	})
	<-l.stopped
}

// LiveSessionCount reports how many sessions are currently in the live
// list. Intended for tests and diagnostics.
func (l *Listener) LiveSessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Addr returns the listener's bound address, or nil if Start has not
// been called yet. Intended for tests that bind an ephemeral port
// (port 0) and need to learn what the OS actually assigned.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
