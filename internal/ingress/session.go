package ingress

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// frameHeaderSize is the length, in bytes, of the big-endian uint32
// length prefix this package's default framing uses. The wire format
// beyond "length-prefixed frame" is a protocol concern out of scope
// here (§1); a real deployment swaps Propagator and, if needed, the
// frame reader for its own.
const frameHeaderSize = 4

// maxFrameSize bounds a single decoded frame so a malformed or
// malicious peer cannot make a session's read buffer grow without
// limit.
const maxFrameSize = 1 << 20 // 1 MiB

// Session wraps one accepted TCP connection: its permission set, its
// propagator collaborator, and the read loop that turns bytes off the
// wire into PostAsync calls against downstream actors (§3 "Connection
// session", §4.H).
type Session struct {
	ID       uuid.UUID
	conn     net.Conn
	remote   string
	caps     capabilitySet
	prop     Propagator
	partial  bool
	log      zerolog.Logger

	disconnectOnce sync.Once
	stopRead       chan struct{}
	readExited     chan struct{}
}

func newSession(conn net.Conn, prop Propagator, partial bool, log zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:         id,
		conn:       conn,
		remote:     conn.RemoteAddr().String(),
		caps:       newCapabilitySet(Connected),
		prop:       prop,
		partial:    partial,
		log:        log.With().Str("session", id.String()).Str("remote", conn.RemoteAddr().String()).Logger(),
		stopRead:   make(chan struct{}),
		readExited: make(chan struct{}),
	}
}

// RemoteAddr returns the session's remote endpoint as a string, the
// same value the listener's duplicate-address check keys on.
func (s *Session) RemoteAddr() string { return s.remote }

// Has reports whether the session currently holds cap.
func (s *Session) Has(cap Capability) bool { return s.caps.Has(cap) }

// Grant adds cap to the session's permission set. Permissions only
// ever grow for the life of a session (§3).
func (s *Session) Grant(cap Capability) { s.caps.Grant(cap) }

// Write sends raw bytes back to the peer. Safe to call from any
// actor's mailbox closure.
func (s *Session) Write(b []byte) (int, error) {
	return s.conn.Write(b)
}

// start launches the session's receive loop. The session never
// executes frame-handling code on this goroutine: every decoded frame
// is hinted to the Propagator, whose job is to PostAsync it onward.
func (s *Session) start() {
	go s.readLoop()
}

func (s *Session) readLoop() {
	defer close(s.readExited)

	r := bufio.NewReader(s.conn)
	if s.partial {
		s.readPartial(r)
	} else {
		s.readFramed(r)
	}
}

func (s *Session) readPartial(r *bufio.Reader) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stopRead:
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.prop.PropagatePartial(s, chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) readFramed(r *bufio.Reader) {
	header := make([]byte, frameHeaderSize)
	for {
		select {
		case <-s.stopRead:
			return
		default:
		}

		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header)
		if size > maxFrameSize {
			s.log.Warn().Uint32("size", size).Msg("frame exceeds maximum size, closing session")
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}

		s.prop.Propagate(s, frame)
	}
}

// disconnect stops the read loop and closes the underlying socket.
// Idempotent: a second call is a no-op (§3 "disconnect-once flag").
func (s *Session) disconnect() {
	s.disconnectOnce.Do(func() {
		close(s.stopRead)
		_ = s.conn.Close()
		<-s.readExited
	})
}
