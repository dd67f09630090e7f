package ingress

// Propagator is the external collaborator a Session hands decoded
// frames to. It resolves the destination actor(s) for a frame and
// posts a closure carrying it via actor.Ref.PostAsync — the session
// itself never executes frame-handling code on its own I/O goroutine
// (§4.H "Session → actor coupling contract").
//
// The wire protocol a frame encodes is deliberately out of scope here
// (§1): Propagator implementations live with the protocol-specific
// packet handlers, not in this package.
type Propagator interface {
	// Propagate is called once per complete frame when the session is
	// configured with PartialFrames disabled.
	Propagate(sess *Session, frame []byte)

	// PropagatePartial is called once per chunk of bytes read off the
	// wire when the session is configured with PartialFrames enabled,
	// before any frame boundary has necessarily been established.
	PropagatePartial(sess *Session, chunk []byte)
}
