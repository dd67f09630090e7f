package actor

import "github.com/google/uuid"

// PID is the unique, stable identity of one actor for its whole
// lifetime, minted as a UUID so identities stay unique across process
// restarts and are safe to use as correlation IDs in structured logs.
type PID struct {
	id uuid.UUID
}

func newPID() PID {
	return PID{id: uuid.New()}
}

func (p PID) String() string {
	return p.id.String()
}

// IsZero reports whether p is the zero PID (never assigned).
func (p PID) IsZero() bool {
	return p.id == uuid.Nil
}
