package interfaces

import "liveclass/pkg/types"

// Connection is one authenticated live transport session.
// Implementations must make Emit safe for concurrent callers.
type Connection interface {
	// ID is unique per live socket.
	ID() string

	// Identity is resolved once at connect time and never changes.
	Identity() *types.Identity

	// Emit pushes a server event to the client. Delivery is best-effort.
	Emit(event string, payload interface{}) error

	// Close terminates the transport. It is safe to call more than once.
	Close() error
}
