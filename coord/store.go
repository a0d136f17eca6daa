// Package coord defines the contract all coordination backends implement:
// a hierarchical node store with session-bound ephemeral nodes, versioned
// writes, and an asynchronous session event stream.
package coord

import "context"

// AnyVersion disables the version check on Set and Delete.
const AnyVersion int32 = -1

// Store is the backend boundary. Implementations translate every
// backend-native failure into the sentinel errors of this package; no
// driver error type crosses above this interface.
type Store interface {
	// CreatePersistent creates a node that outlives the session. The parent
	// must exist (ErrNodeMissing) and the node must not (ErrNodeExists).
	CreatePersistent(ctx context.Context, path string, data []byte) error

	// CreateEphemeral creates a node bound to the current session; it is
	// removed automatically when the session ends. Creation is atomic with
	// respect to concurrent creators of the same path.
	CreateEphemeral(ctx context.Context, path string, data []byte) error

	// Exists reports whether a live node occupies path.
	Exists(ctx context.Context, path string) (bool, error)

	// Children returns the names of the node's children in lexical order.
	Children(ctx context.Context, path string) ([]string, error)

	// Get returns the node's data and current version.
	Get(ctx context.Context, path string) ([]byte, int32, error)

	// Set replaces the node's data if version matches the stored version
	// (ErrVersionMismatch otherwise) and returns the new version.
	// AnyVersion writes unconditionally.
	Set(ctx context.Context, path string, data []byte, version int32) (int32, error)

	// Delete removes a childless node (ErrNotEmpty otherwise), subject to
	// the same version check as Set.
	Delete(ctx context.Context, path string, version int32) error

	// Events delivers session state transitions. The channel is closed
	// when the store is closed.
	Events() <-chan SessionEvent

	// Close terminates the session, releasing its ephemeral nodes.
	Close() error
}

// SessionState is the connectivity state of a store's session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDisconnected
	StateExpired
	StateClosed
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionEvent is one connectivity transition. Err carries the cause for
// Disconnected events when the driver knows it.
type SessionEvent struct {
	State SessionState
	Err   error
}
