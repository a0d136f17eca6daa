package coord

import "errors"

// Sentinel errors every driver maps its native failures onto. Callers match
// with errors.Is; drivers may wrap these with path context.
var (
	// ErrNodeExists indicates a live node already occupies the path.
	ErrNodeExists = errors.New("coord: node exists")
	// ErrNodeMissing indicates the path (or, on create, its parent) has no
	// live node.
	ErrNodeMissing = errors.New("coord: node missing")
	// ErrNotEmpty indicates a delete target still has children.
	ErrNotEmpty = errors.New("coord: node has children")
	// ErrVersionMismatch indicates the expected version did not match the
	// stored version.
	ErrVersionMismatch = errors.New("coord: version mismatch")
	// ErrSessionExpired indicates the backing session is gone; every
	// ephemeral node it owned has been revoked.
	ErrSessionExpired = errors.New("coord: session expired")
	// ErrClosed indicates the store has been closed locally.
	ErrClosed = errors.New("coord: store closed")
)
