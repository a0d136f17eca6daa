package berth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the outcomes callers are expected to branch on.
// Match with errors.Is; returned values may wrap these with context.
var (
	// ErrCoordinateExists is returned by CreateCoordinate when the
	// coordinate is already present.
	ErrCoordinateExists = errors.New("berth: coordinate already exists")

	// ErrCoordinateMissing is returned when an operation needs a
	// coordinate that has not been created.
	ErrCoordinateMissing = errors.New("berth: coordinate does not exist")

	// ErrAlreadyClaimed is returned by Claim when another live session
	// holds the coordinate.
	ErrAlreadyClaimed = errors.New("berth: coordinate already claimed")

	// ErrClaimLost is returned by ServiceHandle operations once the
	// claim no longer exists, typically because the session expired or
	// the handle was released.
	ErrClaimLost = errors.New("berth: claim lost")

	// ErrConnectTimeout is returned when the backend did not report a
	// live session within the allowed time.
	ErrConnectTimeout = errors.New("berth: timed out waiting for connection")

	// ErrVersionConflict is returned by versioned status writes when
	// the stored version moved past the caller's.
	ErrVersionConflict = errors.New("berth: status version conflict")

	// ErrMalformedData is returned when a status node holds bytes that
	// do not decode as a status document.
	ErrMalformedData = errors.New("berth: malformed status data")

	// ErrConfigHasChildren blocks DestroyCoordinate while config
	// entries remain.
	ErrConfigHasChildren = errors.New("berth: coordinate has config entries")

	// ErrStillClaimed blocks DestroyCoordinate while the coordinate is
	// claimed.
	ErrStillClaimed = errors.New("berth: coordinate is claimed")

	// ErrNothingDeleted is returned by DestroyCoordinate when the
	// subtree removal deleted no nodes at all.
	ErrNothingDeleted = errors.New("berth: destroy removed nothing")

	// ErrIncompleteDeletion is returned by DestroyCoordinate when the
	// removal stopped before the instance node, usually because a
	// concurrent claim recreated state under it.
	ErrIncompleteDeletion = errors.New("berth: destroy left nodes behind")

	// ErrConfigNotFound is returned by config entry reads and deletes
	// when the entry is absent. The coordinate itself may also be
	// absent.
	ErrConfigNotFound = errors.New("berth: config entry not found")

	// ErrUnknownStrategy is returned by Resolve for a strategy name
	// with no registered strategy.
	ErrUnknownStrategy = errors.New("berth: unknown resolver strategy")

	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("berth: client closed")
)

// BackendError wraps a coordination backend failure that does not map
// onto one of the sentinel outcomes above.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("berth: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}
