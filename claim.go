package berth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fjordlabs/berth/coord"
)

// Claim takes exclusive ownership of the coordinate by creating its
// ephemeral status node. Exactly one live session can hold a claim at
// a time; the claim evaporates when the session ends, however it ends.
//
// A fresh claim starts with state "starting" and no endpoints. The
// returned handle is the only way to write the coordinate's status.
func (c *Client) Claim(ctx context.Context, coordinate Coordinate) (*ServiceHandle, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	paths := coordinate.Paths()
	c.log.Info("claiming coordinate", Field{"coordinate", coordinate.String()})

	err := c.st.CreateEphemeral(ctx, paths.Status, c.status.initialBlob())
	switch {
	case err == nil:
	case errors.Is(err, coord.ErrNodeExists):
		c.metrics.IncCounter("berth_claim_conflicts_total", 1)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, coordinate)
	case errors.Is(err, coord.ErrNodeMissing):
		return nil, fmt.Errorf("%w: %s", ErrCoordinateMissing, coordinate)
	default:
		return nil, backendErr("claim", err)
	}

	c.claimGauge(1)
	c.metrics.IncCounter("berth_claims_total", 1)
	return &ServiceHandle{
		coordinate: coordinate,
		path:       paths.Status,
		status:     c.status,
		log:        c.log,
		onRelease:  func() { c.claimGauge(-1) },
	}, nil
}

// ServiceHandle is a held claim. All writes go through the version on
// the status node, so a handle that has lost its claim fails with
// ErrClaimLost instead of resurrecting state.
//
// The handle is safe for concurrent use, but concurrent writers can
// see ErrVersionConflict from each other.
type ServiceHandle struct {
	coordinate Coordinate
	path       string
	status     *statusStore
	log        Logger
	onRelease  func()
	released   atomic.Bool
}

// Coordinate returns the claimed coordinate.
func (h *ServiceHandle) Coordinate() Coordinate { return h.coordinate }

// SetStatus publishes a new service status, keeping endpoints as they
// are.
func (h *ServiceHandle) SetStatus(ctx context.Context, status ServiceStatus) error {
	if h.released.Load() {
		return ErrClaimLost
	}
	err := h.status.update(ctx, h.path, func(se *StatusAndEndpoints) error {
		se.Status = status
		return nil
	})
	if err != nil {
		return h.mapWriteErr(err)
	}
	h.log.Debug("status set", Field{"coordinate", h.coordinate.String()}, Field{"state", status.State})
	return nil
}

// PutEndpoints publishes endpoints, replacing any existing endpoint
// with the same name.
func (h *ServiceHandle) PutEndpoints(ctx context.Context, endpoints ...Endpoint) error {
	if h.released.Load() {
		return ErrClaimLost
	}
	for _, ep := range endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint with empty name")
		}
		if ep.Host == "" || ep.Port <= 0 {
			return fmt.Errorf("endpoint %q: host and port are required", ep.Name)
		}
	}
	err := h.status.update(ctx, h.path, func(se *StatusAndEndpoints) error {
		for _, ep := range endpoints {
			se.Endpoints[ep.Name] = ep
		}
		return nil
	})
	if err != nil {
		return h.mapWriteErr(err)
	}
	return nil
}

// RemoveEndpoints unpublishes endpoints by name. Names that are not
// published are ignored.
func (h *ServiceHandle) RemoveEndpoints(ctx context.Context, names ...string) error {
	if h.released.Load() {
		return ErrClaimLost
	}
	err := h.status.update(ctx, h.path, func(se *StatusAndEndpoints) error {
		for _, name := range names {
			delete(se.Endpoints, name)
		}
		return nil
	})
	if err != nil {
		return h.mapWriteErr(err)
	}
	return nil
}

// Current reads back the document as stored.
func (h *ServiceHandle) Current(ctx context.Context) (*StatusAndEndpoints, error) {
	if h.released.Load() {
		return nil, ErrClaimLost
	}
	se, _, err := h.status.load(ctx, h.path)
	if err != nil {
		return nil, h.mapWriteErr(err)
	}
	return se, nil
}

// Release gives the claim up by deleting the status node. The
// coordinate is immediately claimable by others. Releasing a claim
// that is already gone is not an error.
func (h *ServiceHandle) Release(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	h.onRelease()
	err := h.status.st.Delete(ctx, h.path, coord.AnyVersion)
	if err != nil && !errors.Is(err, coord.ErrNodeMissing) {
		return backendErr("release claim", err)
	}
	h.log.Info("claim released", Field{"coordinate", h.coordinate.String()})
	return nil
}

// mapWriteErr folds the ways a dead claim can surface into
// ErrClaimLost. A missing status node means the session expired (or
// someone deleted the node); an expired session is the same thing seen
// from the backend's side.
func (h *ServiceHandle) mapWriteErr(err error) error {
	if errors.Is(err, ErrCoordinateMissing) ||
		errors.Is(err, coord.ErrSessionExpired) ||
		errors.Is(err, coord.ErrClosed) {
		return fmt.Errorf("%w: %s", ErrClaimLost, h.coordinate)
	}
	return err
}
