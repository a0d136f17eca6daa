package berth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjordlabs/berth/coord"
)

// statusStore reads and writes the status document on a coordinate's
// status node, carrying store versions through so writers can do
// compare-and-set.
type statusStore struct {
	st coord.Store
}

func newStatusStore(st coord.Store) *statusStore {
	return &statusStore{st: st}
}

func defaultStatusAndEndpoints() *StatusAndEndpoints {
	return &StatusAndEndpoints{
		Status:    ServiceStatus{State: ServiceStarting},
		Endpoints: map[string]Endpoint{},
	}
}

// initialBlob is what a fresh claim writes to the status node.
func (s *statusStore) initialBlob() []byte {
	data, err := encodeStatus(defaultStatusAndEndpoints())
	if err != nil {
		// Marshaling a fixed literal cannot fail.
		panic(err)
	}
	return data
}

func encodeStatus(se *StatusAndEndpoints) ([]byte, error) {
	data, err := json.Marshal(se)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return data, nil
}

func decodeStatus(data []byte) (*StatusAndEndpoints, error) {
	var se StatusAndEndpoints
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if se.Endpoints == nil {
		se.Endpoints = map[string]Endpoint{}
	}
	return &se, nil
}

// load returns the decoded document and the store version it was read
// at.
func (s *statusStore) load(ctx context.Context, path string) (*StatusAndEndpoints, int32, error) {
	data, version, err := s.st.Get(ctx, path)
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return nil, 0, fmt.Errorf("%w: %s", ErrCoordinateMissing, path)
		}
		return nil, 0, backendErr("load status", err)
	}
	se, err := decodeStatus(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return se, version, nil
}

// write stores the document if the node is still at version. Pass
// coord.AnyVersion to write unconditionally.
func (s *statusStore) write(ctx context.Context, path string, se *StatusAndEndpoints, version int32) (int32, error) {
	data, err := encodeStatus(se)
	if err != nil {
		return 0, err
	}
	next, err := s.st.Set(ctx, path, data, version)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, coord.ErrNodeMissing):
		return 0, fmt.Errorf("%w: %s", ErrCoordinateMissing, path)
	case errors.Is(err, coord.ErrVersionMismatch):
		return 0, fmt.Errorf("%w: %s", ErrVersionConflict, path)
	default:
		return 0, backendErr("write status", err)
	}
}

// update applies mutate to the current document and writes it back at
// the version it was read at. A concurrent writer surfaces as
// ErrVersionConflict; callers decide whether to retry.
func (s *statusStore) update(ctx context.Context, path string, mutate func(*StatusAndEndpoints) error) error {
	se, version, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	if err := mutate(se); err != nil {
		return err
	}
	_, err = s.write(ctx, path, se, version)
	return err
}
