package berth

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjordlabs/berth/coord"
)

// Config entries are named opaque blobs stored persistently under a
// coordinate's config node. They survive claims and sessions; a
// coordinate with config entries cannot be destroyed until they are
// deleted.

// PutConfig creates or replaces the config entry. The coordinate must
// exist.
func (c *Client) PutConfig(ctx context.Context, coordinate Coordinate, name string, data []byte) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if !validSegment(name) {
		return fmt.Errorf("config entry name %q: names are [a-z0-9][a-z0-9_-]*", name)
	}
	path := configEntryPath(coordinate, name)
	err := c.st.CreatePersistent(ctx, path, data)
	switch {
	case err == nil:
	case errors.Is(err, coord.ErrNodeExists):
		if _, err := c.st.Set(ctx, path, data, coord.AnyVersion); err != nil {
			return backendErr("put config", err)
		}
	case errors.Is(err, coord.ErrNodeMissing):
		return fmt.Errorf("%w: %s", ErrCoordinateMissing, coordinate)
	default:
		return backendErr("put config", err)
	}
	c.log.Debug("config entry written", Field{"coordinate", coordinate.String()}, Field{"name", name})
	return nil
}

// GetConfig returns the entry's contents.
func (c *Client) GetConfig(ctx context.Context, coordinate Coordinate, name string) ([]byte, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	data, _, err := c.st.Get(ctx, configEntryPath(coordinate, name))
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return nil, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, coordinate, name)
		}
		return nil, backendErr("get config", err)
	}
	return data, nil
}

// DeleteConfig removes the entry.
func (c *Client) DeleteConfig(ctx context.Context, coordinate Coordinate, name string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	err := c.st.Delete(ctx, configEntryPath(coordinate, name), coord.AnyVersion)
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return fmt.Errorf("%w: %s/%s", ErrConfigNotFound, coordinate, name)
		}
		return backendErr("delete config", err)
	}
	return nil
}

// ListConfig returns the entry names in sorted order.
func (c *Client) ListConfig(ctx context.Context, coordinate Coordinate) ([]string, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	names, err := c.st.Children(ctx, coordinate.Paths().Config)
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return nil, fmt.Errorf("%w: %s", ErrCoordinateMissing, coordinate)
		}
		return nil, backendErr("list config", err)
	}
	return names, nil
}
