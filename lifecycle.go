package berth

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjordlabs/berth/coord"
)

// CreateCoordinate creates the persistent nodes for a coordinate: the
// path down to the instance node plus the config root under it. The
// intermediate cell, user and service nodes are shared with other
// coordinates and created only if absent.
func (c *Client) CreateCoordinate(ctx context.Context, coordinate Coordinate) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if err := coordinate.Validate(); err != nil {
		return err
	}
	paths := coordinate.Paths()

	exists, err := c.st.Exists(ctx, paths.Root)
	if err != nil {
		return backendErr("create coordinate", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCoordinateExists, coordinate)
	}
	if err := coord.EnsurePath(ctx, c.st, paths.Root); err != nil {
		return backendErr("create coordinate", err)
	}
	// The instance node now exists. If the config node cannot be
	// created the coordinate is left half-built; surface that rather
	// than guessing at cleanup.
	if err := c.st.CreatePersistent(ctx, paths.Config, nil); err != nil {
		return backendErr("create config node", err)
	}

	c.log.Info("coordinate created", Field{"coordinate", coordinate.String()})
	c.metrics.IncCounter("berth_coordinates_created_total", 1)
	return nil
}

// DestroyCoordinate removes a coordinate that is not in use. It
// refuses to run while the coordinate is claimed or still has config
// entries. Empty service and instance nodes above it are swept, but
// the cell and user nodes always stay.
//
// A concurrent claim can slip in after the checks; that shows up as
// ErrIncompleteDeletion and the coordinate keeps its remaining nodes.
func (c *Client) DestroyCoordinate(ctx context.Context, coordinate Coordinate) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	paths := coordinate.Paths()

	exists, err := c.st.Exists(ctx, paths.Root)
	if err != nil {
		return backendErr("destroy coordinate", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCoordinateMissing, coordinate)
	}

	entries, err := c.st.Children(ctx, paths.Config)
	if err != nil && !errors.Is(err, coord.ErrNodeMissing) {
		return backendErr("destroy coordinate", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s has %d", ErrConfigHasChildren, coordinate, len(entries))
	}

	claimed, err := c.st.Exists(ctx, paths.Status)
	if err != nil {
		return backendErr("destroy coordinate", err)
	}
	if claimed {
		return fmt.Errorf("%w: %s", ErrStillClaimed, coordinate)
	}

	// Delete from the config node upward so the instance node goes
	// last. KeepLevels stops the sweep at the user node.
	removed, err := coord.DeleteTree(ctx, c.st, paths.Config, KeepLevels)
	if err != nil {
		return backendErr("destroy coordinate", err)
	}
	switch removed {
	case 0:
		return fmt.Errorf("%w: %s", ErrNothingDeleted, coordinate)
	case 1:
		return fmt.Errorf("%w: %s", ErrIncompleteDeletion, coordinate)
	}

	c.log.Info("coordinate destroyed", Field{"coordinate", coordinate.String()}, Field{"removed", removed})
	c.metrics.IncCounter("berth_coordinates_destroyed_total", 1)
	return nil
}

// CoordinateExists reports whether the coordinate's instance node is
// present.
func (c *Client) CoordinateExists(ctx context.Context, coordinate Coordinate) (bool, error) {
	if err := c.ensureOpen(); err != nil {
		return false, err
	}
	exists, err := c.st.Exists(ctx, coordinate.Paths().Root)
	if err != nil {
		return false, backendErr("coordinate exists", err)
	}
	return exists, nil
}

// Status reads the published status document of a claimed coordinate.
// Unclaimed coordinates have no status node and return
// ErrCoordinateMissing.
func (c *Client) Status(ctx context.Context, coordinate Coordinate) (*StatusAndEndpoints, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	se, _, err := c.status.load(ctx, coordinate.Paths().Status)
	return se, err
}

// ListCoordinates walks the tree and returns every coordinate in
// canonical order. Nodes that do not parse as coordinate segments are
// skipped.
func (c *Client) ListCoordinates(ctx context.Context) ([]Coordinate, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	var out []Coordinate
	cells, err := c.childrenOrNone(ctx, basePath)
	if err != nil {
		return nil, err
	}
	for _, cell := range cells {
		users, err := c.childrenOrNone(ctx, basePath+"/"+cell)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			services, err := c.childrenOrNone(ctx, basePath+"/"+cell+"/"+user)
			if err != nil {
				return nil, err
			}
			for _, service := range services {
				instances, err := c.childrenOrNone(ctx, basePath+"/"+cell+"/"+user+"/"+service)
				if err != nil {
					return nil, err
				}
				for _, inst := range instances {
					coordinate, err := ParseCoordinate(fmt.Sprintf("%s.%s.%s.%s", cell, user, service, inst))
					if err != nil {
						continue
					}
					out = append(out, coordinate)
				}
			}
		}
	}
	return out, nil
}

// childrenOrNone treats a missing node as having no children, which
// makes walks over a partially built tree quiet.
func (c *Client) childrenOrNone(ctx context.Context, path string) ([]string, error) {
	kids, err := c.st.Children(ctx, path)
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return nil, nil
		}
		return nil, backendErr("list children", err)
	}
	return kids, nil
}
