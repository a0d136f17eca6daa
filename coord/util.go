package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EnsurePath creates every missing node along path, treating segments that
// already exist (including ones created concurrently) as done. Nodes are
// created empty and persistent.
func EnsurePath(ctx context.Context, st Store, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	for i := 1; i <= len(segs); i++ {
		p := "/" + strings.Join(segs[:i], "/")
		if err := st.CreatePersistent(ctx, p, nil); err != nil && !errors.Is(err, ErrNodeExists) {
			return fmt.Errorf("ensure %s: %w", p, err)
		}
	}
	return nil
}

// DeleteTree removes path and then its ancestors, leaf upward, until it
// meets a node that still has children or until only keepLevels segments
// remain below the root. Nodes removed concurrently by others are treated
// as already done and not counted. Returns the number of nodes this call
// removed.
func DeleteTree(ctx context.Context, st Store, path string, keepLevels int) (int, error) {
	segs, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	if keepLevels < 0 {
		return 0, fmt.Errorf("coord: negative keepLevels %d", keepLevels)
	}
	removed := 0
	for i := len(segs); i > keepLevels; i-- {
		p := "/" + strings.Join(segs[:i], "/")
		children, err := st.Children(ctx, p)
		switch {
		case errors.Is(err, ErrNodeMissing):
			continue
		case err != nil:
			return removed, fmt.Errorf("list %s: %w", p, err)
		case len(children) > 0:
			return removed, nil
		}
		err = st.Delete(ctx, p, AnyVersion)
		switch {
		case errors.Is(err, ErrNodeMissing):
			continue
		case errors.Is(err, ErrNotEmpty):
			// A child appeared between the listing and the delete.
			return removed, nil
		case err != nil:
			return removed, fmt.Errorf("delete %s: %w", p, err)
		}
		removed++
	}
	return removed, nil
}

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return nil, fmt.Errorf("coord: invalid path %q", path)
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("coord: invalid path %q", path)
		}
	}
	return segs, nil
}
