package berth

import "fmt"

// Node layout under the coordination store:
//
//	/berth/<cell>/<user>/<service>/<instance>          coordinate root
//	/berth/<cell>/<user>/<service>/<instance>/config   persistent config root
//	/berth/<cell>/<user>/<service>/<instance>/config/<name>
//	/berth/<cell>/<user>/<service>/<instance>/status   ephemeral claim node
const (
	basePath   = "/berth"
	configNode = "config"
	statusNode = "status"
)

// KeepLevels is how many leading path segments DestroyCoordinate never
// removes, counted from the store root. With the layout above, level 3
// is /berth/<cell>/<user>: destroying the last coordinate of a user
// leaves the cell and user nodes in place, while empty service and
// instance nodes are swept. Changing the layout depth changes what this
// preserves.
const KeepLevels = 3

// CoordinatePaths holds the store paths derived from one Coordinate.
type CoordinatePaths struct {
	// Root is the instance node itself.
	Root string
	// Config is the persistent config root under the instance.
	Config string
	// Status is the ephemeral claim node under the instance.
	Status string
}

// Paths maps the coordinate onto its store paths.
func (c Coordinate) Paths() CoordinatePaths {
	root := fmt.Sprintf("%s/%s/%s/%s/%d", basePath, c.Cell, c.User, c.Service, c.Instance)
	return CoordinatePaths{
		Root:   root,
		Config: root + "/" + configNode,
		Status: root + "/" + statusNode,
	}
}

func configEntryPath(c Coordinate, name string) string {
	return c.Paths().Config + "/" + name
}
