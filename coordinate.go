package berth

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate is the identity of a single service instance. It names a
// cell (datacenter or failure domain), the user owning the service, the
// service itself, and the instance number within the service.
//
// The canonical string form is "cell.user.service.instance", for
// example "east1.prod.gateway.0".
type Coordinate struct {
	Cell     string
	User     string
	Service  string
	Instance uint32
}

// NewCoordinate validates the segments and builds a Coordinate.
func NewCoordinate(cell, user, service string, instance uint32) (Coordinate, error) {
	c := Coordinate{Cell: cell, User: user, Service: service, Instance: instance}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// ParseCoordinate parses the canonical "cell.user.service.instance"
// form.
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Coordinate{}, fmt.Errorf("coordinate %q: want 4 dot-separated segments, got %d", s, len(parts))
	}
	instance, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q: instance %q is not an unsigned integer", s, parts[3])
	}
	return NewCoordinate(parts[0], parts[1], parts[2], uint32(instance))
}

// Validate checks that every name segment is well formed. Segments are
// lowercase ASCII letters, digits, '-' and '_', starting with a letter
// or digit.
func (c Coordinate) Validate() error {
	for _, seg := range []struct {
		name, value string
	}{
		{"cell", c.Cell},
		{"user", c.User},
		{"service", c.Service},
	} {
		if !validSegment(seg.value) {
			return fmt.Errorf("coordinate %s %q: segments are [a-z0-9][a-z0-9_-]*", seg.name, seg.value)
		}
	}
	return nil
}

// String returns the canonical form.
func (c Coordinate) String() string {
	return fmt.Sprintf("%s.%s.%s.%d", c.Cell, c.User, c.Service, c.Instance)
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
