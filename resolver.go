package berth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fjordlabs/berth/coord"
)

// Built-in strategy names.
const (
	// StrategyAll returns the endpoints of every claimed match,
	// whatever its state.
	StrategyAll = "all"
	// StrategyAny returns the endpoints of matches whose state is
	// live.
	StrategyAny = "any"
	// StrategyOne deterministically picks a single live match by
	// rendezvous hashing on the pattern, so distinct patterns spread
	// across instances while one pattern sticks to one instance.
	StrategyOne = "one"
)

const defaultLoadParallelism = 8

// Pattern selects coordinates. Each segment is a literal or the
// wildcard "*"; "east1.prod.web.*" matches every instance of
// east1.prod.web.
type Pattern struct {
	Cell     string
	User     string
	Service  string
	Instance string
}

// ParsePattern parses "cell.user.service.instance" where each segment
// may be "*".
func ParsePattern(s string) (Pattern, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Pattern{}, fmt.Errorf("pattern %q: want 4 dot-separated segments, got %d", s, len(parts))
	}
	for i, part := range parts[:3] {
		if part != "*" && !validSegment(part) {
			return Pattern{}, fmt.Errorf("pattern %q: segment %d is neither a name nor *", s, i)
		}
	}
	if parts[3] != "*" {
		if _, err := strconv.ParseUint(parts[3], 10, 32); err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: instance is neither an unsigned integer nor *", s)
		}
	}
	return Pattern{Cell: parts[0], User: parts[1], Service: parts[2], Instance: parts[3]}, nil
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", p.Cell, p.User, p.Service, p.Instance)
}

// Match is one claimed coordinate a pattern matched, with its
// published document.
type Match struct {
	Coordinate Coordinate
	Status     ServiceStatus
	Endpoints  []Endpoint
}

// Strategy turns the matched coordinates into the endpoints a resolve
// returns. Matches arrive in canonical coordinate order; pattern is
// the pattern being resolved, for strategies that key on it.
type Strategy interface {
	Name() string
	Select(pattern Pattern, matches []Match) []Endpoint
}

// Resolver finds endpoints by pattern. Get one from Client.Resolver;
// it comes with the built-in strategies registered.
type Resolver struct {
	st         coord.Store
	status     *statusStore
	log        Logger
	metrics    Metrics
	loadLimit  int
	strategies map[string]Strategy
}

// Resolver returns a resolver bound to this client's session.
func (c *Client) Resolver() *Resolver {
	r := &Resolver{
		st:         c.st,
		status:     c.status,
		log:        c.log,
		metrics:    c.metrics,
		loadLimit:  defaultLoadParallelism,
		strategies: map[string]Strategy{},
	}
	r.Register(allStrategy{})
	r.Register(anyStrategy{})
	r.Register(oneStrategy{})
	return r
}

// Register adds a strategy, replacing any registered strategy with the
// same name. Not safe to call concurrently with Resolve.
func (r *Resolver) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Resolve matches the pattern against the tree, loads the status of
// every claimed match, and hands them to the named strategy. The
// returned endpoints are sorted by name, host, port.
//
// Unclaimed coordinates are not matches. A match whose status bytes do
// not decode fails the whole resolve with ErrMalformedData.
func (r *Resolver) Resolve(ctx context.Context, pattern Pattern, strategy string) ([]Endpoint, error) {
	strat, ok := r.strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	start := time.Now()

	candidates, err := r.candidates(ctx, pattern)
	if err != nil {
		return nil, err
	}

	// Load the status documents in parallel, keeping candidate order.
	loaded := make([]*Match, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.loadLimit)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			se, _, err := r.status.load(gctx, candidate.Paths().Status)
			if err != nil {
				// Gone between listing and load means unclaimed, not
				// an error.
				if errors.Is(err, ErrCoordinateMissing) {
					return nil
				}
				return err
			}
			loaded[i] = &Match{
				Coordinate: candidate,
				Status:     se.Status,
				Endpoints:  se.EndpointList(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(loaded))
	for _, m := range loaded {
		if m != nil {
			matches = append(matches, *m)
		}
	}

	endpoints := strat.Select(pattern, matches)
	sortEndpoints(endpoints)

	r.log.Debug("resolved",
		Field{"pattern", pattern.String()},
		Field{"strategy", strategy},
		Field{"matches", len(matches)},
		Field{"endpoints", len(endpoints)})
	r.metrics.IncCounter("berth_resolves_total", 1, Label{"strategy", strategy})
	r.metrics.ObserveHistogram("berth_resolve_seconds", time.Since(start).Seconds())
	return endpoints, nil
}

// candidates walks only the parts of the tree the pattern can match,
// in canonical order. Literal segments are taken as-is; missing ones
// fall out later when their status fails to load.
func (r *Resolver) candidates(ctx context.Context, pattern Pattern) ([]Coordinate, error) {
	var out []Coordinate

	cells, err := r.expand(ctx, basePath, pattern.Cell)
	if err != nil {
		return nil, err
	}
	for _, cell := range cells {
		users, err := r.expand(ctx, basePath+"/"+cell, pattern.User)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			services, err := r.expand(ctx, basePath+"/"+cell+"/"+user, pattern.Service)
			if err != nil {
				return nil, err
			}
			for _, service := range services {
				instances, err := r.expand(ctx, basePath+"/"+cell+"/"+user+"/"+service, pattern.Instance)
				if err != nil {
					return nil, err
				}
				for _, inst := range instances {
					n, err := strconv.ParseUint(inst, 10, 32)
					if err != nil {
						continue
					}
					out = append(out, Coordinate{Cell: cell, User: user, Service: service, Instance: uint32(n)})
				}
			}
		}
	}
	return out, nil
}

// expand resolves one pattern segment under parent: literals stand
// alone, "*" lists the children.
func (r *Resolver) expand(ctx context.Context, parent, segment string) ([]string, error) {
	if segment != "*" {
		return []string{segment}, nil
	}
	kids, err := r.st.Children(ctx, parent)
	if err != nil {
		if errors.Is(err, coord.ErrNodeMissing) {
			return nil, nil
		}
		return nil, backendErr("resolve", err)
	}
	return kids, nil
}

func sortEndpoints(endpoints []Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		a, b := endpoints[i], endpoints[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Port < b.Port
	})
}

type allStrategy struct{}

func (allStrategy) Name() string { return StrategyAll }

func (allStrategy) Select(_ Pattern, matches []Match) []Endpoint {
	var out []Endpoint
	for _, m := range matches {
		out = append(out, m.Endpoints...)
	}
	return out
}

type anyStrategy struct{}

func (anyStrategy) Name() string { return StrategyAny }

func (anyStrategy) Select(_ Pattern, matches []Match) []Endpoint {
	var out []Endpoint
	for _, m := range matches {
		if m.Status.State.Live() {
			out = append(out, m.Endpoints...)
		}
	}
	return out
}

// oneStrategy is highest-random-weight (rendezvous) hashing of the
// pattern over the live matches: every resolver picks the same
// instance for the same pattern without coordinating, and different
// patterns spread.
type oneStrategy struct{}

func (oneStrategy) Name() string { return StrategyOne }

func (oneStrategy) Select(pattern Pattern, matches []Match) []Endpoint {
	key := pattern.String()
	var (
		best      *Match
		bestScore uint64
		bestName  string
	)
	for i, m := range matches {
		if !m.Status.State.Live() {
			continue
		}
		name := m.Coordinate.String()
		score := xxhash.Sum64String(key + "|" + name)
		if best == nil || score > bestScore || (score == bestScore && name < bestName) {
			best = &matches[i]
			bestScore = score
			bestName = name
		}
	}
	if best == nil {
		return nil
	}
	return best.Endpoints
}
