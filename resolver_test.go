package berth

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fjordlabs/berth/coord"
)

func TestParsePattern(t *testing.T) {
	cases := []struct {
		in      string
		want    Pattern
		wantErr bool
	}{
		{in: "east1.prod.gateway.0", want: Pattern{"east1", "prod", "gateway", "0"}},
		{in: "east1.prod.gateway.*", want: Pattern{"east1", "prod", "gateway", "*"}},
		{in: "*.*.*.*", want: Pattern{"*", "*", "*", "*"}},
		{in: "east1.*.gateway.2", want: Pattern{"east1", "*", "gateway", "2"}},
		{in: "east1.prod.gateway", wantErr: true},
		{in: "east1.prod.gateway.x", wantErr: true},
		{in: "east1.Prod.gateway.*", wantErr: true},
		{in: "east1..gateway.*", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParsePattern(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePattern(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePattern(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePattern(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// seedServices creates and claims a few coordinates:
//
//	east1.prod.gateway.0   running, endpoint web :8000
//	east1.prod.gateway.1   starting, endpoint web :8001
//	east1.prod.gateway.2   created but unclaimed
//	west2.prod.gateway.0   running, endpoint web :9000
func seedServices(t *testing.T, c *Client) map[string]*ServiceHandle {
	t.Helper()
	ctx := context.Background()
	handles := map[string]*ServiceHandle{}

	type seed struct {
		coordinate Coordinate
		state      ServiceState
		port       int
		claim      bool
	}
	seeds := []seed{
		{Coordinate{"east1", "prod", "gateway", 0}, ServiceRunning, 8000, true},
		{Coordinate{"east1", "prod", "gateway", 1}, ServiceStarting, 8001, true},
		{Coordinate{"east1", "prod", "gateway", 2}, "", 0, false},
		{Coordinate{"west2", "prod", "gateway", 0}, ServiceRunning, 9000, true},
	}
	for _, s := range seeds {
		if err := c.CreateCoordinate(ctx, s.coordinate); err != nil {
			t.Fatalf("create %v: %v", s.coordinate, err)
		}
		if !s.claim {
			continue
		}
		handle, err := c.Claim(ctx, s.coordinate)
		if err != nil {
			t.Fatalf("claim %v: %v", s.coordinate, err)
		}
		if err := handle.SetStatus(ctx, ServiceStatus{State: s.state}); err != nil {
			t.Fatalf("status %v: %v", s.coordinate, err)
		}
		ep := Endpoint{Name: "web", Protocol: "http", Host: "10.0.0.1", Port: s.port}
		if err := handle.PutEndpoints(ctx, ep); err != nil {
			t.Fatalf("endpoints %v: %v", s.coordinate, err)
		}
		handles[s.coordinate.String()] = handle
	}
	return handles
}

func ports(endpoints []Endpoint) []int {
	var out []int
	for _, ep := range endpoints {
		out = append(out, ep.Port)
	}
	return out
}

func TestResolveAllAndAny(t *testing.T) {
	c, _ := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()
	r := c.Resolver()

	pattern, err := ParsePattern("east1.prod.gateway.*")
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}

	// all sees every claimed instance, live or not; the unclaimed
	// instance is invisible.
	endpoints, err := r.Resolve(ctx, pattern, StrategyAll)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if got := ports(endpoints); !reflect.DeepEqual(got, []int{8000, 8001}) {
		t.Fatalf("all ports = %v", got)
	}

	// any filters to live instances.
	endpoints, err = r.Resolve(ctx, pattern, StrategyAny)
	if err != nil {
		t.Fatalf("resolve any: %v", err)
	}
	if got := ports(endpoints); !reflect.DeepEqual(got, []int{8000}) {
		t.Fatalf("any ports = %v", got)
	}
}

func TestResolveWildcardsAcrossCells(t *testing.T) {
	c, _ := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()
	r := c.Resolver()

	pattern, err := ParsePattern("*.prod.gateway.0")
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	endpoints, err := r.Resolve(ctx, pattern, StrategyAny)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := ports(endpoints); !reflect.DeepEqual(got, []int{8000, 9000}) {
		t.Fatalf("ports = %v", got)
	}
}

func TestResolveLiteralPattern(t *testing.T) {
	c, _ := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()
	r := c.Resolver()

	pattern, err := ParsePattern("west2.prod.gateway.0")
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	endpoints, err := r.Resolve(ctx, pattern, StrategyAll)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := ports(endpoints); !reflect.DeepEqual(got, []int{9000}) {
		t.Fatalf("ports = %v", got)
	}

	// A literal pattern over nothing resolves to nothing.
	pattern, _ = ParsePattern("nowhere.prod.gateway.0")
	endpoints, err = r.Resolve(ctx, pattern, StrategyAll)
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("endpoints = %v", endpoints)
	}
}

func TestResolveOneIsDeterministic(t *testing.T) {
	c, _ := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()
	r := c.Resolver()

	pattern, err := ParsePattern("*.prod.gateway.*")
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	first, err := r.Resolve(ctx, pattern, StrategyOne)
	if err != nil {
		t.Fatalf("resolve one: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("one returned %d endpoints", len(first))
	}
	if first[0].Port != 8000 && first[0].Port != 9000 {
		t.Fatalf("one picked a non-live instance: %+v", first[0])
	}
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(ctx, pattern, StrategyOne)
		if err != nil {
			t.Fatalf("resolve one again: %v", err)
		}
		if !reflect.DeepEqual(again, first) {
			t.Fatalf("one flapped: %v then %v", first, again)
		}
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	pattern, _ := ParsePattern("*.*.*.*")
	_, err := c.Resolver().Resolve(ctx, pattern, "weighted")
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("resolve: %v, want ErrUnknownStrategy", err)
	}
}

func TestResolveMalformedStatus(t *testing.T) {
	c, st := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()

	path := Coordinate{"east1", "prod", "gateway", 0}.Paths().Status
	if _, err := st.Set(ctx, path, []byte("{corrupt"), coord.AnyVersion); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	pattern, _ := ParsePattern("east1.prod.gateway.*")
	_, err := c.Resolver().Resolve(ctx, pattern, StrategyAll)
	if !errors.Is(err, ErrMalformedData) {
		t.Fatalf("resolve: %v, want ErrMalformedData", err)
	}
}

type firstStrategy struct{}

func (firstStrategy) Name() string { return "first" }

func (firstStrategy) Select(_ Pattern, matches []Match) []Endpoint {
	if len(matches) == 0 {
		return nil
	}
	return matches[0].Endpoints
}

func TestRegisterCustomStrategy(t *testing.T) {
	c, _ := newTestClient(t)
	seedServices(t, c)
	ctx := context.Background()
	r := c.Resolver()
	r.Register(firstStrategy{})

	pattern, _ := ParsePattern("*.prod.gateway.*")
	endpoints, err := r.Resolve(ctx, pattern, "first")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Matches arrive in canonical order, so first is east1...0.
	if got := ports(endpoints); !reflect.DeepEqual(got, []int{8000}) {
		t.Fatalf("ports = %v", got)
	}
}

func TestClaimResolveExpireFlow(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "api", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	handle, err := c.Claim(ctx, coordinate)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := handle.SetStatus(ctx, ServiceStatus{State: ServiceRunning}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := handle.PutEndpoints(ctx, Endpoint{Name: "rpc", Host: "10.1.1.1", Port: 7000}); err != nil {
		t.Fatalf("endpoints: %v", err)
	}

	pattern, _ := ParsePattern("east1.prod.api.*")
	r := c.Resolver()
	endpoints, err := r.Resolve(ctx, pattern, StrategyAny)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].Port != 7000 {
		t.Fatalf("endpoints = %+v", endpoints)
	}

	// The session dies; the claim and its endpoints vanish from
	// resolution without anyone cleaning up.
	st.ExpireSession()

	endpoints, err = r.Resolve(ctx, pattern, StrategyAny)
	if err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("endpoints after expiry = %+v", endpoints)
	}

	// And the coordinate can be destroyed now nothing claims it.
	if err := c.DestroyCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}
