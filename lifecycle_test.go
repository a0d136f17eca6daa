package berth

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fjordlabs/berth/coord"
)

func TestCreateCoordinate(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, path := range []string{
		"/berth/east1/prod/gateway/0",
		"/berth/east1/prod/gateway/0/config",
	} {
		ok, err := st.Exists(ctx, path)
		if err != nil || !ok {
			t.Fatalf("Exists(%s) = %v, %v", path, ok, err)
		}
	}

	err := c.CreateCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrCoordinateExists) {
		t.Fatalf("second create: %v, want ErrCoordinateExists", err)
	}

	// A sibling instance shares the intermediate nodes.
	if err := c.CreateCoordinate(ctx, Coordinate{"east1", "prod", "gateway", 1}); err != nil {
		t.Fatalf("sibling create: %v", err)
	}
}

func TestCreateCoordinateValidates(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.CreateCoordinate(context.Background(), Coordinate{"Bad", "prod", "gateway", 0}); err == nil {
		t.Fatal("invalid coordinate accepted")
	}
}

func TestDestroyCoordinate(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.DestroyCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	// The instance and the now-empty service node are gone; the user
	// node survives.
	for path, want := range map[string]bool{
		"/berth/east1/prod/gateway/0": false,
		"/berth/east1/prod/gateway":   false,
		"/berth/east1/prod":           true,
	} {
		ok, err := st.Exists(ctx, path)
		if err != nil {
			t.Fatalf("Exists(%s): %v", path, err)
		}
		if ok != want {
			t.Errorf("Exists(%s) = %v, want %v", path, ok, want)
		}
	}

	err := c.DestroyCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrCoordinateMissing) {
		t.Fatalf("destroy missing: %v, want ErrCoordinateMissing", err)
	}
}

func TestDestroyKeepsBusySiblings(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()

	if err := c.CreateCoordinate(ctx, Coordinate{"east1", "prod", "gateway", 0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.CreateCoordinate(ctx, Coordinate{"east1", "prod", "gateway", 1}); err != nil {
		t.Fatalf("create sibling: %v", err)
	}
	if err := c.DestroyCoordinate(ctx, Coordinate{"east1", "prod", "gateway", 0}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	ok, err := st.Exists(ctx, "/berth/east1/prod/gateway/1")
	if err != nil || !ok {
		t.Fatalf("sibling gone: %v, %v", ok, err)
	}
	ok, err = st.Exists(ctx, "/berth/east1/prod/gateway")
	if err != nil || !ok {
		t.Fatalf("service node gone: %v, %v", ok, err)
	}
}

func TestDestroyBlockedByConfigEntries(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.PutConfig(ctx, coordinate, "limits", []byte("q=1")); err != nil {
		t.Fatalf("put config: %v", err)
	}

	before := st.Snapshot()
	err := c.DestroyCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrConfigHasChildren) {
		t.Fatalf("destroy: %v, want ErrConfigHasChildren", err)
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatal("blocked destroy modified the tree")
	}
}

func TestDestroyBlockedByClaim(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	handle, err := c.Claim(ctx, coordinate)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	defer handle.Release(ctx)

	before := st.Snapshot()
	err = c.DestroyCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrStillClaimed) {
		t.Fatalf("destroy: %v, want ErrStillClaimed", err)
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatal("blocked destroy modified the tree")
	}
}

func TestDestroyReportsNothingDeleted(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Strip the config node and pin the instance node with a foreign
	// child so the sweep cannot remove anything at all.
	if err := st.Delete(ctx, "/berth/east1/prod/gateway/0/config", coord.AnyVersion); err != nil {
		t.Fatalf("delete config: %v", err)
	}
	if err := st.CreatePersistent(ctx, "/berth/east1/prod/gateway/0/pin", nil); err != nil {
		t.Fatalf("pin: %v", err)
	}

	err := c.DestroyCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrNothingDeleted) {
		t.Fatalf("destroy: %v, want ErrNothingDeleted", err)
	}
}

func TestDestroyReportsIncompleteDeletion(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	// A foreign child blocks the instance node after the config node
	// went, the shape a concurrent claim leaves behind.
	if err := st.CreatePersistent(ctx, "/berth/east1/prod/gateway/0/pin", nil); err != nil {
		t.Fatalf("pin: %v", err)
	}

	err := c.DestroyCoordinate(ctx, coordinate)
	if !errors.Is(err, ErrIncompleteDeletion) {
		t.Fatalf("destroy: %v, want ErrIncompleteDeletion", err)
	}
	ok, err := st.Exists(ctx, "/berth/east1/prod/gateway/0")
	if err != nil || !ok {
		t.Fatalf("instance node should remain: %v, %v", ok, err)
	}
}

func TestListCoordinates(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()

	want := []Coordinate{
		{"east1", "prod", "gateway", 0},
		{"east1", "prod", "gateway", 1},
		{"east1", "staging", "api", 3},
		{"west2", "prod", "gateway", 0},
	}
	for _, coordinate := range want {
		if err := c.CreateCoordinate(ctx, coordinate); err != nil {
			t.Fatalf("create %v: %v", coordinate, err)
		}
	}
	// Junk that is not an instance number is skipped.
	if err := st.CreatePersistent(ctx, "/berth/east1/prod/gateway/notanum", nil); err != nil {
		t.Fatalf("junk: %v", err)
	}

	got, err := c.ListCoordinates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("list = %v, want %v", got, want)
	}
}

func TestListCoordinatesEmptyTree(t *testing.T) {
	c, _ := newTestClient(t)
	got, err := c.ListCoordinates(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("list = %v, want empty", got)
	}
}

func TestStatusOfUnclaimedCoordinate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := c.Status(ctx, coordinate)
	if !errors.Is(err, ErrCoordinateMissing) {
		t.Fatalf("status: %v, want ErrCoordinateMissing", err)
	}
}

func TestCoordinateExists(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	coordinate := Coordinate{"east1", "prod", "gateway", 0}

	ok, err := c.CoordinateExists(ctx, coordinate)
	if err != nil || ok {
		t.Fatalf("exists before create: %v, %v", ok, err)
	}
	if err := c.CreateCoordinate(ctx, coordinate); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err = c.CoordinateExists(ctx, coordinate)
	if err != nil || !ok {
		t.Fatalf("exists after create: %v, %v", ok, err)
	}
}
