package berth

import "testing"

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		in      string
		want    Coordinate
		wantErr bool
	}{
		{in: "east1.prod.gateway.0", want: Coordinate{"east1", "prod", "gateway", 0}},
		{in: "c.u.s.4294967295", want: Coordinate{"c", "u", "s", 4294967295}},
		{in: "a-b.c_d.e0.12", want: Coordinate{"a-b", "c_d", "e0", 12}},
		{in: "east1.prod.gateway", wantErr: true},
		{in: "east1.prod.gateway.0.1", wantErr: true},
		{in: "east1.prod.gateway.x", wantErr: true},
		{in: "east1.prod.gateway.-1", wantErr: true},
		{in: "East1.prod.gateway.0", wantErr: true},
		{in: ".prod.gateway.0", wantErr: true},
		{in: "-a.prod.gateway.0", wantErr: true},
		{in: "a b.prod.gateway.0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseCoordinate(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCoordinate(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCoordinate(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseCoordinate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCoordinateStringRoundTrip(t *testing.T) {
	c := Coordinate{Cell: "east1", User: "prod", Service: "gateway", Instance: 7}
	s := c.String()
	if s != "east1.prod.gateway.7" {
		t.Fatalf("String() = %q", s)
	}
	back, err := ParseCoordinate(s)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back != c {
		t.Fatalf("round trip: %v != %v", back, c)
	}
}

func TestNewCoordinateRejectsBadSegments(t *testing.T) {
	if _, err := NewCoordinate("east1", "Prod", "gateway", 0); err == nil {
		t.Fatal("uppercase user accepted")
	}
	if _, err := NewCoordinate("east1", "prod", "", 0); err == nil {
		t.Fatal("empty service accepted")
	}
	if _, err := NewCoordinate("_east", "prod", "gateway", 0); err == nil {
		t.Fatal("leading underscore accepted")
	}
}
