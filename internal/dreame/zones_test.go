package dreame

import (
	"reflect"
	"testing"
)

func TestEncodeZonesWireLayout(t *testing.T) {
	wire, warnings, err := EncodeZones([]Zone{{X1: 100, Y1: 100, X2: 200, Y2: 200, Repeat: 1}}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	want := [][]int{{100, 100, 200, 200, 1}}
	if !reflect.DeepEqual(wire, want) {
		t.Fatalf("got %v, want %v", wire, want)
	}
}

func TestEncodeZonesPreservesOrder(t *testing.T) {
	zones := []Zone{
		{X1: -500, Y1: -500, X2: 0, Y2: 0, Repeat: 2},
		{X1: 100, Y1: 100, X2: 200, Y2: 200, Repeat: 1},
		{X1: 50, Y1: 50, X2: 400, Y2: 400, Repeat: 3}, // overlaps the second, allowed
	}
	wire, _, err := EncodeZones(zones, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := [][]int{
		{-500, -500, 0, 0, 2},
		{100, 100, 200, 200, 1},
		{50, 50, 400, 400, 3},
	}
	if !reflect.DeepEqual(wire, want) {
		t.Fatalf("got %v, want %v", wire, want)
	}
}

func TestEncodeZonesDeterministic(t *testing.T) {
	zones := []Zone{{X1: 1, Y1: 2, X2: 3, Y2: 4, Repeat: 2}}
	first, _, err := EncodeZones(zones, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, _, err := EncodeZones(zones, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("encode not deterministic: %v vs %v", first, second)
	}
}

func TestEncodeZonesRejects(t *testing.T) {
	cases := []struct {
		name  string
		zones []Zone
	}{
		{"empty", nil},
		{"degenerate x", []Zone{{X1: 100, Y1: 0, X2: 100, Y2: 100, Repeat: 1}}},
		{"degenerate y", []Zone{{X1: 0, Y1: 100, X2: 100, Y2: 100, Repeat: 1}}},
		{"inverted", []Zone{{X1: 200, Y1: 0, X2: 100, Y2: 100, Repeat: 1}}},
		{"repeat zero", []Zone{{X1: 0, Y1: 0, X2: 100, Y2: 100, Repeat: 0}}},
		{"repeat too high", []Zone{{X1: 0, Y1: 0, X2: 100, Y2: 100, Repeat: MaxZoneRepeat + 1}}},
		{"coordinate out of range", []Zone{{X1: 0, Y1: 0, X2: zoneCoordLimit + 1, Y2: 100, Repeat: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := EncodeZones(tc.zones, nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEncodeZonesBoundsAreSoft(t *testing.T) {
	bounds := &MapBounds{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}
	wire, warnings, err := EncodeZones([]Zone{{X1: 500, Y1: 500, X2: 1500, Y2: 1500, Repeat: 1}}, bounds)
	if err != nil {
		t.Fatalf("out-of-bounds zone must warn, not fail: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	if len(wire) != 1 {
		t.Fatalf("zone dropped: %v", wire)
	}
}
