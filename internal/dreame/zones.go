package dreame

import "fmt"

const (
	// MaxZoneRepeat is the largest repeat count the firmware accepts.
	MaxZoneRepeat = 3

	// Coordinate guard when no map bounds are known. The map is measured
	// in millimetres from the dock; 32 m each way is beyond any room the
	// device can map, so anything outside is a caller mistake.
	zoneCoordLimit = 32000
)

// MapBounds is the device-reported map extent, when known from a previous
// status exchange.
type MapBounds struct {
	MinX, MinY, MaxX, MaxY int
}

// EncodeZones validates zones and flattens them into the device's wire
// layout: one [x1, y1, x2, y2, repeat] tuple per zone, concatenated in
// caller order. The device visits zones in array order, so order is
// preserved. Overlapping zones are legal; the device just re-cleans the
// overlap. Zones outside known map bounds produce warnings rather than a
// rejection since the device itself refuses out-of-map zones; when bounds
// is nil only the protocol coordinate guard applies.
func EncodeZones(zones []Zone, bounds *MapBounds) ([][]int, []Anomaly, error) {
	if len(zones) == 0 {
		return nil, nil, fmt.Errorf("no zones given")
	}

	var warnings []Anomaly
	wire := make([][]int, 0, len(zones))
	for i, z := range zones {
		if z.X1 >= z.X2 || z.Y1 >= z.Y2 {
			return nil, nil, fmt.Errorf("zone %d: rectangle not well-formed (%d,%d)-(%d,%d)", i, z.X1, z.Y1, z.X2, z.Y2)
		}
		if z.Repeat < 1 || z.Repeat > MaxZoneRepeat {
			return nil, nil, fmt.Errorf("zone %d: repeat %d outside 1..%d", i, z.Repeat, MaxZoneRepeat)
		}
		for _, coord := range []int{z.X1, z.Y1, z.X2, z.Y2} {
			if coord < -zoneCoordLimit || coord > zoneCoordLimit {
				return nil, nil, fmt.Errorf("zone %d: coordinate %d outside protocol range", i, coord)
			}
		}
		if bounds != nil {
			if z.X1 < bounds.MinX || z.Y1 < bounds.MinY || z.X2 > bounds.MaxX || z.Y2 > bounds.MaxY {
				warnings = append(warnings, Anomaly{
					Field:  "zone",
					Raw:    z,
					Reason: fmt.Sprintf("zone %d extends beyond known map bounds", i),
				})
			}
		}
		wire = append(wire, []int{z.X1, z.Y1, z.X2, z.Y2, z.Repeat})
	}
	return wire, warnings, nil
}
