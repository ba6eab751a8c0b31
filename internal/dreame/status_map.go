package dreame

import "fmt"

// Run-state codes reported in MIoT siid 3, piid 2 (dreame.vacuum.mc1808).
var vacuumStates = map[int]State{
	1: StateCleaning,
	2: StateIdle,
	3: StatePaused,
	4: StateError,
	5: StateReturning,
	6: StateCharging,
}

var fanSpeedNames = map[FanSpeed]string{
	FanSpeedSilent:   "Silent",
	FanSpeedStandard: "Standard",
	FanSpeedMedium:   "Medium",
	FanSpeedTurbo:    "Turbo",
}

var fanSpeedCodes = map[string]FanSpeed{
	"Silent":   FanSpeedSilent,
	"Standard": FanSpeedStandard,
	"Medium":   FanSpeedMedium,
	// Some frontends label code 2 Strong; accept both spellings.
	"Strong": FanSpeedMedium,
	"Turbo":  FanSpeedTurbo,
}

func fanSpeedName(code FanSpeed) string {
	if name, ok := fanSpeedNames[code]; ok {
		return name
	}
	return "Unknown"
}

// Fault is a mapped device fault code.
type Fault struct {
	Code     int
	Message  string
	Severity Severity
}

// Device fault codes from MIoT siid 3, piid 1. Sensor and obstruction
// faults that stop the robot are critical; full/empty/low conditions the
// user clears in passing are warnings.
var faults = map[int]Fault{
	1:  {1, "Wheel drop", SeverityCritical},
	2:  {2, "Cliff sensor", SeverityCritical},
	3:  {3, "Bumper stuck", SeverityCritical},
	4:  {4, "Gesture detected", SeverityWarning},
	5:  {5, "Bumper stuck repeatedly", SeverityCritical},
	6:  {6, "Wheel drop repeatedly", SeverityCritical},
	7:  {7, "Optical flow sensor", SeverityCritical},
	8:  {8, "Dust box missing", SeverityWarning},
	9:  {9, "Water tank missing", SeverityWarning},
	10: {10, "Water tank empty", SeverityWarning},
	11: {11, "Dust box full", SeverityWarning},
	12: {12, "Main brush jammed", SeverityCritical},
	13: {13, "Side brush jammed", SeverityCritical},
	14: {14, "Fan blocked", SeverityCritical},
	15: {15, "Left wheel motor", SeverityCritical},
	16: {16, "Right wheel motor", SeverityCritical},
	17: {17, "Stuck while turning", SeverityCritical},
	18: {18, "Stuck while advancing", SeverityCritical},
	19: {19, "Charger contact", SeverityWarning},
	20: {20, "Battery low", SeverityWarning},
	21: {21, "Charging fault", SeverityCritical},
	22: {22, "Battery percentage fault", SeverityWarning},
	23: {23, "Heartbeat lost", SeverityCritical},
	24: {24, "Camera occluded", SeverityCritical},
	25: {25, "Camera fault", SeverityCritical},
	26: {26, "Battery event", SeverityCritical},
	27: {27, "Forward-looking sensor", SeverityCritical},
	28: {28, "Gyroscope fault", SeverityCritical},
}

// MapFault looks up a device fault code. Unmapped codes fall back to a
// warning; firmware updates grow the code space and an undocumented code
// must never turn into a lookup failure.
func MapFault(code int) Fault {
	if f, ok := faults[code]; ok {
		return f
	}
	return Fault{Code: code, Message: fmt.Sprintf("Unknown error %d", code), Severity: SeverityWarning}
}
