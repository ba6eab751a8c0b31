package dreame

import "time"

// State is the canonical entity state published to the host platform.
type State string

const (
	StateIdle        State = "idle"
	StateCleaning    State = "cleaning"
	StatePaused      State = "paused"
	StateReturning   State = "returning"
	StateCharging    State = "charging"
	StateError       State = "error"
	StateUnavailable State = "unavailable"
)

// Severity classifies a device fault.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// FanSpeed is the device fan speed code (MIoT siid 18, piid 6).
type FanSpeed int

const (
	FanSpeedSilent   FanSpeed = 0
	FanSpeedStandard FanSpeed = 1
	FanSpeedMedium   FanSpeed = 2
	FanSpeedTurbo    FanSpeed = 3
)

// DeviceStatus is one raw property snapshot as returned by a
// get_properties round trip. Fields are pointers so a property the device
// omitted (or answered with a non-zero row code) stays distinguishable
// from a genuine zero value. A DeviceStatus is immutable once parsed and
// is superseded wholesale by the next poll.
type DeviceStatus struct {
	Battery     *int
	ChargeState *int
	Fault       *int
	Status      *int

	OperatingMode *int
	CleaningTime  *string
	CleaningArea  *string
	FanSpeed      *int

	TotalCleanCount *int
	TotalArea       *int

	MainBrushTimeLeft  *int
	MainBrushLifeLevel *int
	FilterLifeLevel    *int
	FilterTimeLeft     *int
	SideBrushTimeLeft  *int
	SideBrushLifeLevel *int
}

// Consumable reports remaining life for one wearing part.
type Consumable struct {
	TimeLeftHours int `json:"time_left_hours"`
	LifePercent   int `json:"life_percent"`
}

// Snapshot is the published, read-only view of current device state.
// It is replaced wholesale on every reduce; readers never see a partial
// update. FaultCode is set exactly when State == StateError.
type Snapshot struct {
	State         State    `json:"state"`
	Battery       int      `json:"battery"`
	FanSpeed      FanSpeed `json:"fan_speed"`
	FanSpeedName  string   `json:"fan_speed_name"`
	FaultCode     *int     `json:"fault_code,omitempty"`
	FaultSeverity Severity `json:"fault_severity,omitempty"`
	FaultMessage  string   `json:"fault_message,omitempty"`

	CleaningTime    string `json:"cleaning_time,omitempty"`
	CleaningArea    string `json:"cleaning_area,omitempty"`
	TotalCleanCount int    `json:"total_clean_count"`

	MainBrush Consumable `json:"main_brush"`
	SideBrush Consumable `json:"side_brush"`
	Filter    Consumable `json:"filter"`

	LastUpdated time.Time `json:"last_updated"`
}

// Zone is a rectangular cleaning region in device map coordinates
// (millimetres relative to the dock), cleaned Repeat times.
type Zone struct {
	X1     int `json:"x1"`
	Y1     int `json:"y1"`
	X2     int `json:"x2"`
	Y2     int `json:"y2"`
	Repeat int `json:"repeat"`
}

// Anomaly records an out-of-range or malformed poll field. Anomalies are
// returned by the reducer instead of logged so the reducer stays a pure
// function; the poller logs and counts them.
type Anomaly struct {
	Field  string
	Raw    any
	Reason string
}
