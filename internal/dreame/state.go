package dreame

import "time"

// Reduce folds one raw property snapshot into the published entity state.
// It is a pure function of its inputs: anomalies come back as values for
// the caller to log, and a raw snapshot missing its required fields yields
// the previous snapshot unchanged. Stale-but-valid state beats corrupt
// state. Staleness itself is the poller's concern; Reduce is only called
// for polls that reached the device.
func Reduce(prev Snapshot, raw DeviceStatus, now time.Time) (Snapshot, []Anomaly) {
	if raw.Status == nil || raw.Fault == nil || raw.Battery == nil {
		return prev, []Anomaly{{Field: "status", Raw: raw, Reason: "missing required fields"}}
	}

	var anomalies []Anomaly
	next := prev
	next.LastUpdated = now

	state, ok := vacuumStates[*raw.Status]
	if !ok {
		anomalies = append(anomalies, Anomaly{Field: "status", Raw: *raw.Status, Reason: "unknown run-state code"})
		state = prev.State
		if state == "" || state == StateUnavailable {
			state = StateIdle
		}
	}
	next.State = state
	next.FaultCode = nil
	next.FaultSeverity = ""
	next.FaultMessage = ""

	// A non-zero fault wins over whatever the run-state field claims.
	// Some firmware keeps reporting "cleaning" while faulted.
	if *raw.Fault != 0 {
		fault := MapFault(*raw.Fault)
		next.State = StateError
		code := fault.Code
		next.FaultCode = &code
		next.FaultSeverity = fault.Severity
		next.FaultMessage = fault.Message
	}

	battery := *raw.Battery
	if battery < 0 || battery > 100 {
		anomalies = append(anomalies, Anomaly{Field: "battery", Raw: battery, Reason: "out of range"})
		battery = clamp(battery, 0, 100)
	}
	next.Battery = battery

	if raw.FanSpeed != nil {
		speed := FanSpeed(*raw.FanSpeed)
		if _, ok := fanSpeedNames[speed]; ok {
			next.FanSpeed = speed
		} else {
			anomalies = append(anomalies, Anomaly{Field: "fan_speed", Raw: *raw.FanSpeed, Reason: "unknown fan speed code"})
		}
	}
	next.FanSpeedName = fanSpeedName(next.FanSpeed)

	if raw.CleaningTime != nil {
		next.CleaningTime = *raw.CleaningTime
	}
	if raw.CleaningArea != nil {
		next.CleaningArea = *raw.CleaningArea
	}
	if raw.TotalCleanCount != nil {
		next.TotalCleanCount = *raw.TotalCleanCount
	}

	next.MainBrush = reduceConsumable(next.MainBrush, raw.MainBrushTimeLeft, raw.MainBrushLifeLevel, "main_brush", &anomalies)
	next.SideBrush = reduceConsumable(next.SideBrush, raw.SideBrushTimeLeft, raw.SideBrushLifeLevel, "side_brush", &anomalies)
	next.Filter = reduceConsumable(next.Filter, raw.FilterTimeLeft, raw.FilterLifeLevel, "filter", &anomalies)

	return next, anomalies
}

func reduceConsumable(prev Consumable, timeLeft, lifeLevel *int, field string, anomalies *[]Anomaly) Consumable {
	next := prev
	if timeLeft != nil {
		next.TimeLeftHours = *timeLeft
	}
	if lifeLevel != nil {
		level := *lifeLevel
		if level < 0 || level > 100 {
			*anomalies = append(*anomalies, Anomaly{Field: field, Raw: level, Reason: "life level out of range"})
			level = clamp(level, 0, 100)
		}
		next.LifePercent = level
	}
	return next
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
