package dreame

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MIoT wire shapes for the dreame.vacuum.mc1808. The did field is an echo
// tag: the device copies it back in each result row, which is how rows are
// matched to properties.

type propertyRef struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

type propertyResult struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Code  int    `json:"code"`
	Value any    `json:"value"`
}

type propertyWrite struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

type actionParam struct {
	PIID  int `json:"piid"`
	Value any `json:"value"`
}

type actionRequest struct {
	DID  string        `json:"did"`
	SIID int           `json:"siid"`
	AIID int           `json:"aiid"`
	In   []actionParam `json:"in"`
}

type actionResult struct {
	Code int   `json:"code"`
	Out  []any `json:"out"`
}

// statusProperties is the full poll set. Property ids from the device's
// published MIoT spec.
var statusProperties = []propertyRef{
	{DID: "battery", SIID: 2, PIID: 1},
	{DID: "charge_state", SIID: 2, PIID: 2},
	{DID: "fault", SIID: 3, PIID: 1},
	{DID: "status", SIID: 3, PIID: 2},
	{DID: "operating_mode", SIID: 18, PIID: 1},
	{DID: "cleaning_time", SIID: 18, PIID: 2},
	{DID: "cleaning_area", SIID: 18, PIID: 3},
	{DID: "fan_speed", SIID: 18, PIID: 6},
	{DID: "total_clean_count", SIID: 18, PIID: 14},
	{DID: "total_area", SIID: 18, PIID: 15},
	{DID: "main_brush_time_left", SIID: 26, PIID: 1},
	{DID: "main_brush_life_level", SIID: 26, PIID: 2},
	{DID: "filter_life_level", SIID: 27, PIID: 1},
	{DID: "filter_time_left", SIID: 27, PIID: 2},
	{DID: "side_brush_time_left", SIID: 28, PIID: 1},
	{DID: "side_brush_life_level", SIID: 28, PIID: 2},
}

// parseDeviceStatus turns a get_properties result into a typed snapshot.
// Rows with a non-zero code are treated as absent; the device answers
// per-property, not all-or-nothing. Numeric values arrive as JSON numbers
// or strings depending on firmware, so both are coerced.
func parseDeviceStatus(raw json.RawMessage) (DeviceStatus, error) {
	var rows []propertyResult
	if err := json.Unmarshal(raw, &rows); err != nil {
		return DeviceStatus{}, fmt.Errorf("parse get_properties result: %w", err)
	}

	var status DeviceStatus
	for _, row := range rows {
		if row.Code != 0 {
			continue
		}
		switch row.DID {
		case "battery":
			status.Battery = intField(row.Value)
		case "charge_state":
			status.ChargeState = intField(row.Value)
		case "fault":
			status.Fault = intField(row.Value)
		case "status":
			status.Status = intField(row.Value)
		case "operating_mode":
			status.OperatingMode = intField(row.Value)
		case "cleaning_time":
			status.CleaningTime = stringField(row.Value)
		case "cleaning_area":
			status.CleaningArea = stringField(row.Value)
		case "fan_speed":
			status.FanSpeed = intField(row.Value)
		case "total_clean_count":
			status.TotalCleanCount = intField(row.Value)
		case "total_area":
			status.TotalArea = intField(row.Value)
		case "main_brush_time_left":
			status.MainBrushTimeLeft = intField(row.Value)
		case "main_brush_life_level":
			status.MainBrushLifeLevel = intField(row.Value)
		case "filter_life_level":
			status.FilterLifeLevel = intField(row.Value)
		case "filter_time_left":
			status.FilterTimeLeft = intField(row.Value)
		case "side_brush_time_left":
			status.SideBrushTimeLeft = intField(row.Value)
		case "side_brush_life_level":
			status.SideBrushLifeLevel = intField(row.Value)
		}
	}
	return status, nil
}

func intField(v any) *int {
	switch t := v.(type) {
	case float64:
		i := int(t)
		return &i
	case string:
		if i, err := strconv.Atoi(t); err == nil {
			return &i
		}
	case bool:
		i := 0
		if t {
			i = 1
		}
		return &i
	}
	return nil
}

func stringField(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	}
	return nil
}
